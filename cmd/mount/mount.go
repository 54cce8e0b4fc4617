// Copyright 2026 The Sshfs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mount

import (
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andy0130tw/sshfs/pkg/cli"
)

var MountCmd = &cli.Command{
	Run:       mountCmdRun,
	UsageLine: "mount [flags] [user@]host[:port]:remote-dir mountpoint",
	Short:     "mount a remote directory over the SSH file transfer protocol",
	Long: `
Mount connects to an SSH server, starts its file transfer subsystem and
exposes the chosen remote directory as a local filesystem. Attribute,
symlink and listing lookups are answered from a local cache that can be
persisted across mounts with -cache-image.

Authentication tries, in order: the identity file given with -identity,
then the agent named by SSH_AUTH_SOCK. Host keys are verified against
the known_hosts file unless -insecure is given.

Settings may also be read from a YAML file via -config; flags take
precedence over the file.
    `,
}

// config is the merged settings for one mount, from the YAML file (if any)
// with flag overrides on top.
type config struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	RemoteDir      string        `yaml:"remote_dir"`
	Mountpoint     string        `yaml:"mountpoint"`
	IdentityFile   string        `yaml:"identity_file"`
	KnownHosts     string        `yaml:"known_hosts"`
	Insecure       bool          `yaml:"insecure"`
	ReadOnly       bool          `yaml:"read_only"`
	CacheImage     string        `yaml:"cache_image"`
	CacheEntries   int           `yaml:"cache_entries"`
	Window         int           `yaml:"window"`
	ChunkSize      uint32        `yaml:"chunk_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	DebugAddr      string        `yaml:"debug_addr"`
	Verbose        bool          `yaml:"verbose"`
}

func mountCmdRun(cmd *cli.Command, args []string) error {
	var (
		configPath string
		unmount    bool
		cfg        config
	)
	cmd.FlagSet.StringVar(&configPath, "config", "", "YAML file with mount settings")
	cmd.FlagSet.BoolVar(&unmount, "unmount", false, "Unmount the given mountpoint and exit")
	cmd.FlagSet.StringVar(&cfg.IdentityFile, "identity", "", "Private key file for authentication")
	cmd.FlagSet.StringVar(&cfg.KnownHosts, "known-hosts", "", "known_hosts file for host key verification (default ~/.ssh/known_hosts)")
	cmd.FlagSet.BoolVar(&cfg.Insecure, "insecure", false, "Skip host key verification")
	cmd.FlagSet.BoolVar(&cfg.ReadOnly, "read-only", false, "Mount read-only")
	cmd.FlagSet.StringVar(&cfg.CacheImage, "cache-image", "", "File the directory cache is loaded from and saved to")
	cmd.FlagSet.IntVar(&cfg.CacheEntries, "cache-entries", 65536, "Directory cache capacity in entries, 0 for unbounded")
	cmd.FlagSet.IntVar(&cfg.Window, "window", 4, "Outstanding chunk requests per transfer")
	var chunkSize uint
	cmd.FlagSet.UintVar(&chunkSize, "chunk-size", 0, "Transfer chunk size cap in bytes, 0 for the server limit")
	cmd.FlagSet.DurationVar(&cfg.RequestTimeout, "timeout", 30*time.Second, "Per-request timeout, 0 to wait forever")
	cmd.FlagSet.StringVar(&cfg.DebugAddr, "debug-addr", "", "Address to serve metrics on, empty to disable")
	cmd.FlagSet.BoolVar(&cfg.Verbose, "verbose", false, "Log at debug level")
	if err := cmd.FlagSet.Parse(args); err != nil {
		return cli.ParseError(err)
	}

	if configPath != "" {
		if err := loadConfigFile(configPath, &cfg); err != nil {
			return err
		}
		// Flags beat the file: a second pass re-applies exactly the flags
		// that were given on the command line.
		if err := cmd.FlagSet.Parse(args); err != nil {
			return cli.ParseError(err)
		}
	}
	cfg.ChunkSize = uint32(chunkSize)

	rest := cmd.FlagSet.Args()
	if unmount {
		if len(rest) != 1 {
			return fmt.Errorf("mount -unmount needs exactly one mountpoint argument")
		}
		return unmountPath(rest[0])
	}

	switch len(rest) {
	case 0:
		// Target and mountpoint must come from the config file.
		if cfg.Host == "" || cfg.Mountpoint == "" {
			return fmt.Errorf("no target given; pass [user@]host[:port]:remote-dir and a mountpoint, or -config")
		}
	case 2:
		if err := parseTarget(rest[0], &cfg); err != nil {
			return err
		}
		cfg.Mountpoint = rest[1]
	default:
		return fmt.Errorf("expected [user@]host[:port]:remote-dir and a mountpoint, got %d arguments", len(rest))
	}
	applyDefaults(&cfg)

	return run(cfg)
}

// parseTarget splits "user@host:port:/dir" forms into the config. The last
// colon-separated element is the remote directory; an all-digit middle
// element is the port.
func parseTarget(target string, cfg *config) error {
	if at := strings.Index(target, "@"); at >= 0 {
		cfg.User = target[:at]
		target = target[at+1:]
	}
	host, rest, ok := strings.Cut(target, ":")
	if !ok || host == "" {
		return fmt.Errorf("target %q: want [user@]host[:port]:remote-dir", target)
	}
	cfg.Host = host
	if port, dir, ok := strings.Cut(rest, ":"); ok {
		if _, err := fmt.Sscanf(port, "%d", &cfg.Port); err != nil {
			return fmt.Errorf("target port %q is not a number", port)
		}
		cfg.RemoteDir = dir
	} else {
		cfg.RemoteDir = rest
	}
	return nil
}

func loadConfigFile(path string, cfg *config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *config) {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.User == "" {
		if u, err := user.Current(); err == nil {
			cfg.User = u.Username
		}
	}
	if cfg.RemoteDir == "" {
		cfg.RemoteDir = "/"
	}
	if cfg.KnownHosts == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.KnownHosts = home + "/.ssh/known_hosts"
		}
	}
}
