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
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/andy0130tw/sshfs/pkg/dcache"
	"github.com/andy0130tw/sshfs/pkg/fusefs"
	"github.com/andy0130tw/sshfs/pkg/metrics"
	"github.com/andy0130tw/sshfs/pkg/sftp"
	"github.com/andy0130tw/sshfs/pkg/transport"
)

func run(cfg config) error {
	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ch, err := dial(cfg)
	if err != nil {
		return err
	}

	cl := sftp.NewClient(ch, sftp.Config{
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err := cl.Negotiate(context.Background()); err != nil {
		ch.Close()
		return fmt.Errorf("negotiate: %w", err)
	}

	cache := dcache.New(cfg.CacheEntries)
	if cfg.CacheImage != "" {
		cache.LoadFile(cfg.CacheImage, logger)
	}

	d := fusefs.NewDispatcher(cl, cache, fusefs.Config{
		RemoteRoot: cfg.RemoteDir,
		Logger:     logger,
		Window:     cfg.Window,
		ChunkSize:  cfg.ChunkSize,
	})

	if cfg.DebugAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			logger.Info("serving debug endpoints", zap.String("addr", cfg.DebugAddr))
			if err := http.ListenAndServe(cfg.DebugAddr, mux); err != nil {
				logger.Warn("debug server stopped", zap.Error(err))
			}
		}()
	}

	mountOpts := []fuse.MountOption{
		fuse.FSName(fmt.Sprintf("sshfs:%s:%s", cfg.Host, cfg.RemoteDir)),
		fuse.Subtype("sshfs"),
	}
	if cfg.ReadOnly {
		mountOpts = append(mountOpts, fuse.ReadOnly())
	}
	conn, err := fuse.Mount(cfg.Mountpoint, mountOpts...)
	if err != nil {
		d.Close()
		return fmt.Errorf("mount %s: %w", cfg.Mountpoint, err)
	}
	defer conn.Close()

	// A signal unmounts; unmounting ends Serve.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		logger.Info("unmounting on signal", zap.String("signal", s.String()))
		if err := fuse.Unmount(cfg.Mountpoint); err != nil {
			logger.Warn("unmount failed", zap.Error(err))
		}
	}()

	logger.Info("mounted",
		zap.String("host", cfg.Host),
		zap.String("remote_dir", cfg.RemoteDir),
		zap.String("mountpoint", cfg.Mountpoint))

	serveErr := fs.Serve(conn, fusefs.NewFS(d))

	if cfg.CacheImage != "" {
		note := fmt.Sprintf("%s:%s", cfg.Host, cfg.RemoteDir)
		if err := cache.SaveFile(cfg.CacheImage, note); err != nil {
			logger.Warn("saving cache image failed", zap.Error(err))
		} else {
			logger.Info("cache image saved",
				zap.String("path", cfg.CacheImage),
				zap.Int("entries", cache.Len()))
		}
	}
	if err := d.Close(); err != nil {
		logger.Warn("closing session", zap.Error(err))
	}
	return serveErr
}

func dial(cfg config) (transport.Channel, error) {
	var auth []ssh.AuthMethod
	if cfg.IdentityFile != "" {
		m, err := transport.IdentityFile(cfg.IdentityFile)
		if err != nil {
			return nil, err
		}
		auth = append(auth, m)
	}
	if m, err := transport.AgentAuth(); err == nil {
		auth = append(auth, m)
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no usable authentication: give -identity or start an ssh agent")
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if !cfg.Insecure {
		cb, err := transport.KnownHosts(cfg.KnownHosts)
		if err != nil {
			return nil, err
		}
		hostKeys = cb
	}

	return transport.DialSSH(transport.SSHConfig{
		Addr:            fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
	})
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	c := zap.NewProductionConfig()
	c.OutputPaths = []string{"stderr"}
	return c.Build()
}

func unmountPath(mountpoint string) error {
	return fuse.Unmount(mountpoint)
}
