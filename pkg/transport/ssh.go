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

package transport

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig describes how to reach the remote sftp subsystem.
type SSHConfig struct {
	// Addr is the host:port of the SSH server.
	Addr string
	// User is the login name.
	User string
	// Auth holds the authentication methods to offer, in order.
	Auth []ssh.AuthMethod
	// HostKeyCallback verifies the server's host key. Required; use
	// ssh.InsecureIgnoreHostKey only for testing.
	HostKeyCallback ssh.HostKeyCallback
	// Subsystem overrides the subsystem name. Defaults to "sftp".
	Subsystem string
}

// DialSSH connects to an SSH server, starts the sftp subsystem and returns
// the subsystem's stdio as a frame channel. Closing the channel tears down
// the session and the SSH connection.
func DialSSH(cfg SSHConfig) (Channel, error) {
	subsystem := cfg.Subsystem
	if subsystem == "" {
		subsystem = "sftp"
	}

	client, err := ssh.Dial("tcp", cfg.Addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            cfg.Auth,
		HostKeyCallback: cfg.HostKeyCallback,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", cfg.Addr, err)
	}

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("transport: open session: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, err
	}

	if err := sess.RequestSubsystem(subsystem); err != nil {
		sess.Close()
		client.Close()
		return nil, fmt.Errorf("transport: request subsystem %q: %w", subsystem, err)
	}

	return NewStream(stdout, stdin, sess, client), nil
}

// IdentityFile loads a private key file and returns it as an auth method.
func IdentityFile(path string) (ssh.AuthMethod, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transport: read identity %s: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("transport: parse identity %s: %w", path, err)
	}
	return ssh.PublicKeys(signer), nil
}

// KnownHosts builds a host key verifier from an OpenSSH known_hosts file.
func KnownHosts(path string) (ssh.HostKeyCallback, error) {
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("transport: load known hosts %s: %w", path, err)
	}
	return cb, nil
}

// AgentAuth returns an auth method backed by the SSH agent named by
// SSH_AUTH_SOCK, if one is reachable.
func AgentAuth() (ssh.AuthMethod, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("transport: SSH_AUTH_SOCK not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("transport: dial agent: %w", err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), nil
}
