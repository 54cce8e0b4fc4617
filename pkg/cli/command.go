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

// Package cli builds git-style command-line interfaces: one program name
// followed by a sub-command ('sshfs mount ...', 'sshfs cachectl ...'), plus
// documentation pseudo-commands reachable through 'sshfs help <topic>'.
//
// Commands register no init-time global state; the caller assembles the
// command list and hands it to Process:
//
//	var commands cli.Commands
//	commands = append(commands, mount.MountCmd)
//	commands = append(commands, cachectl.CacheCtlCmd)
//	commands = append(commands, doc.ArchitectureCmd)
//
//	abstract := "Sshfs mounts directories over the SSH file transfer protocol."
//	if err := cli.Process(abstract, commands); err != nil {
//		os.Exit(1)
//	}
package cli

import (
	"flag"
	"strings"
)

// A Command is one sub-command of the program. A Command with a nil Run is a
// documentation topic: it shows up under 'help' but cannot be executed.
type Command struct {
	// Run executes the command with the arguments that followed its name.
	// Flag parsing failures should be wrapped with ParseError so Process can
	// print usage instead of propagating them.
	Run func(cmd *Command, args []string) error

	// UsageLine is the one-line usage message. Its first word is taken as
	// the command name.
	UsageLine string

	// Short is the description listed in the top-level help output.
	Short string

	// Long is the full description shown by 'help <command>'.
	Long string

	// FlagSet holds the command's flags. Its own output is suppressed;
	// Process renders flag errors together with the usage text.
	FlagSet flag.FlagSet
}

// Commands is the ordered list handed to Process.
type Commands []*Command

// Name returns the first word of the usage line.
func (c *Command) Name() string {
	name := c.UsageLine
	if i := strings.Index(name, " "); i >= 0 {
		name = name[:i]
	}
	return name
}

// Runnable reports whether the command executes, as opposed to being a help
// topic.
func (c *Command) Runnable() bool {
	return c.Run != nil
}

type parseError struct{ err error }

func (p parseError) Error() string { return p.err.Error() }

// ParseError marks err as a flag-parsing failure. Process prints the
// command's usage for these rather than treating them as execution errors.
func ParseError(err error) error {
	return parseError{err: err}
}
