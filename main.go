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

package main

import (
	"os"

	"github.com/andy0130tw/sshfs/doc"
	"github.com/andy0130tw/sshfs/pkg/cli"

	"github.com/andy0130tw/sshfs/cmd/cachectl"
	"github.com/andy0130tw/sshfs/cmd/mount"
)

func main() {
	var commands cli.Commands

	commands = append(commands, mount.MountCmd)
	commands = append(commands, cachectl.CacheCtlCmd)

	// Documentation pseudo-commands.
	commands = append(commands, doc.ArchitectureCmd)
	commands = append(commands, doc.CachingCmd)

	abstract := "Sshfs mounts remote directories over the SSH file transfer protocol."
	if err := cli.Process(abstract, commands); err != nil {
		os.Exit(1)
	}
}
