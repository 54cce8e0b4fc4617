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

package doc

import "github.com/andy0130tw/sshfs/pkg/cli"

var CachingCmd = &cli.Command{
	UsageLine: "caching",
	Short:     "what the directory cache promises and what it does not",
	Long: `
The directory cache remembers, per remote path, one of three things: a
stat result, a symlink target, or a completed child listing. Entries are
trusted until this process itself makes them stale; a write, rename,
remove or setattr drops the affected entries before its result is
reported. Renaming or removing a directory drops the whole cached
subtree on both the old and the new name.

What the cache does not promise: coherence with other clients of the
same remote tree. Another machine changing a file behind a cached stat
goes unnoticed until the entry is evicted or invalidated locally. That
trade is what makes repeated lookups free.

With -cache-image the cache is written to disk at unmount and read back
at mount. The image is self-describing; one written by a build with a
different format version, or truncated on disk, is discarded in full and
the mount starts cold, which is always safe. 'sshfs cachectl' inspects
and prunes images offline.
`,
}
