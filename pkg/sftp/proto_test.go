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
package sftp

import "testing"

func TestOpNameLookup(t *testing.T) {
	cases := []struct {
		op   uint8
		want string
	}{
		{OpRead, "read"},
		{OpName, "name"},
		{OpExtendedReply, "extended-reply"},
		{255, "unknown"},
	}
	for _, c := range cases {
		if got := opName(c.op); got != c.want {
			t.Errorf("opName(%d) = %q, want %q", c.op, got, c.want)
		}
	}
}
