// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lifecycle

import (
	"path/filepath"
	"strings"
)

// containsWord matches name against the base name of every argument in
// cmd, so "nodectl" matches "/usr/local/bin/nodectl serve" but not
// "nodectl-test-helper".
func containsWord(cmd, name string) bool {
	for _, field := range strings.Fields(cmd) {
		if filepath.Base(field) == name {
			return true
		}
	}
	return false
}
