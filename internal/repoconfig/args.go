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

package repoconfig

import (
	"strconv"
	"strings"
)

// InitFlags are the knobs of the init subcommand.
type InitFlags struct {
	Bits      int
	Algorithm string
	EmptyRepo bool
	Profiles  []string
}

// InitArgs builds the argument list for `<exec> init`.
func InitArgs(f InitFlags) []string {
	args := []string{"init"}
	if f.Bits > 0 {
		args = append(args, "--bits", strconv.Itoa(f.Bits))
	}
	if f.Algorithm != "" {
		args = append(args, "--algorithm", f.Algorithm)
	}
	if f.EmptyRepo {
		args = append(args, "--empty-repo")
	}
	if profiles := nonEmpty(f.Profiles); len(profiles) > 0 {
		args = append(args, "--profile", strings.Join(profiles, ","))
	}
	return args
}

// DaemonFlags are the knobs of the daemon subcommand. Args are passed
// through verbatim before the generated flags.
type DaemonFlags struct {
	Args       []string
	Offline    bool
	Pubsub     bool
	IPNSPubsub bool
	Migrate    bool
}

// DaemonArgs builds the argument list for `<exec> daemon`. Flags already
// present in Args are not repeated.
func DaemonArgs(f DaemonFlags) []string {
	args := append([]string{"daemon"}, f.Args...)
	add := func(on bool, flag string) {
		if on && !contains(f.Args, flag) {
			args = append(args, flag)
		}
	}
	add(f.Offline, "--offline")
	add(f.Pubsub, "--enable-pubsub-experiment")
	add(f.IPNSPubsub, "--enable-namesys-pubsub")
	add(f.Migrate, "--migrate")
	return args
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func contains(args []string, flag string) bool {
	for _, a := range args {
		if a == flag || strings.HasPrefix(a, flag+"=") {
			return true
		}
	}
	return false
}
