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

// Package server implements the commands that run and inspect the
// nodectl control-plane server.
package server

import (
	"errors"
	"os"

	"github.com/tombee/nodectl/internal/commands/shared"
	"github.com/tombee/nodectl/internal/config"
)

// processName guards stop against signalling a process that reused a
// stale pid.
var processName = "nodectl"

// loadConfig loads the file named by --config, or the default config file
// when it exists.
func loadConfig() (*config.Config, error) {
	path := shared.GetConfigPath()
	if path == "" {
		if def, err := config.ConfigPath(); err == nil {
			if _, err := os.Stat(def); err == nil {
				path = def
			} else if !errors.Is(err, os.ErrNotExist) {
				return nil, shared.NewConfigError("failed to load configuration", err)
			}
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, shared.NewConfigError("failed to load configuration", err)
	}
	return cfg, nil
}
