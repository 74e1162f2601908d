// Copyright 2023-2024 daviszhen
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

package util

import "github.com/BurntSushi/toml"

type Rewrite struct {
	Scenario string `tag:"scenario"`
}

type DebugOptions struct {
	EnableDebugLog bool `tag:"enableDebugLog"`
	PrintInput     bool `tag:"printInput"`
	PrintPlan      bool `tag:"printPlan"`
	PrintMetadata  bool `tag:"printMetadata"`
}

type Config struct {
	Rewrite Rewrite      `tag:"rewrite"`
	Debug   DebugOptions `tag:"debug"`
}

func LoadConfig(fpath string) (*Config, error) {
	cfg := &Config{}
	_, err := toml.DecodeFile(fpath, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
