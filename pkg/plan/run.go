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

package plan

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/daviszhen/unnest/pkg/util"
)

// Run rewrites the configured scenario (or all of them) and prints the
// plans.
func Run(cfg *util.Config) error {
	if cfg.Debug.EnableDebugLog {
		util.EnableDebug()
	}
	scenarios := DemoScenarios()
	if len(cfg.Rewrite.Scenario) != 0 {
		sc, has := FindScenario(cfg.Rewrite.Scenario)
		if !has {
			return internalError("no scenario %s", cfg.Rewrite.Scenario)
		}
		scenarios = []Scenario{sc}
	}
	for _, sc := range scenarios {
		if err := runScenario(cfg, sc); err != nil {
			return err
		}
	}
	return nil
}

func runScenario(cfg *util.Config, sc Scenario) (err error) {
	defer func() {
		if rErr := recover(); rErr != nil {
			err = errors.Join(err, util.ConvertPanicError(rErr))
		}
	}()
	cat := NewDemoCatalog()
	input := sc.Build(cat)
	util.Info("rewrite scenario", zap.String("name", sc.Name))
	if cfg.Debug.PrintInput {
		fmt.Printf("=== %s: input ===\n%s\n", sc.Name, input.String())
	}
	out, err := RewriteSubqueries(cat.Metadata, input)
	if err != nil {
		return err
	}
	if cfg.Debug.PrintPlan {
		fmt.Printf("=== %s: rewritten ===\n%s\n", sc.Name, out.String())
	}
	if cfg.Debug.PrintMetadata {
		fmt.Printf("=== %s: metadata ===\n%s\n", sc.Name, cat.Metadata.String())
	}
	return nil
}
