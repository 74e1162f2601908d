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

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.uber.org/zap"

	"github.com/daviszhen/unnest/pkg/plan"
	"github.com/daviszhen/unnest/pkg/util"
)

func init() {
	cobra.OnInitialize(loadConfig)
	initRewriteCmd()
}

var testerCfg = &util.Config{}

///root cmd

var info = "tester"
var RootCmd = &cobra.Command{
	Use:          "tester",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use tester --help or -h")
	},
}

func initDebugOptions() {
	testerCfg.Debug.EnableDebugLog = viper.GetBool("debug.enableDebugLog")
	testerCfg.Debug.PrintInput = viper.GetBool("debug.printInput")
	testerCfg.Debug.PrintPlan = viper.GetBool("debug.printPlan")
	testerCfg.Debug.PrintMetadata = viper.GetBool("debug.printMetadata")
}

//rewrite cmd

var rewriteInfo = "rewrite subqueries in the demo plans"
var rewriteCmd = &cobra.Command{
	Use:   "rewrite",
	Short: rewriteInfo,
	Long:  rewriteInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		initRewriteCfg()
		return plan.Run(testerCfg)
	},
}

func initRewriteCfg() {
	initDebugOptions()
	testerCfg.Rewrite.Scenario = viper.GetString("rewrite.scenario")
}

func initRewriteCmd() {
	RootCmd.AddCommand(rewriteCmd)
	rewriteCmd.Flags().StringVar(&testerCfg.Rewrite.Scenario, "scenario", "", "scenario name. empty runs all")
	rewriteCmd.Flags().BoolVar(&testerCfg.Debug.PrintInput, "print_input", true, "print the input plan")
	rewriteCmd.Flags().BoolVar(&testerCfg.Debug.PrintPlan, "print_plan", true, "print the rewritten plan")
	rewriteCmd.Flags().BoolVar(&testerCfg.Debug.PrintMetadata, "print_metadata", false, "print the column metadata")

	viper.BindPFlag("rewrite.scenario", rewriteCmd.Flags().Lookup("scenario"))
	viper.BindPFlag("debug.printInput", rewriteCmd.Flags().Lookup("print_input"))
	viper.BindPFlag("debug.printPlan", rewriteCmd.Flags().Lookup("print_plan"))
	viper.BindPFlag("debug.printMetadata", rewriteCmd.Flags().Lookup("print_metadata"))
}

var defCfgFilePaths = []string{".", "etc"}
var cfgFileName = "tester.toml"

func loadConfig() {
	has := false
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			viper.SetConfigFile(fpath)
			err := viper.ReadInConfig()
			if err != nil {
				util.Error("viper load config file failed",
					zap.String("fpath", fpath),
					zap.Error(err))
				continue
			}
			has = true
			break
		}
	}
	if !has {
		util.Warn("tester.toml does not exist. using flags only")
	}
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		util.Error("tester failed", zap.Error(err))
		os.Exit(1)
	}
}
