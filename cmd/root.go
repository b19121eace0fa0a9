// Copyright 2024 Google Inc. All Rights Reserved.
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

// Package cmd wires the cobra/viper command surface: "bfs serve" mounts a
// formatted device and runs the RPC server, "bfs mkfs" formats one.
package cmd

import (
	"fmt"
	"os"

	"github.com/blockvault/bfs/cfg"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	bindErr      error
	configFileErr error
	unmarshalErr error
	MountConfig  cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "bfs",
	Short: "bfs is an authenticated, confidential, network-accessible encrypted filesystem server",
	Long: `bfs serves an ext2/3-style filesystem object layer over an encrypted,
Merkle-tree-integrity-protected block device, reachable over an
AEAD-sealed RPC wire protocol.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		return MountConfig.Validate()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to the YAML config file.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mkfsCmd)
}

func initConfig() {
	viper.SetConfigType("yaml")
	// cfg.Config's fields are tagged with the same names BindFlags uses
	// as viper keys, so decode by the yaml tag.
	byYAMLTag := func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&MountConfig, viper.DecodeHook(cfg.DecodeHook()), byYAMLTag)
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&MountConfig, viper.DecodeHook(cfg.DecodeHook()), byYAMLTag)
}
