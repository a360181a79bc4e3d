// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package demo implements asyncxdemo, a small command-line program that
drives a processor.Processor against a batch of requests described in a
YAML configuration file, for manual exploration of the library's
redirect-following, retry, payload-offload, and draining behavior.
*/
package demo

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// RootCmd is the asyncxdemo command.
var RootCmd = &cobra.Command{
	Use:   "asyncxdemo",
	Short: "Drive the httpx async processor against a batch of requests",
	Long: `asyncxdemo reads a YAML configuration file describing a list of
requests and a processor configuration, runs every request through a
processor.Processor, and prints each outcome as it completes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Run(cfgFile)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "asyncxdemo.yaml", "path to the YAML config file")
}

// Execute runs RootCmd, exiting the process with status 1 on error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
