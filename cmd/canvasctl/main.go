// Copyright 2025 CanvasFlow
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

// Package main implements canvasctl, the command-line client for the
// CanvasFlow orchestrator.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var server string

	root := &cobra.Command{
		Use:          "canvasctl",
		Short:        "CanvasFlow CLI tool",
		Long:         `canvasctl sends commands to a CanvasFlow orchestrator and inspects its providers.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&server, "server", "s", envOr("CANVASFLOW_URL", "http://localhost:8081"), "Orchestrator base URL")

	root.AddCommand(execCmd(&server))
	root.AddCommand(statusCmd(&server))
	root.AddCommand(canvasCmd(&server))
	root.AddCommand(classifyCmd())
	root.AddCommand(configCmd())
	root.AddCommand(watchCmd())

	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
