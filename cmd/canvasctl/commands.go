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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"canvasflow/platform/cmd/canvasctl/internal/client"
	"canvasflow/platform/common/usage"
	"canvasflow/platform/connectors/config"
	events "canvasflow/platform/connectors/redis"
	"canvasflow/platform/orchestrator/classifier"
	"canvasflow/platform/orchestrator/ratelimit"
)

// execCmd returns the command that runs one instruction against a canvas.
func execCmd(server *string) *cobra.Command {
	var canvasID string
	var selection []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "exec [instruction]",
		Short: "Run a natural-language command against a canvas",
		Long: `Run a natural-language command against a canvas and print the tool results.

Examples:
  canvasctl exec --canvas board-1 "create a red circle at 100,100"
  canvasctl exec --canvas board-1 --select 5f1c... "make it twice as big"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if canvasID == "" {
				return fmt.Errorf("--canvas is required")
			}
			resp, err := client.New(*server).Execute(cmd.Context(), client.CommandRequest{
				Text:      strings.Join(args, " "),
				CanvasID:  canvasID,
				Selection: selection,
			})
			if err != nil {
				var apiErr *client.APIError
				if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
					return fmt.Errorf("%w (retry in %ds)", err, apiErr.RetryAfter)
				}
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			printCommandResult(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	cmd.Flags().StringVarP(&canvasID, "canvas", "c", os.Getenv("CANVASFLOW_CANVAS"), "Target canvas ID (required)")
	cmd.Flags().StringSliceVar(&selection, "select", nil, "IDs of selected objects, in order")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw response")

	return cmd
}

func printCommandResult(w io.Writer, resp *client.CommandResponse) {
	provider := resp.ProviderUsed
	if resp.FellBack {
		provider += " (fallback)"
	}
	fmt.Fprintf(w, "Request:  %s\n", resp.RequestID)
	fmt.Fprintf(w, "Route:    %s via %s (%s)\n", resp.Classification, provider, resp.Rule)
	fmt.Fprintf(w, "Duration: %dms, cost %s\n", resp.DurationMS, usage.FormatMicroDollars(resp.CostMicros))
	if resp.Text != "" {
		fmt.Fprintf(w, "Reply:    %s\n", resp.Text)
	}
	for i, r := range resp.Results {
		status := "ok"
		if !r.Success && r.Error != nil {
			status = r.Error.Kind + ": " + r.Error.Message
		}
		fmt.Fprintf(w, "  %d. %s  %s\n", i+1, r.Tool, status)
	}
}

// statusCmd returns the command that shows provider health.
func statusCmd(server *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show provider health, circuit state and rate limit usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			providers, err := client.New(*server).ProviderStatus(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tTIER\tHEALTH\tLATENCY\tCIRCUIT\tFAILURES\tRATE")
			for _, p := range providers {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%s\t%d\t%d/%d\n",
					p.Name, p.Tier, p.Health.Status, p.Health.LastLatencyMS,
					p.Circuit.State, p.Circuit.ConsecutiveFailures,
					p.RateLimit.Count, p.RateLimit.Limit)
			}
			return tw.Flush()
		},
	}
}

// canvasCmd groups canvas management subcommands.
func canvasCmd(server *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "canvas",
		Short: "Manage canvases",
	}

	var id, name string
	var width, height float64
	create := &cobra.Command{
		Use:   "create",
		Short: "Register a canvas",
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := client.New(*server).CreateCanvas(cmd.Context(), id, name, width, height)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), created)
			return nil
		},
	}
	create.Flags().StringVar(&id, "id", "", "Canvas ID (generated when empty)")
	create.Flags().StringVar(&name, "name", "Untitled", "Display name")
	create.Flags().Float64Var(&width, "width", 1920, "Width in pixels")
	create.Flags().Float64Var(&height, "height", 1080, "Height in pixels")

	cmd.AddCommand(create)
	return cmd
}

// classifyCmd classifies locally, without contacting the server.
func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [instruction]",
		Short: "Show how an instruction would be routed",
		Long: `Show how an instruction would be routed, and which rule decided it.

Examples:
  canvasctl classify "create a red circle at 100,100"
  canvasctl classify "build a login form"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := classifier.Explain(strings.Join(args, " "))
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)", d.Classification, d.Rule)
			if len(d.Matched) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " matched: %s", strings.Join(d.Matched, ", "))
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}

// configCmd groups configuration helpers.
func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect orchestrator configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "example",
		Short: "Print an annotated example config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), config.ExampleConfig)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Load a config file with environment overrides and validate it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: fast=%s capable=%s storage=%s rate_limit=%s\n",
				cfg.Routing.Fast, cfg.Routing.Capable, cfg.Storage.Backend, cfg.RateLimit.Backend)
			return nil
		},
	})

	return cmd
}

// watchCmd streams change events for a canvas from Redis.
func watchCmd() *cobra.Command {
	var redisURL string

	cmd := &cobra.Command{
		Use:   "watch [canvas-id]",
		Short: "Stream change events for a canvas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if redisURL == "" {
				return fmt.Errorf("--redis or REDIS_URL is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, cmd.OutOrStdout(), redisURL, args[0])
		},
	}
	cmd.Flags().StringVar(&redisURL, "redis", os.Getenv("REDIS_URL"), "Redis URL of the event bus")
	return cmd
}

func watch(ctx context.Context, w io.Writer, redisURL, canvasID string) error {
	rdb, err := ratelimit.Connect(ctx, redisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	sub, err := events.Subscribe(ctx, rdb, canvasID)
	if err != nil {
		return err
	}
	defer sub.Close()

	fmt.Fprintf(w, "Watching %s (Ctrl-C to stop)\n", events.Channel(canvasID))
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Errors():
			return err
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			fmt.Fprintf(w, "%s  %s  %s\n", ev.At.Format("15:04:05.000"), ev.Type, ev.EntityID)
		}
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
