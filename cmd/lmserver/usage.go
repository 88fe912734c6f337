package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/lmserver/pkg/cli"
	"mercator-hq/lmserver/pkg/config"
	"mercator-hq/lmserver/pkg/ledger"
)

var usageFlags struct {
	since  string
	model  string
	output string
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Summarize recorded usage",
	Long: `Summarize the usage ledger per model.

The ledger records one entry per forwarded Messages request when
ledger.enabled is set. --since accepts a duration relative to now (24h, 7d)
or an RFC 3339 timestamp.

Examples:
  # Everything recorded
  lmserver usage

  # The last week for one model
  lmserver usage --since 7d --model claude-sonnet-4

  # Prune entries outside the retention policy now
  lmserver usage prune`,
	RunE: runUsage,
}

var usagePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply the retention policy to the usage ledger",
	Args:  cobra.NoArgs,
	RunE:  runUsagePrune,
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.AddCommand(usagePruneCmd)

	usageCmd.Flags().StringVar(&usageFlags.since, "since", "", "only entries newer than this (duration like 24h or 7d, or RFC 3339)")
	usageCmd.Flags().StringVarP(&usageFlags.model, "model", "m", "", "only entries for this upstream model")
	usageCmd.Flags().StringVarP(&usageFlags.output, "output", "o", "text", "output format (text, json, yaml, csv)")
}

func runUsage(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(usageFlags.output)
	if err != nil {
		return cli.NewConfigError("output", err.Error())
	}
	since, err := parseSince(usageFlags.since, time.Now())
	if err != nil {
		return cli.NewConfigError("since", err.Error())
	}

	store, err := openLedger()
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.Summary(context.Background(), &ledger.Query{
		Since: since,
		Model: usageFlags.model,
	})
	if err != nil {
		return cli.NewCommandError("usage", err)
	}

	if err := cli.NewFormatter(format).FormatTo(os.Stdout, usageReport(summaries)); err != nil {
		return cli.NewCommandError("usage", err)
	}
	return nil
}

func runUsagePrune(cmd *cobra.Command, args []string) error {
	store, err := openLedger()
	if err != nil {
		return err
	}
	defer store.Close()

	cfg := config.GetConfig()
	deleted, err := ledger.NewPruner(store, cfg.Ledger.Retention).Prune(context.Background())
	if err != nil {
		return cli.NewCommandError("usage prune", err)
	}
	fmt.Printf("✓ Pruned %d entries\n", deleted)
	return nil
}

// openLedger opens the configured store. Reading does not require
// ledger.enabled, so usage recorded earlier stays inspectable.
func openLedger() (ledger.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if _, err := setupLogging(cfg.Telemetry.Logging); err != nil {
		return nil, err
	}
	if cfg.Ledger.Backend == ledger.BackendMemory {
		return nil, cli.NewConfigError("ledger.backend", "the memory backend does not persist usage between runs")
	}
	if !cfg.Ledger.Enabled {
		fmt.Fprintln(os.Stderr, "Note: ledger.enabled is false, no new usage is being recorded")
	}

	store, err := ledger.Open(&cfg.Ledger)
	if err != nil {
		return nil, cli.NewCommandError("usage", fmt.Errorf("failed to open usage ledger: %w", err))
	}
	return store, nil
}

// parseSince accepts a duration before now, with a "d" suffix for days, or
// an RFC 3339 timestamp. An empty value means no lower bound.
func parseSince(s string, now time.Time) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}

	var d time.Duration
	if n := len(s); n > 1 && s[n-1] == 'd' {
		days, err := strconv.Atoi(s[:n-1])
		if err != nil {
			return nil, fmt.Errorf("invalid --since %q", s)
		}
		d = time.Duration(days) * 24 * time.Hour
	} else {
		var err error
		if d, err = time.ParseDuration(s); err != nil {
			return nil, fmt.Errorf("invalid --since %q: want a duration (24h, 7d) or RFC 3339 time", s)
		}
	}
	if d < 0 {
		return nil, fmt.Errorf("invalid --since %q: duration must be positive", s)
	}
	t := now.Add(-d)
	return &t, nil
}

type usageReport []ledger.Summary

// Table renders one row per model plus a TOTAL row when more than one
// model is listed.
func (r usageReport) Table() cli.Table {
	t := cli.Table{Header: []string{
		"MODEL", "REQUESTS", "ERRORS", "CANCELED",
		"PROMPT", "COMPLETION", "CACHED", "REASONING", "BYTES",
	}}
	var total ledger.Summary
	for _, s := range r {
		t.Rows = append(t.Rows, summaryRow(s.Model, s))
		total.Requests += s.Requests
		total.Errors += s.Errors
		total.Canceled += s.Canceled
		total.PromptTokens += s.PromptTokens
		total.CompletionTokens += s.CompletionTokens
		total.CachedTokens += s.CachedTokens
		total.ReasoningTokens += s.ReasoningTokens
		total.BytesForwarded += s.BytesForwarded
	}
	if len(r) > 1 {
		t.Rows = append(t.Rows, summaryRow("TOTAL", total))
	}
	return t
}

func summaryRow(label string, s ledger.Summary) []string {
	return []string{
		label,
		strconv.FormatInt(s.Requests, 10),
		strconv.FormatInt(s.Errors, 10),
		strconv.FormatInt(s.Canceled, 10),
		strconv.FormatInt(s.PromptTokens, 10),
		strconv.FormatInt(s.CompletionTokens, 10),
		strconv.FormatInt(s.CachedTokens, 10),
		strconv.FormatInt(s.ReasoningTokens, 10),
		strconv.FormatInt(s.BytesForwarded, 10),
	}
}
