package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/lmserver/pkg/catalog"
	"mercator-hq/lmserver/pkg/cli"
	"mercator-hq/lmserver/pkg/endpoint"
	"mercator-hq/lmserver/pkg/selection"
	"mercator-hq/lmserver/pkg/server"
)

var modelsFlags struct {
	model  string
	output string
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List catalog endpoints and resolve model names",
	Long: `List the endpoints of the configured catalog in priority order.

With --model the selection rules are applied to the Messages API endpoints
and the endpoint a request for that model would be forwarded to is marked.

Examples:
  # List all endpoints
  lmserver models

  # Show where a request for a dated model id goes
  lmserver models --model claude-sonnet-4-20250514

  # Machine-readable output
  lmserver models --output json`,
	RunE: runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)

	modelsCmd.Flags().StringVarP(&modelsFlags.model, "model", "m", "", "resolve this requested model")
	modelsCmd.Flags().StringVarP(&modelsFlags.output, "output", "o", "text", "output format (text, json, yaml, csv)")
}

func runModels(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(modelsFlags.output)
	if err != nil {
		return cli.NewConfigError("output", err.Error())
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := setupLogging(cfg.Telemetry.Logging); err != nil {
		return err
	}

	provider, err := catalog.New(&cfg.Catalog, nil, nil)
	if err != nil {
		return cli.NewConfigError("catalog.source", err.Error())
	}

	ctx, cancel := cli.SignalContext(context.Background())
	defer cancel()

	list, err := listModels(ctx, provider, selection.FromConfig(cfg.Selection), modelsFlags.model)
	if err != nil {
		return cli.NewCommandError("models", err)
	}
	if err := cli.NewFormatter(format).FormatTo(os.Stdout, list); err != nil {
		return cli.NewCommandError("models", err)
	}
	if list.Requested != "" && list.Selected == "" {
		return cli.NewCommandError("models", fmt.Errorf("%s: %w", list.Requested, list.selectErr))
	}
	return nil
}

type modelRow struct {
	Name     string `json:"name" yaml:"name"`
	Model    string `json:"model" yaml:"model"`
	Family   string `json:"family" yaml:"family"`
	Version  string `json:"version,omitempty" yaml:"version,omitempty"`
	API      string `json:"api" yaml:"api"`
	Messages bool   `json:"messages" yaml:"messages"`
	URL      string `json:"url" yaml:"url"`
	Selected bool   `json:"selected,omitempty" yaml:"selected,omitempty"`
}

type modelList struct {
	Requested string     `json:"requested,omitempty" yaml:"requested,omitempty"`
	Selected  string     `json:"selected,omitempty" yaml:"selected,omitempty"`
	Models    []modelRow `json:"models" yaml:"models"`

	selectErr error
}

// Table renders the list for text and CSV output. When a model was
// requested, a leading column marks the selected endpoint.
func (l modelList) Table() cli.Table {
	t := cli.Table{Header: []string{"NAME", "MODEL", "FAMILY", "API", "MESSAGES", "URL"}}
	if l.Requested != "" {
		t.Header = append([]string{""}, t.Header...)
	}
	for _, m := range l.Models {
		messages := "no"
		if m.Messages {
			messages = "yes"
		}
		row := []string{m.Name, m.Model, m.Family, m.API, messages, m.URL}
		if l.Requested != "" {
			mark := ""
			if m.Selected {
				mark = "*"
			}
			row = append([]string{mark}, row...)
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// listModels describes every catalog endpoint and, when requested is set,
// marks the one the selector picks among Messages API endpoints.
func listModels(ctx context.Context, provider catalog.Provider, selector *selection.Selector, requested string) (modelList, error) {
	endpoints, err := provider.GetAllChatEndpoints(ctx)
	if err != nil {
		return modelList{}, fmt.Errorf("failed to list endpoints: %w", err)
	}

	list := modelList{Requested: requested, Models: make([]modelRow, 0, len(endpoints))}

	var selected endpoint.Endpoint
	if requested != "" {
		eligible := selection.Eligible(endpoints)
		switch {
		case len(eligible) == 0:
			list.selectErr = server.ErrNoEligibleEndpoints
		default:
			selected = selector.Select(eligible, requested)
			if selected == nil {
				list.selectErr = server.ErrNoMatchingEndpoint
			} else {
				list.Selected = selected.Model()
			}
		}
	}

	for _, ep := range endpoints {
		list.Models = append(list.Models, modelRow{
			Name:     ep.Name(),
			Model:    ep.Model(),
			Family:   ep.Family(),
			Version:  ep.Version(),
			API:      string(ep.APIType()),
			Messages: ep.APIType() == endpoint.APIMessages,
			URL:      ep.URL(),
			Selected: selected != nil && ep == selected,
		})
	}
	return list, nil
}
