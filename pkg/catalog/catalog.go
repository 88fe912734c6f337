package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"mercator-hq/lmserver/pkg/config"
	"mercator-hq/lmserver/pkg/endpoint"
	"mercator-hq/lmserver/pkg/telemetry/metrics"
)

// Catalog sources.
const (
	SourceStatic = "static"
	SourceRemote = "remote"
)

// Provider lists the chat endpoints the server may route to.
//
// The returned slice is in priority order and owned by the caller.
// Implementations must be safe for concurrent use.
type Provider interface {
	GetAllChatEndpoints(ctx context.Context) ([]endpoint.Endpoint, error)
}

// New creates the provider configured by cfg. Endpoints share client for
// their own requests; a nil client uses http.DefaultClient.
//
// A remote provider is returned unstarted. Call Start to enable scheduled
// refreshes.
func New(cfg *config.CatalogConfig, client *http.Client, collector *metrics.Collector) (Provider, error) {
	switch cfg.Source {
	case SourceStatic, "":
		return NewStatic(cfg.Endpoints, client, collector), nil
	case SourceRemote:
		return NewRemote(cfg.Remote, client, collector), nil
	default:
		return nil, fmt.Errorf("unsupported catalog source %q (supported: static, remote)", cfg.Source)
	}
}

// InfoFromConfig converts an endpoint configuration into endpoint info.
func InfoFromConfig(c config.EndpointConfig) endpoint.Info {
	info := endpoint.Info{
		Name:            c.Name,
		Model:           c.Model,
		Family:          c.Family,
		Version:         c.Version,
		BaseURL:         c.BaseURL,
		APIKey:          c.APIKey,
		MaxPromptTokens: c.MaxPromptTokens,
		MaxOutputTokens: c.MaxOutputTokens,
		ThinkingBudget:  c.ThinkingBudget,
		Vision:          c.Vision,
		ToolCalls:       c.ToolCalls,
		Policy:          c.Policy,
	}
	if info.Family == "" {
		info.Family = info.Model
	}
	if info.Policy == "" {
		info.Policy = config.DefaultEndpointPolicy
	}

	for _, t := range c.APITypes {
		info.APITypes = append(info.APITypes, endpoint.APIType(t))
	}
	if len(info.APITypes) == 0 {
		info.APITypes = []endpoint.APIType{endpoint.APIMessages}
	}

	if len(c.Paths) > 0 {
		info.Paths = make(map[endpoint.APIType]string, len(c.Paths))
		for k, v := range c.Paths {
			info.Paths[endpoint.APIType(k)] = v
		}
	}
	if len(c.Headers) > 0 {
		info.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			info.Headers[k] = v
		}
	}
	return info
}

func build(infos []endpoint.Info, client *http.Client) []endpoint.Endpoint {
	eps := make([]endpoint.Endpoint, 0, len(infos))
	for _, info := range infos {
		eps = append(eps, endpoint.NewHTTPEndpoint(info, client))
	}
	return eps
}

func logEndpoints(logger *slog.Logger, source string, eps []endpoint.Endpoint) {
	messages := 0
	for _, ep := range eps {
		if ep.APIType() == endpoint.APIMessages {
			messages++
		}
	}
	logger.Info("endpoint catalog loaded",
		"source", source,
		"endpoints", len(eps),
		"messages_endpoints", messages,
	)
}
