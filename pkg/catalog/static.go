package catalog

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"mercator-hq/lmserver/pkg/config"
	"mercator-hq/lmserver/pkg/endpoint"
	"mercator-hq/lmserver/pkg/telemetry/metrics"
)

// Static serves endpoints declared in the configuration file.
//
// The list is replaced atomically by Update, so a configuration reload never
// affects requests that already hold a snapshot.
type Static struct {
	endpoints atomic.Pointer[[]endpoint.Endpoint]
	client    *http.Client
	metrics   *metrics.Collector
	logger    *slog.Logger
}

var _ Provider = (*Static)(nil)

// NewStatic creates a static catalog from endpoint configurations.
func NewStatic(cfgs []config.EndpointConfig, client *http.Client, collector *metrics.Collector) *Static {
	s := &Static{
		client:  client,
		metrics: collector,
		logger:  slog.Default().With("component", "catalog.static"),
	}
	s.Update(cfgs)
	return s
}

// Update replaces the endpoint list.
func (s *Static) Update(cfgs []config.EndpointConfig) {
	infos := make([]endpoint.Info, 0, len(cfgs))
	for _, c := range cfgs {
		infos = append(infos, InfoFromConfig(c))
	}
	eps := build(infos, s.client)
	s.endpoints.Store(&eps)

	s.metrics.SetCatalogSize(SourceStatic, len(eps))
	logEndpoints(s.logger, SourceStatic, eps)
}

// GetAllChatEndpoints returns a copy of the current endpoint list.
func (s *Static) GetAllChatEndpoints(ctx context.Context) ([]endpoint.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	eps := *s.endpoints.Load()
	out := make([]endpoint.Endpoint, len(eps))
	copy(out, eps)
	return out, nil
}

// Len returns the number of endpoints.
func (s *Static) Len() int {
	return len(*s.endpoints.Load())
}
