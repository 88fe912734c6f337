package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tidwall/gjson"

	"mercator-hq/lmserver/pkg/config"
	"mercator-hq/lmserver/pkg/endpoint"
	"mercator-hq/lmserver/pkg/telemetry/metrics"
)

// maxListingBytes bounds the size of a model listing response.
const maxListingBytes = 8 << 20

// ErrInvalidListing is returned when a model listing is not a JSON object
// with a data array.
var ErrInvalidListing = errors.New("invalid model listing")

// supportedEndpoints maps listing paths to wire APIs, in preference order.
var supportedEndpoints = []struct {
	path string
	api  endpoint.APIType
}{
	{"/v1/messages", endpoint.APIMessages},
	{"/responses", endpoint.APIResponses},
	{"/chat/completions", endpoint.APIChatCompletions},
}

// Remote serves endpoints from a Copilot-style model listing:
//
//	{"data": [{"id": "claude-sonnet-4", "name": "Claude Sonnet 4",
//	  "version": "claude-sonnet-4", "policy": {"state": "enabled"},
//	  "supported_endpoints": ["/v1/messages", "/chat/completions"],
//	  "capabilities": {"type": "chat", "family": "claude-sonnet-4",
//	    "limits": {"max_prompt_tokens": 128000, "max_output_tokens": 16000},
//	    "supports": {"vision": true, "tool_calls": true}}}]}
//
// The listing is fetched on first use and then refreshed on the configured
// cron schedule once Start is called. A failed refresh keeps the previous list.
type Remote struct {
	config  config.RemoteCatalogConfig
	client  *http.Client
	metrics *metrics.Collector
	logger  *slog.Logger

	mu        sync.RWMutex
	endpoints []endpoint.Endpoint
	fetchedAt time.Time

	// refreshMu serializes listing requests.
	refreshMu sync.Mutex

	cronMu  sync.Mutex
	cron    *cron.Cron
	running bool
}

var _ Provider = (*Remote)(nil)

// NewRemote creates a remote catalog. Nothing is fetched until the first
// GetAllChatEndpoints, Refresh or scheduled run.
func NewRemote(cfg config.RemoteCatalogConfig, client *http.Client, collector *metrics.Collector) *Remote {
	if client == nil {
		client = http.DefaultClient
	}
	return &Remote{
		config:  cfg,
		client:  client,
		metrics: collector,
		logger:  slog.Default().With("component", "catalog.remote"),
	}
}

// GetAllChatEndpoints returns the cached listing, fetching it first when
// nothing has been loaded yet.
func (r *Remote) GetAllChatEndpoints(ctx context.Context) ([]endpoint.Endpoint, error) {
	r.mu.RLock()
	loaded := !r.fetchedAt.IsZero()
	r.mu.RUnlock()

	if !loaded {
		if err := r.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]endpoint.Endpoint, len(r.endpoints))
	copy(out, r.endpoints)
	return out, nil
}

// FetchedAt returns when the listing was last loaded successfully.
func (r *Remote) FetchedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fetchedAt
}

// Refresh fetches the listing and replaces the cached endpoints.
func (r *Remote) Refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create listing request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.Token)
	}
	for k, v := range r.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch model listing: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxListingBytes))
	if err != nil {
		return fmt.Errorf("failed to read model listing: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model listing returned status %d", resp.StatusCode)
	}

	baseURL, err := r.apiBaseURL()
	if err != nil {
		return err
	}
	infos, err := ParseModels(data, endpoint.Info{
		BaseURL: baseURL,
		APIKey:  r.config.Token,
		Headers: r.config.Headers,
	})
	if err != nil {
		return err
	}
	eps := build(infos, r.client)

	r.mu.Lock()
	r.endpoints = eps
	r.fetchedAt = time.Now()
	r.mu.Unlock()

	r.metrics.SetCatalogSize(SourceRemote, len(eps))
	logEndpoints(r.logger, SourceRemote, eps)
	return nil
}

func (r *Remote) apiBaseURL() (string, error) {
	if r.config.APIBaseURL != "" {
		return r.config.APIBaseURL, nil
	}
	u, err := url.Parse(r.config.URL)
	if err != nil {
		return "", fmt.Errorf("invalid listing url: %w", err)
	}
	return u.Scheme + "://" + u.Host, nil
}

// Start schedules refreshes on the configured cron spec. The schedule stops
// when ctx is done or Stop is called.
func (r *Remote) Start(ctx context.Context) error {
	r.cronMu.Lock()
	defer r.cronMu.Unlock()

	if r.running {
		return nil
	}
	if r.config.RefreshSchedule == "" {
		r.logger.Info("refresh schedule not configured, listing is fetched once")
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(r.config.RefreshSchedule, func() {
		if err := r.Refresh(ctx); err != nil {
			r.logger.Warn("model listing refresh failed, keeping previous list", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", r.config.RefreshSchedule, err)
	}
	c.Start()
	r.cron = c
	r.running = true

	r.logger.Info("catalog refresh scheduled", "schedule", r.config.RefreshSchedule)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts scheduled refreshes and waits for a running one to finish.
func (r *Remote) Stop() {
	r.cronMu.Lock()
	defer r.cronMu.Unlock()

	if !r.running {
		return
	}
	<-r.cron.Stop().Done()
	r.running = false
	r.logger.Info("catalog refresh stopped")
}

// ParseModels converts a model listing into endpoint info. Entries whose
// capabilities type is set to something other than "chat" are skipped.
// BaseURL, APIKey and Headers are taken from defaults.
func ParseModels(data []byte, defaults endpoint.Info) ([]endpoint.Info, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidListing
	}
	list := gjson.GetBytes(data, "data")
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: missing data array", ErrInvalidListing)
	}

	var infos []endpoint.Info
	list.ForEach(func(_, m gjson.Result) bool {
		id := m.Get("id").String()
		if id == "" {
			return true
		}
		caps := m.Get("capabilities")
		if t := caps.Get("type").String(); t != "" && t != "chat" {
			return true
		}

		info := endpoint.Info{
			Name:            m.Get("name").String(),
			Model:           id,
			Family:          caps.Get("family").String(),
			Version:         m.Get("version").String(),
			BaseURL:         defaults.BaseURL,
			APIKey:          defaults.APIKey,
			APITypes:        apiTypes(m.Get("supported_endpoints")),
			MaxPromptTokens: int(caps.Get("limits.max_prompt_tokens").Int()),
			MaxOutputTokens: int(caps.Get("limits.max_output_tokens").Int()),
			Vision:          caps.Get("supports.vision").Bool(),
			ToolCalls:       caps.Get("supports.tool_calls").Bool(),
			Policy:          m.Get("policy.state").String(),
			Headers:         defaults.Headers,
		}
		if info.Name == "" {
			info.Name = id
		}
		if info.Family == "" {
			info.Family = id
		}
		if info.Policy == "" {
			info.Policy = config.DefaultEndpointPolicy
		}
		infos = append(infos, info)
		return true
	})
	return infos, nil
}

func apiTypes(listed gjson.Result) []endpoint.APIType {
	if !listed.IsArray() {
		return []endpoint.APIType{endpoint.APIChatCompletions}
	}
	have := make(map[string]bool)
	for _, p := range listed.Array() {
		have[p.String()] = true
	}
	var types []endpoint.APIType
	for _, se := range supportedEndpoints {
		if have[se.path] {
			types = append(types, se.api)
		}
	}
	if len(types) == 0 {
		types = []endpoint.APIType{endpoint.APIChatCompletions}
	}
	return types
}
