package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"mercator-hq/lmserver/pkg/config"
	"mercator-hq/lmserver/pkg/endpoint"
)

func TestInfoFromConfig(t *testing.T) {
	info := InfoFromConfig(config.EndpointConfig{
		Model:     "claude-sonnet-4",
		BaseURL:   "https://api.example.com",
		APIKey:    "k",
		APITypes:  []string{"messages", "chat_completions"},
		Paths:     map[string]string{"messages": "/anthropic/v1/messages"},
		Headers:   map[string]string{"X-Team": "infra"},
		Vision:    true,
		ToolCalls: true,
	})

	if info.Family != "claude-sonnet-4" {
		t.Errorf("Family = %q, want model as default", info.Family)
	}
	if info.Policy != config.DefaultEndpointPolicy {
		t.Errorf("Policy = %q, want %q", info.Policy, config.DefaultEndpointPolicy)
	}
	if len(info.APITypes) != 2 || info.APITypes[0] != endpoint.APIMessages {
		t.Errorf("APITypes = %v", info.APITypes)
	}
	if info.Paths[endpoint.APIMessages] != "/anthropic/v1/messages" {
		t.Errorf("Paths = %v", info.Paths)
	}
	if info.Headers["X-Team"] != "infra" {
		t.Errorf("Headers = %v", info.Headers)
	}

	ep := endpoint.NewHTTPEndpoint(info, nil)
	if got := ep.URL(); got != "https://api.example.com/anthropic/v1/messages" {
		t.Errorf("URL() = %q", got)
	}
}

func TestInfoFromConfig_DefaultAPIType(t *testing.T) {
	info := InfoFromConfig(config.EndpointConfig{Model: "m"})
	if len(info.APITypes) != 1 || info.APITypes[0] != endpoint.APIMessages {
		t.Errorf("APITypes = %v, want [messages]", info.APITypes)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		source  string
		want    string
		wantErr bool
	}{
		{"", "static", false},
		{SourceStatic, "static", false},
		{SourceRemote, "remote", false},
		{"ldap", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			p, err := New(&config.CatalogConfig{Source: tt.source}, nil, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			switch p.(type) {
			case *Static:
				if tt.want != "static" {
					t.Errorf("New() = %T, want %s", p, tt.want)
				}
			case *Remote:
				if tt.want != "remote" {
					t.Errorf("New() = %T, want %s", p, tt.want)
				}
			}
		})
	}
}

func TestStatic_Update(t *testing.T) {
	s := NewStatic([]config.EndpointConfig{
		{Model: "claude-sonnet-4"},
		{Model: "gpt-4o-mini", APITypes: []string{"chat_completions"}},
	}, nil, nil)

	eps, err := s.GetAllChatEndpoints(context.Background())
	if err != nil {
		t.Fatalf("GetAllChatEndpoints() error = %v", err)
	}
	if len(eps) != 2 || eps[0].Model() != "claude-sonnet-4" || eps[1].Model() != "gpt-4o-mini" {
		t.Fatalf("endpoints out of order: %v", eps)
	}

	// The caller owns the returned slice.
	eps[0] = nil
	again, _ := s.GetAllChatEndpoints(context.Background())
	if again[0] == nil {
		t.Error("mutating the returned slice changed the catalog")
	}

	s.Update([]config.EndpointConfig{{Model: "claude-opus-4"}})
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
	if len(eps) != 2 {
		t.Error("Update changed a previously returned snapshot")
	}
}

func TestStatic_CanceledContext(t *testing.T) {
	s := NewStatic(nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.GetAllChatEndpoints(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

const listing = `{
  "data": [
    {
      "id": "claude-sonnet-4",
      "name": "Claude Sonnet 4",
      "version": "claude-sonnet-4",
      "policy": {"state": "enabled"},
      "supported_endpoints": ["/chat/completions", "/v1/messages"],
      "capabilities": {
        "type": "chat",
        "family": "claude-sonnet-4",
        "limits": {"max_prompt_tokens": 128000, "max_output_tokens": 16000},
        "supports": {"vision": true, "tool_calls": true}
      }
    },
    {
      "id": "gpt-4o-mini",
      "capabilities": {"type": "chat", "family": "gpt-4o-mini"}
    },
    {
      "id": "text-embedding-3-small",
      "capabilities": {"type": "embeddings"}
    },
    {"name": "no id"}
  ]
}`

func TestParseModels(t *testing.T) {
	infos, err := ParseModels([]byte(listing), endpoint.Info{
		BaseURL: "https://api.example.com",
		APIKey:  "tok",
	})
	if err != nil {
		t.Fatalf("ParseModels() error = %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("len(infos) = %d, want 2", len(infos))
	}

	sonnet := infos[0]
	if sonnet.Model != "claude-sonnet-4" || sonnet.Name != "Claude Sonnet 4" {
		t.Errorf("sonnet = %+v", sonnet)
	}
	if sonnet.APITypes[0] != endpoint.APIMessages {
		t.Errorf("sonnet APITypes = %v, want messages first", sonnet.APITypes)
	}
	if sonnet.MaxPromptTokens != 128000 || sonnet.MaxOutputTokens != 16000 {
		t.Errorf("sonnet limits = %d/%d", sonnet.MaxPromptTokens, sonnet.MaxOutputTokens)
	}
	if !sonnet.Vision || !sonnet.ToolCalls {
		t.Error("sonnet supports flags not set")
	}
	if sonnet.BaseURL != "https://api.example.com" || sonnet.APIKey != "tok" {
		t.Errorf("sonnet defaults not applied: %+v", sonnet)
	}

	mini := infos[1]
	if len(mini.APITypes) != 1 || mini.APITypes[0] != endpoint.APIChatCompletions {
		t.Errorf("mini APITypes = %v, want [chat_completions]", mini.APITypes)
	}
	if mini.Name != "gpt-4o-mini" || mini.Policy != config.DefaultEndpointPolicy {
		t.Errorf("mini = %+v", mini)
	}
}

func TestParseModels_Invalid(t *testing.T) {
	tests := []string{
		`not json`,
		`{"models": []}`,
		`{"data": {}}`,
	}
	for _, in := range tests {
		if _, err := ParseModels([]byte(in), endpoint.Info{}); !errors.Is(err, ErrInvalidListing) {
			t.Errorf("ParseModels(%q) error = %v, want ErrInvalidListing", in, err)
		}
	}
}

func TestRemote_GetAllChatEndpoints(t *testing.T) {
	var hits atomic.Int32
	var gotAuth, gotIntegration string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		gotAuth = r.Header.Get("Authorization")
		gotIntegration = r.Header.Get("Copilot-Integration-Id")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(listing))
	}))
	defer srv.Close()

	r := NewRemote(config.RemoteCatalogConfig{
		URL:     srv.URL + "/models",
		Token:   "tok",
		Headers: map[string]string{"Copilot-Integration-Id": "lmserver"},
	}, srv.Client(), nil)

	eps, err := r.GetAllChatEndpoints(context.Background())
	if err != nil {
		t.Fatalf("GetAllChatEndpoints() error = %v", err)
	}
	if len(eps) != 2 {
		t.Fatalf("len(eps) = %d, want 2", len(eps))
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotIntegration != "lmserver" {
		t.Errorf("Copilot-Integration-Id = %q", gotIntegration)
	}
	if got := eps[0].URL(); got != srv.URL+"/v1/messages" {
		t.Errorf("URL() = %q, want listing host as base", got)
	}
	if got := eps[0].Headers().Get("Authorization"); got != "Bearer tok" {
		t.Errorf("endpoint Authorization = %q", got)
	}

	if _, err := r.GetAllChatEndpoints(context.Background()); err != nil {
		t.Fatalf("second GetAllChatEndpoints() error = %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("listing fetched %d times, want 1 (cached)", n)
	}
	if r.FetchedAt().IsZero() {
		t.Error("FetchedAt() is zero after a successful fetch")
	}
}

func TestRemote_RefreshKeepsPreviousOnFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(listing))
	}))
	defer srv.Close()

	r := NewRemote(config.RemoteCatalogConfig{
		URL:        srv.URL + "/models",
		APIBaseURL: "https://proxy.example.com",
	}, srv.Client(), nil)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	fail.Store(true)
	if err := r.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() error = nil, want status error")
	}

	eps, err := r.GetAllChatEndpoints(context.Background())
	if err != nil {
		t.Fatalf("GetAllChatEndpoints() error = %v", err)
	}
	if len(eps) != 2 {
		t.Errorf("len(eps) = %d, want previous list of 2", len(eps))
	}
	if got := eps[0].URL(); got != "https://proxy.example.com/v1/messages" {
		t.Errorf("URL() = %q, want api_base_url", got)
	}
}

func TestRemote_FirstFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	r := NewRemote(config.RemoteCatalogConfig{URL: srv.URL}, srv.Client(), nil)
	if _, err := r.GetAllChatEndpoints(context.Background()); err == nil {
		t.Error("GetAllChatEndpoints() error = nil, want error")
	}
}

func TestRemote_StartStop(t *testing.T) {
	r := NewRemote(config.RemoteCatalogConfig{URL: "http://127.0.0.1:1", RefreshSchedule: "@every 1h"}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.Start(ctx); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	r.Stop()
	r.Stop()

	bad := NewRemote(config.RemoteCatalogConfig{RefreshSchedule: "every tuesday"}, nil, nil)
	if err := bad.Start(ctx); err == nil {
		t.Error("Start() with invalid schedule error = nil, want error")
	}
}
