package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/questforge/encounterd/internal/config"
	"github.com/questforge/encounterd/internal/event"
	"github.com/questforge/encounterd/internal/gatewayclient"
	"github.com/questforge/encounterd/internal/hmacauth"
	"github.com/questforge/encounterd/internal/provider"
	"github.com/questforge/encounterd/internal/server"
	"github.com/questforge/encounterd/internal/session"
	"github.com/questforge/encounterd/internal/storage"
	"github.com/questforge/encounterd/pkg/types"
)

// Secret is the shared HMAC secret of every test stack.
const Secret = "citest-shared-secret-0123456789abcdef"

// Stack is a gateway and an engine wired together over real HTTP,
// with the openai provider pointed at a MockLLMServer.
type Stack struct {
	LLM        *MockLLMServer
	Config     *types.Config
	Providers  *provider.Registry
	Bus        *event.Bus
	Sessions   *session.Service
	GatewayURL string
	EngineURL  string
	DataDir    string

	gateway *httptest.Server
	engine  *httptest.Server
}

// StackOption adjusts the configuration before anything is built.
type StackOption func(*types.Config)

// WithBreakerThreshold sets the consecutive failure threshold of the provider breaker.
func WithBreakerThreshold(n int) StackOption {
	return func(c *types.Config) { c.Breaker.FailureThreshold = n }
}

// WithPersistActive toggles write-through of active sessions.
func WithPersistActive(v bool) StackOption {
	return func(c *types.Config) { c.Session.PersistActive = &v }
}

// WithCacheSize bounds the engine's session cache.
func WithCacheSize(n int) StackOption {
	return func(c *types.Config) { c.Session.CacheSize = n }
}

// StartStack builds and starts a stack. dataDir is reused when not empty so a
// second stack can observe what the first one persisted.
func StartStack(llm *MockLLMServer, dataDir string, opts ...StackOption) (*Stack, error) {
	if dataDir == "" {
		dir, err := os.MkdirTemp("", "encounterd-citest-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		dataDir = dir
	}

	cfg := config.Default()
	cfg.DefaultProvider = "openai"
	cfg.Provider["openai"] = types.ProviderConfig{
		APIKey:  "sk-mock",
		BaseURL: llm.URL(),
		Model:   "mock-gpt-4",
	}
	cfg.HMACSecret = Secret
	cfg.Retry.DelaysMs = []int{5, 10, 20}
	cfg.Breaker.ResetTimeoutMs = 60000
	cfg.Gateway.CallTimeoutMs = 5000
	cfg.Gateway.RateLimit = 0
	cfg.Session.DataDir = dataDir
	for _, opt := range opts {
		opt(cfg)
	}

	reg, err := provider.InitializeProviders(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}
	gw, err := server.NewGateway(server.DefaultConfig(), reg, server.GatewayOptions{Secret: cfg.HMACSecret})
	if err != nil {
		return nil, err
	}
	gwServer := httptest.NewServer(gw.Router())

	client, err := gatewayclient.New(gwServer.URL, cfg.HMACSecret,
		gatewayclient.WithTimeout(time.Duration(cfg.Engine.GatewayTimeoutMs)*time.Millisecond))
	if err != nil {
		gwServer.Close()
		return nil, err
	}
	bus := event.NewBus()
	svc, err := session.NewService(client, storage.NewSessionStore(dataDir), session.Options{
		CacheSize:     cfg.Session.CacheSize,
		PersistActive: config.PersistActive(cfg),
		Bus:           bus,
	})
	if err != nil {
		gwServer.Close()
		bus.Close()
		return nil, err
	}
	engine := server.NewEngine(server.DefaultConfig(), svc, bus)
	engineServer := httptest.NewServer(engine.Router())

	return &Stack{
		LLM:        llm,
		Config:     cfg,
		Providers:  reg,
		Bus:        bus,
		Sessions:   svc,
		GatewayURL: gwServer.URL,
		EngineURL:  engineServer.URL,
		DataDir:    dataDir,
		gateway:    gwServer,
		engine:     engineServer,
	}, nil
}

// Stop shuts both servers down. The data directory is left in place.
func (s *Stack) Stop() {
	s.engine.Close()
	s.gateway.Close()
	s.Bus.Close()
}

// Response is a decoded engine or gateway reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// ErrorCode returns error.code from an error envelope, or "".
func (r *Response) ErrorCode() string {
	var env types.ErrorResponse
	if err := json.Unmarshal(r.Body, &env); err != nil {
		return ""
	}
	return env.Error.Code
}

// Engine sends a request to the engine. body may be nil.
func (s *Stack) Engine(method, path string, body any) (*Response, error) {
	return do(method, s.EngineURL+path, body, nil)
}

// GatewayGet sends a GET to the gateway, signed over the empty body when sign is true.
func (s *Stack) GatewayGet(path string, sign bool) (*Response, error) {
	header := http.Header{}
	if sign {
		header.Set(hmacauth.HeaderName, hmacauth.Sign(nil, Secret))
	}
	return do(http.MethodGet, s.GatewayURL+path, nil, header)
}

// Gateway posts body to the gateway, signed when sign is true.
func (s *Stack) Gateway(path string, body any, sign bool) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if sign {
		header.Set(hmacauth.HeaderName, hmacauth.Sign(data, Secret))
	}
	return do(http.MethodPost, s.GatewayURL+path, json.RawMessage(data), header)
}

func do(method, url string, body any, header http.Header) (*Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
