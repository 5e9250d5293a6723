package provider_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockLLMServer mimics the OpenAI and Anthropic chat APIs with scripted, non-streaming replies.
type MockLLMServer struct {
	server *httptest.Server

	mu       sync.Mutex
	replies  []MockReply
	requests []MockRequest
}

// MockReply is one scripted reply. A non-zero Status returns an API error instead of content.
type MockReply struct {
	Content string
	Status  int
}

// MockRequest records an incoming request for verification.
type MockRequest struct {
	Path   string
	Prompt string
	Body   map[string]any
}

// NewMockLLMServer starts a server replaying replies in order; the last one repeats.
func NewMockLLMServer(replies ...MockReply) *MockLLMServer {
	m := &MockLLMServer{replies: replies}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", m.handleOpenAI)
	mux.HandleFunc("/chat/completions", m.handleOpenAI)
	mux.HandleFunc("/v1/messages", m.handleAnthropic)

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the mock server's URL.
func (m *MockLLMServer) URL() string { return m.server.URL }

// Close shuts down the mock server.
func (m *MockLLMServer) Close() { m.server.Close() }

// Requests returns a copy of the recorded requests.
func (m *MockLLMServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

func (m *MockLLMServer) next(r *http.Request, extract func(map[string]any) string) (MockReply, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return MockReply{}, false
	}
	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		return MockReply{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, MockRequest{Path: r.URL.Path, Prompt: extract(req), Body: req})
	if len(m.replies) == 0 {
		return MockReply{Content: "{}"}, true
	}
	reply := m.replies[0]
	if len(m.replies) > 1 {
		m.replies = m.replies[1:]
	}
	return reply, true
}

func (m *MockLLMServer) handleOpenAI(w http.ResponseWriter, r *http.Request) {
	reply, ok := m.next(r, lastUserContent)
	if !ok {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if reply.Status != 0 {
		w.WriteHeader(reply.Status)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "mock failure", "type": "server_error"},
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-mock",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "mock-gpt",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": reply.Content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150},
	})
}

func (m *MockLLMServer) handleAnthropic(w http.ResponseWriter, r *http.Request) {
	reply, ok := m.next(r, lastUserContent)
	if !ok {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if reply.Status != 0 {
		w.WriteHeader(reply.Status)
		json.NewEncoder(w).Encode(map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "api_error", "message": "mock failure"},
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"id":            "msg_mock",
		"type":          "message",
		"role":          "assistant",
		"model":         "mock-claude",
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"content":       []map[string]any{{"type": "text", "text": reply.Content}},
		"usage":         map[string]any{"input_tokens": 100, "output_tokens": 50},
	})
}

// lastUserContent handles both string content and Anthropic content blocks.
func lastUserContent(req map[string]any) string {
	messages, _ := req["messages"].([]any)
	for i := len(messages) - 1; i >= 0; i-- {
		msg, _ := messages[i].(map[string]any)
		if role, _ := msg["role"].(string); role != "user" {
			continue
		}
		switch c := msg["content"].(type) {
		case string:
			return c
		case []any:
			var b strings.Builder
			for _, item := range c {
				if block, ok := item.(map[string]any); ok {
					if text, ok := block["text"].(string); ok {
						b.WriteString(text)
					}
				}
			}
			return b.String()
		}
	}
	return ""
}
