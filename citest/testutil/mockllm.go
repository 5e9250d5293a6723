// Package testutil provides the offline harness for the end-to-end suites:
// a scripted OpenAI-compatible upstream and a full gateway plus engine stack.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockLLMServer mimics the OpenAI chat completions API.
// Encounter prompts get EncounterJSON, reward prompts get RewardJSON.
type MockLLMServer struct {
	server *httptest.Server

	mu            sync.Mutex
	requests      []MockRequest
	failures      int
	failureStatus int
	encounterJSON string
	rewardJSON    string
}

// MockRequest records incoming requests for verification.
type MockRequest struct {
	Timestamp time.Time
	Path      string
	Prompt    string
	Status    int
}

// DefaultEncounterJSON is a valid encounter with two objectives and one NPC.
const DefaultEncounterJSON = `{
  "title": "The Drowned Bell",
  "description": "A bell tolls beneath the harbor at low tide.",
  "objectives": [
    {"id": "obj_1", "description": "Find the bell tower", "type": "reach", "target": "tower"},
    {"id": "obj_2", "description": "Silence the bell", "type": "interact", "target": "bell"}
  ],
  "npcs": [
    {"id": "npc_1", "name": "Harbormaster Ysolde", "role": "quest_giver",
     "dialogue": [{"trigger": "greet", "text": "You hear it too, don't you?"}]}
  ],
  "rewards": [{"type": "currency", "amount": 120}],
  "difficulty": "medium",
  "estimatedDuration": 25
}`

// DefaultRewardJSON is a valid reward list.
const DefaultRewardJSON = `{"rewards":[{"type":"experience","amount":300},{"type":"item","amount":1,"itemId":"bell_clapper"}]}`

// NewMockLLMServer creates a mock upstream that answers every request successfully.
func NewMockLLMServer() *MockLLMServer {
	m := &MockLLMServer{
		encounterJSON: DefaultEncounterJSON,
		rewardJSON:    DefaultRewardJSON,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/chat/completions", m.handleChatCompletions)

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the base URL to configure as the provider's baseURL.
func (m *MockLLMServer) URL() string {
	return m.server.URL + "/v1"
}

// Close shuts down the mock server.
func (m *MockLLMServer) Close() {
	m.server.Close()
}

// FailNext makes the next n requests answer with status.
func (m *MockLLMServer) FailNext(n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures, m.failureStatus = n, status
}

// SetEncounter replaces the encounter body returned as the model's content.
func (m *MockLLMServer) SetEncounter(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.encounterJSON = content
}

// Requests returns a copy of the recorded requests.
func (m *MockLLMServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

// Reset clears recorded requests and pending failures.
func (m *MockLLMServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.failures = 0
	m.encounterJSON = DefaultEncounterJSON
}

func (m *MockLLMServer) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	prompt := extractLastPrompt(req)

	m.mu.Lock()
	status := http.StatusOK
	if m.failures > 0 {
		m.failures--
		status = m.failureStatus
	}
	content := m.encounterJSON
	if strings.Contains(prompt, "was completed at") {
		content = m.rewardJSON
	}
	m.requests = append(m.requests, MockRequest{
		Timestamp: time.Now(),
		Path:      r.URL.Path,
		Prompt:    prompt,
		Status:    status,
	})
	m.mu.Unlock()

	if status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error":{"message":"mock upstream failure","type":"server_error","code":%d}}`, status)
		return
	}
	writeResponse(w, content)
}

// extractLastPrompt extracts the last user message from OpenAI format.
func extractLastPrompt(req map[string]any) string {
	messages, ok := req["messages"].([]any)
	if !ok {
		return ""
	}
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]any)
		if !ok {
			continue
		}
		if role, _ := msg["role"].(string); role == "user" {
			content, _ := msg["content"].(string)
			return content
		}
	}
	return ""
}

func writeResponse(w http.ResponseWriter, content string) {
	response := map[string]any{
		"id":      "chatcmpl-mockllm",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "mock-gpt-4",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     100,
			"completion_tokens": 50,
			"total_tokens":      150,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
