package gatewayclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questforge/encounterd/internal/apperror"
	"github.com/questforge/encounterd/internal/hmacauth"
	"github.com/questforge/encounterd/pkg/types"
)

const secret = "0123456789abcdef0123456789abcdef"

func writeEnvelope(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{
		Error:     types.ErrorBody{Code: code, Message: msg, Details: details},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func TestGenerateEncounter_SignsRequest(t *testing.T) {
	var gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gen/encounter", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.True(t, hmacauth.Verify(body, r.Header.Get(hmacauth.HeaderName), secret))
		gotID = r.Header.Get("X-Request-ID")

		var req types.EncounterRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "p1", req.PlayerContext.PlayerID)

		_ = json.NewEncoder(w).Encode(types.EncounterSpec{ID: "enc_1", Title: "Bridge"})
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/", secret)
	require.NoError(t, err)

	enc, err := c.GenerateEncounter(context.Background(), &types.EncounterRequest{
		PlayerContext: &types.PlayerContext{PlayerID: "p1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "enc_1", enc.ID)
	assert.NotEmpty(t, gotID)
}

func TestGenerateReward(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gen/reward", r.URL.Path)
		_ = json.NewEncoder(w).Encode(types.RewardResponse{Rewards: []types.Reward{{Type: types.RewardCurrency, Amount: 10}}})
	}))
	defer srv.Close()

	c, err := New(srv.URL, secret)
	require.NoError(t, err)
	rewards, err := c.GenerateReward(context.Background(), &types.RewardRequest{EncounterID: "enc_1", Difficulty: types.DifficultyEasy})
	require.NoError(t, err)
	require.Len(t, rewards, 1)
	assert.Equal(t, 10.0, rewards[0].Amount)
}

func TestErrorEnvelopeMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		code      string
		header    string
		details   map[string]any
		wantKind  apperror.Kind
		wantRetry time.Duration
	}{
		{name: "unavailable header", status: 503, code: apperror.CodeUnavailable, header: "42", wantKind: apperror.KindUnavailable, wantRetry: 42 * time.Second},
		{name: "unavailable details", status: 503, code: apperror.CodeUnavailable, details: map[string]any{"retryAfterSeconds": 7}, wantKind: apperror.KindUnavailable, wantRetry: 7 * time.Second},
		{name: "upstream", status: 502, code: apperror.CodeUpstream, wantKind: apperror.KindUpstream},
		{name: "validation", status: 400, code: apperror.CodeValidation, wantKind: apperror.KindValidation},
		{name: "auth becomes internal", status: 401, code: apperror.CodeAuth, wantKind: apperror.KindInternal},
		{name: "rate limited", status: 429, code: apperror.CodeRateLimited, header: "1", wantKind: apperror.KindRateLimited, wantRetry: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				writeEnvelope(w, tt.status, tt.code, "nope", tt.details)
			}))
			defer srv.Close()

			c, err := New(srv.URL, secret)
			require.NoError(t, err)
			_, err = c.GenerateEncounter(context.Background(), &types.EncounterRequest{})
			require.Error(t, err)

			var appErr *apperror.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantKind, appErr.Kind)
			assert.Equal(t, tt.wantRetry, appErr.RetryAfter)
		})
	}
}

func TestNonEnvelopeErrorIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(srv.URL, secret)
	require.NoError(t, err)
	_, err = c.GenerateEncounter(context.Background(), &types.EncounterRequest{})
	assert.True(t, apperror.Is(err, apperror.KindUpstream))
}

func TestUnreachableIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url, secret, WithTimeout(time.Second))
	require.NoError(t, err)
	_, err = c.GenerateEncounter(context.Background(), &types.EncounterRequest{})
	assert.True(t, apperror.Is(err, apperror.KindUpstream))
}

func TestCancelledContext(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c, err := New(srv.URL, secret)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = c.GenerateEncounter(ctx, &types.EncounterRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New("http://localhost", "")
	assert.ErrorIs(t, err, hmacauth.ErrEmptySecret)
	_, err = New("", secret)
	assert.Error(t, err)
}
