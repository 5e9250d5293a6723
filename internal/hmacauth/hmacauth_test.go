package hmacauth

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret-for-tests"

func TestSignVerifyRoundTrip(t *testing.T) {
	bodies := [][]byte{
		nil,
		[]byte(""),
		[]byte(`{"difficulty":"easy"}`),
		bytes.Repeat([]byte{0xff, 0x00}, 512),
	}
	for _, body := range bodies {
		sig := Sign(body, testSecret)
		assert.Len(t, sig, 64)
		assert.True(t, Verify(body, sig, testSecret))
	}
}

func TestVerify_FlippedSignatureByte(t *testing.T) {
	body := []byte(`{"playerContext":{"playerId":"p1"}}`)
	sig := Sign(body, testSecret)

	for i := 0; i < len(sig); i++ {
		b := []byte(sig)
		if b[i] == '0' {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
		assert.False(t, Verify(body, string(b), testSecret), "flipped char %d", i)
	}
}

func TestVerify_Rejects(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := Sign(body, testSecret)

	assert.False(t, Verify([]byte(`{"a":2}`), sig, testSecret), "tampered body")
	assert.False(t, Verify(body, sig, "other-secret"), "wrong secret")
	assert.False(t, Verify(body, "", testSecret), "empty signature")
	assert.False(t, Verify(body, "zz"+sig[2:], testSecret), "malformed hex")
	assert.False(t, Verify(body, sig[:10], testSecret), "truncated")
	assert.False(t, Verify(body, sig, ""), "empty secret")
}

func TestSignRequest(t *testing.T) {
	body := []byte(`{"x":1}`)
	req := httptest.NewRequest(http.MethodPost, "/gen/encounter", bytes.NewReader(body))
	require.NoError(t, SignRequest(req, body, testSecret))
	assert.Equal(t, Sign(body, testSecret), req.Header.Get(HeaderName))

	assert.ErrorIs(t, SignRequest(req, body, ""), ErrEmptySecret)
}

func newProtected(t *testing.T, opts ...Option) (http.Handler, *int, *[]byte) {
	t.Helper()
	mw, err := Middleware(testSecret, opts...)
	require.NoError(t, err)
	calls := 0
	var seen []byte
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		seen, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	return h, &calls, &seen
}

func TestMiddleware_AcceptsAndRestoresBody(t *testing.T) {
	h, calls, seen := newProtected(t)
	body := []byte(`{"difficulty":"hard"}`)

	req := httptest.NewRequest(http.MethodPost, "/gen/encounter", bytes.NewReader(body))
	req.Header.Set(HeaderName, Sign(body, testSecret))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, body, *seen)
}

func TestMiddleware_RejectsBeforeHandler(t *testing.T) {
	body := []byte(`{"difficulty":"hard"}`)
	validSig := Sign(body, testSecret)

	tests := []struct {
		name string
		body string
		sig  string
	}{
		{"missing header", string(body), ""},
		{"tampered body", `{"difficulty":"easy"}`, validSig},
		{"garbage signature", string(body), "not-hex"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reasons []string
			h, calls, _ := newProtected(t, WithFailureHook(func(r string) { reasons = append(reasons, r) }))

			req := httptest.NewRequest(http.MethodPost, "/gen/encounter", strings.NewReader(tt.body))
			if tt.sig != "" {
				req.Header.Set(HeaderName, tt.sig)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, 0, *calls)
			assert.Len(t, reasons, 1)

			var env struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
				Timestamp string `json:"timestamp"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.Equal(t, "AUTH_ERROR", env.Error.Code)
			assert.NotEmpty(t, env.Timestamp)
		})
	}
}

func TestMiddleware_BodyLimit(t *testing.T) {
	h, calls, _ := newProtected(t, WithMaxBody(8))
	body := []byte(`{"too":"large body"}`)

	req := httptest.NewRequest(http.MethodPost, "/gen/encounter", bytes.NewReader(body))
	req.Header.Set(HeaderName, Sign(body, testSecret))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, *calls)
}

func TestMiddleware_CustomErrorHandler(t *testing.T) {
	var got error
	h, _, _ := newProtected(t, WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
		got = err
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodPost, "/gen/reward", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Error(t, got)
}

func TestMiddleware_EmptySecret(t *testing.T) {
	_, err := Middleware("")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret(32)
	require.NoError(t, err)
	b, err := GenerateSecret(32)
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)

	_, err = GenerateSecret(4)
	assert.Error(t, err)
}
