package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type classified struct{}

func (classified) Error() string      { return "circuit open" }
func (classified) AppErrorKind() Kind { return KindUnavailable }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("bad %s", "input"), KindValidation},
		{"wrapped conflict", fmt.Errorf("complete: %w", Conflict("already completed")), KindConflict},
		{"classifier", fmt.Errorf("call: %w", classified{}), KindUnavailable},
		{"plain", errors.New("boom"), KindInternal},
		{"nil", nil, KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestStatusAndCode(t *testing.T) {
	tests := []struct {
		kind   Kind
		status int
		code   string
	}{
		{KindValidation, http.StatusBadRequest, CodeValidation},
		{KindAuth, http.StatusUnauthorized, CodeAuth},
		{KindNotFound, http.StatusNotFound, CodeNotFound},
		{KindConflict, http.StatusConflict, CodeConflict},
		{KindUpstream, http.StatusBadGateway, CodeUpstream},
		{KindUnavailable, http.StatusServiceUnavailable, CodeUnavailable},
		{KindRateLimited, http.StatusTooManyRequests, CodeRateLimited},
		{KindInternal, http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.status, Status(tt.kind))
			assert.Equal(t, tt.code, Code(tt.kind))
			assert.Equal(t, tt.kind, KindFromCode(tt.code))
		})
	}
}

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Upstream(cause, "provider %s failed", "openai")

	assert.Equal(t, "provider openai failed: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)

	u := Unavailable(12*time.Second, "circuit open")
	assert.Equal(t, 12*time.Second, u.RetryAfter)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Upstream(nil, "x")))
	assert.True(t, Retryable(Unavailable(time.Second, "x")))
	assert.False(t, Retryable(Validation("x")))
	assert.False(t, Retryable(Auth("x")))
	assert.False(t, Retryable(Conflict("x")))
}
