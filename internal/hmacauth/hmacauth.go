// Package hmacauth signs and verifies request bodies with HMAC-SHA256.
//
// The signature travels in the X-HMAC-Signature header as lowercase hex of
// HMAC-SHA256(secret, raw body).
package hmacauth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/questforge/encounterd/internal/apperror"
	"github.com/questforge/encounterd/internal/logging"
	"github.com/questforge/encounterd/pkg/types"
)

// HeaderName is the request header carrying the signature.
const HeaderName = "X-HMAC-Signature"

// MaxBodyBytes bounds the body read for verification.
const MaxBodyBytes int64 = 1 << 20

// ErrEmptySecret is returned when a signer or verifier is built without a secret.
var ErrEmptySecret = errors.New("hmacauth: empty secret")

// Sign returns the hex HMAC-SHA256 of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the hex HMAC-SHA256 of body.
// Malformed hex never verifies.
func Verify(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// SignRequest sets the signature header on req for body.
// The caller must also use body as req's payload.
func SignRequest(req *http.Request, body []byte, secret string) error {
	if secret == "" {
		return ErrEmptySecret
	}
	req.Header.Set(HeaderName, Sign(body, secret))
	return nil
}

// ErrorHandler writes a rejection.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type options struct {
	maxBody int64
	onError ErrorHandler
	onFail  func(reason string)
}

// Option configures Middleware.
type Option func(*options)

// WithMaxBody overrides MaxBodyBytes.
func WithMaxBody(n int64) Option {
	return func(o *options) { o.maxBody = n }
}

// WithErrorHandler replaces the default JSON error writer.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *options) { o.onError = h }
}

// WithFailureHook is called with a short reason for every rejected request.
func WithFailureHook(fn func(reason string)) Option {
	return func(o *options) { o.onFail = fn }
}

// Middleware rejects requests whose body does not match X-HMAC-Signature.
// Rejection happens before next runs; accepted bodies are restored for next.
func Middleware(secret string, opts ...Option) (func(http.Handler) http.Handler, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	o := options{maxBody: MaxBodyBytes, onError: writeDefaultError}
	for _, opt := range opts {
		opt(&o)
	}

	reject := func(w http.ResponseWriter, r *http.Request, reason string, err error) {
		logging.Warn().
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Str("reason", reason).
			Msg("rejected request signature")
		if o.onFail != nil {
			o.onFail(reason)
		}
		o.onError(w, r, err)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := r.Header.Get(HeaderName)
			if sig == "" {
				reject(w, r, "missing", apperror.Auth("missing %s header", HeaderName))
				return
			}

			var body []byte
			if r.Body != nil {
				var err error
				body, err = io.ReadAll(io.LimitReader(r.Body, o.maxBody+1))
				r.Body.Close()
				if err != nil {
					reject(w, r, "read", apperror.Validation("read body: %v", err))
					return
				}
				if int64(len(body)) > o.maxBody {
					reject(w, r, "too_large", apperror.Validation("request body exceeds %d bytes", o.maxBody))
					return
				}
			}

			if !Verify(body, sig, secret) {
				reject(w, r, "mismatch", apperror.Auth("invalid request signature"))
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			next.ServeHTTP(w, r)
		})
	}, nil
}

func writeDefaultError(w http.ResponseWriter, _ *http.Request, err error) {
	kind := apperror.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperror.Status(kind))
	json.NewEncoder(w).Encode(types.ErrorResponse{
		Error:     types.ErrorBody{Code: apperror.Code(kind), Message: err.Error()},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// GenerateSecret returns a random hex secret of n bytes.
func GenerateSecret(n int) (string, error) {
	if n < 16 {
		return "", fmt.Errorf("hmacauth: secret must be at least 16 bytes, got %d", n)
	}
	return randomHex(n)
}
