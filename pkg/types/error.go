package types

// ErrorResponse is the uniform error envelope of both services.
type ErrorResponse struct {
	Error     ErrorBody `json:"error"`
	Timestamp string    `json:"timestamp"` // RFC 3339
}

// ErrorBody carries the machine-readable code and a human message.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
