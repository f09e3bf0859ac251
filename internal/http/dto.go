// Package httpapi provides the webhook listener and admin HTTP handlers of the connector.
package httpapi

// PublishResponse is returned once a delivery's checkpoint is acknowledged
type PublishResponse struct {
	Published int `json:"published"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	State   string `json:"state"`
	Pending int    `json:"pending"`
	Emitted uint64 `json:"emitted"`
}

// ErrorResponse represents API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Error codes
const (
	CodeUnknownResource  = "UNKNOWN_RESOURCE"
	CodeMissingHeader    = "MISSING_IDENTITY_HEADER"
	CodeInvalidBody      = "INVALID_BODY"
	CodeBodyTooLarge     = "BODY_TOO_LARGE"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeSessionClosed    = "SESSION_CLOSED"
	CodeCommitFailed     = "COMMIT_FAILED"
)
