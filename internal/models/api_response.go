package models

// Status constants for API responses
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// APIResponse represents a standardized API response structure.
type APIResponse struct {
	Status string      `json:"status"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponse creates a new API response builder.
func NewAPIResponse() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the response status.
func (b *APIResponseBuilder) WithStatus(status string) *APIResponseBuilder {
	b.response.Status = status
	return b
}

// WithResult sets the response result payload.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// WithError sets the response error message.
func (b *APIResponseBuilder) WithError(err string) *APIResponseBuilder {
	b.response.Error = err
	return b
}

// Build returns the constructed API response.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// SuccessResponse creates a success response with a result payload.
func SuccessResponse(result interface{}) APIResponse {
	return NewAPIResponse().WithStatus(StatusOK).WithResult(result).Build()
}

// ErrorResponse creates an error response with the given message.
func ErrorResponse(message string) APIResponse {
	return NewAPIResponse().WithStatus(StatusError).WithError(message).Build()
}
