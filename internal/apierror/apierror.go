// Package apierror holds the JSON error bodies of the ops server. Dashboards
// branch on Code; Detail is for the operator and never carries driver output.
package apierror

import "net/http"

// Error codes.
const (
	CodeBadRequest  = "bad_request"
	CodeValidation  = "validation_failed"
	CodeNotFound    = "not_found"
	CodeConflict    = "conflict"
	CodeUnprocessed = "unprocessable"
	CodeTimeout     = "timeout"
	CodeInternal    = "internal"
)

var statusByCode = map[string]int{
	CodeBadRequest:  http.StatusBadRequest,
	CodeValidation:  http.StatusUnprocessableEntity,
	CodeNotFound:    http.StatusNotFound,
	CodeConflict:    http.StatusConflict,
	CodeUnprocessed: http.StatusUnprocessableEntity,
	CodeTimeout:     http.StatusServiceUnavailable,
	CodeInternal:    http.StatusInternalServerError,
}

// APIError is the body of every 4xx/5xx response. RequestID lets an operator
// match a failed requeue to the server log line.
type APIError struct {
	Code      string            `json:"code"`
	Detail    string            `json:"detail"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func New(code, detail string) *APIError {
	return &APIError{Code: code, Detail: detail}
}

// Internal hides the cause; it is only logged.
func Internal() *APIError {
	return New(CodeInternal, "internal server error")
}

// Validation maps struct field names to the validator tag that failed.
func Validation(fields map[string]string) *APIError {
	return &APIError{Code: CodeValidation, Detail: "validation error", Fields: fields}
}

func (e *APIError) WithRequestID(id string) *APIError {
	e.RequestID = id
	return e
}

// Status is the HTTP status for e.Code; unknown codes are 500.
func (e *APIError) Status() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}
