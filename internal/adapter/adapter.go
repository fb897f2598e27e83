// Package adapter defines the outbound integration boundary: every external
// service an execution touches (Slack, GitHub, generic HTTP, ...) is driven
// through one Adapter contract, and the ACTION / EXTERNAL_ACTION runners sit
// on top of it.
package adapter

import (
	"context"
	"net/http"
)

// Credentials holds the secret material for one adapter call. Values must
// never be copied into outcomes or error payloads.
type Credentials map[string]string

// Outcome is the result of one adapter operation. Failures are data, not
// panics: a missing credential surfaces as Success=false with a
// 401-equivalent status code.
type Outcome struct {
	Success    bool   `json:"success"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"status_code"`
}

// Adapter is the contract every outbound integration satisfies.
type Adapter interface {
	Name() string
	Operations() []string
	Execute(ctx context.Context, operation string, params map[string]any, creds Credentials) *Outcome
}

// Succeed builds a successful outcome.
func Succeed(data any, statusCode int) *Outcome {
	if statusCode == 0 {
		statusCode = http.StatusOK
	}
	return &Outcome{Success: true, Data: data, StatusCode: statusCode}
}

// Fail builds a failed outcome.
func Fail(message string, statusCode int) *Outcome {
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}
	return &Outcome{Success: false, Error: message, StatusCode: statusCode}
}

// FailAuth builds the 401-equivalent outcome for credential problems, with a
// remediation hint instead of the secret itself.
func FailAuth(hint string) *Outcome {
	return &Outcome{Success: false, Error: hint, StatusCode: http.StatusUnauthorized}
}
