// Package models holds the request throttling vocabulary shared by the
// bucket stores and the HTTP middleware.
package models

import (
	"net/http"
	"strings"
	"time"
)

// EndpointClass groups routes that share a request budget.
type EndpointClass string

const (
	// ClassRead covers safe methods (GET, HEAD, OPTIONS).
	ClassRead EndpointClass = "read"
	// ClassWrite covers every state-changing request.
	ClassWrite EndpointClass = "write"
)

// ClassOf maps an HTTP method to its endpoint class.
func ClassOf(method string) EndpointClass {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ClassRead
	default:
		return ClassWrite
	}
}

// Limit is a request budget over a sliding window.
type Limit struct {
	RequestsPerWindow int
	Window            time.Duration
}

// Result is the outcome of one throttle check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, only set when not allowed
}

// ExceededResponse is written with 429 Too Many Requests.
type ExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// SanitizeKeySegment escapes the key delimiter so a caller-supplied
// identifier cannot address another caller's bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// NewKey builds the bucket key for a subject within a class. Subjects are
// prefixed by kind ("caller" or "ip").
func NewKey(class EndpointClass, kind, subject string) string {
	return "ratelimit:" + string(class) + ":" + kind + ":" + SanitizeKeySegment(subject)
}
