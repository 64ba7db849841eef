// Package model defines shared types for the gateway.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded to the backend.
// It lives for one request and is dropped once the response is streamed.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	Path          string
	RawPath       string // escaped form of Path, empty when the default encoding applies
	RawQuery      string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64

	// Forwarding metadata appended as X-Forwarded-* headers.
	RemoteIP string
	Host     string
	Scheme   string
}

// ProxyResponse represents the backend response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
