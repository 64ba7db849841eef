// Package service implements the core proxy forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"resume-gateway/internal/client"
	"resume-gateway/internal/config"
	"resume-gateway/internal/model"
)

// hopByHopHeaders apply to a single connection and are never forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// webSocketHandshakeHeaders are generated by the WebSocket dialer itself.
var webSocketHandshakeHeaders = []string{
	"Sec-Websocket-Key",
	"Sec-Websocket-Version",
	"Sec-Websocket-Extensions",
}

// ForwardError reports a failed backend call together with the URL it targeted.
type ForwardError struct {
	Target string
	Err    error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("forward to backend %s: %v", e.Target, e.Err)
}

func (e *ForwardError) Unwrap() error { return e.Err }

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client  *client.BackendClient
	backend config.BackendConfig
	logger  *slog.Logger
	baseURL *url.URL
}

// NewProxyService creates a ProxyService targeting the backend's internal address.
func NewProxyService(c *client.BackendClient, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client:  c,
		backend: cfg.Backend,
		logger:  logger.With("component", "proxy_service"),
		baseURL: &url.URL{Scheme: "http", Host: cfg.Backend.Addr()},
	}
}

// Forward sends a ProxyRequest to the backend and returns the response.
// The caller is responsible for closing the response body.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target := s.TargetURL(pr.Path, pr.RawPath, pr.RawQuery)
	header := s.RequestHeaders(pr)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, target, header, pr.Body, pr.ContentLength)
	if err != nil {
		return nil, &ForwardError{Target: target, Err: err}
	}

	resp.Header = ResponseHeaders(resp.Header)
	return resp, nil
}

// TargetURL rewrites an inbound path and query onto the backend address.
// The UI prefix is kept unless the backend is configured to serve from root.
func (s *ProxyService) TargetURL(path, rawPath, rawQuery string) string {
	u := *s.baseURL
	u.Path = s.rewritePath(path)
	if rawPath != "" {
		u.RawPath = s.rewritePath(rawPath)
	}
	u.RawQuery = rawQuery
	return u.String()
}

// WebSocketURL is TargetURL with the ws scheme.
func (s *ProxyService) WebSocketURL(path, rawPath, rawQuery string) string {
	return "ws" + strings.TrimPrefix(s.TargetURL(path, rawPath, rawQuery), "http")
}

func (s *ProxyService) rewritePath(p string) string {
	if !s.backend.StripPrefix {
		return p
	}
	p = strings.TrimPrefix(p, s.backend.UIPrefix)
	if p == "" || p[0] != '/' {
		p = "/" + p
	}
	return p
}

// RequestHeaders returns the headers sent to the backend: everything the
// caller sent except Host and hop-by-hop headers, plus X-Forwarded-*.
// The Host header is implied by the target URL.
func (s *ProxyService) RequestHeaders(pr *model.ProxyRequest) http.Header {
	dst := pr.Header.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	dst.Del("Host")
	removeHopByHop(dst)

	if pr.RemoteIP != "" {
		if prior := dst.Values("X-Forwarded-For"); len(prior) > 0 {
			dst.Set("X-Forwarded-For", strings.Join(prior, ", ")+", "+pr.RemoteIP)
		} else {
			dst.Set("X-Forwarded-For", pr.RemoteIP)
		}
	}
	if pr.Host != "" && dst.Get("X-Forwarded-Host") == "" {
		dst.Set("X-Forwarded-Host", pr.Host)
	}
	if pr.Scheme != "" && dst.Get("X-Forwarded-Proto") == "" {
		dst.Set("X-Forwarded-Proto", pr.Scheme)
	}
	return dst
}

// WebSocketHeaders is RequestHeaders without the handshake headers the
// dialer writes itself.
func (s *ProxyService) WebSocketHeaders(pr *model.ProxyRequest) http.Header {
	dst := s.RequestHeaders(pr)
	for _, h := range webSocketHandshakeHeaders {
		dst.Del(h)
	}
	return dst
}

// ResponseHeaders returns the backend response headers minus hop-by-hop ones.
func ResponseHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	removeHopByHop(dst)
	return dst
}

// removeHopByHop deletes hop-by-hop headers, including any named in Connection.
func removeHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = textproto.TrimString(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}
