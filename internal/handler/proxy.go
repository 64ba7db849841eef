package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"

	"resume-gateway/internal/config"
	"resume-gateway/internal/model"
	"resume-gateway/internal/service"
)

const copyBufferSize = 32 * 1024

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, copyBufferSize)
		return &b
	},
}

// ProxyHandler forwards UI traffic to the backend process.
type ProxyHandler struct {
	service     *service.ProxyService
	logger      *slog.Logger
	development bool
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service:     svc,
		logger:      logger.With("component", "proxy_handler"),
		development: cfg.Server.Development(),
	}
}

// Handle proxies the request to the backend and streams the response back,
// flushing after every chunk so progressive updates reach the caller as
// they are produced.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	pr := proxyRequest(c)
	pr.Body = req.Body
	pr.ContentLength = req.ContentLength

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	header := c.Response().Header()
	for key, vals := range resp.Header {
		header[key] = vals
	}
	c.Response().WriteHeader(resp.StatusCode)
	c.Response().Flush()

	// Status and headers are already sent, so a mid-stream failure can only
	// truncate the body.
	buf := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(buf)
	if _, err := io.CopyBuffer(flushWriter{c.Response()}, resp.Body, *buf); err != nil {
		if errors.Is(err, context.Canceled) || req.Context().Err() != nil {
			h.logger.Debug("client went away mid-stream", "path", req.URL.Path)
		} else {
			h.logger.Error("streaming response body",
				"err", err,
				"path", req.URL.Path,
			)
		}
	}

	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	req := c.Request()
	target := ""
	var fe *service.ForwardError
	if errors.As(err, &fe) {
		target = fe.Target
	}

	if errors.Is(err, context.Canceled) && req.Context().Err() != nil {
		h.logger.Debug("client went away before backend responded",
			"target", target,
			"path", req.URL.Path,
		)
		return nil
	}

	h.logger.Error("proxy error",
		"target", target,
		"err", err,
		"path", req.URL.Path,
	)

	return c.JSON(gatewayStatus(err), gatewayErrorBody(err, h.development))
}

// gatewayStatus is 504 when the backend timed out and 502 otherwise.
func gatewayStatus(err error) int {
	if isTimeout(err) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func gatewayErrorBody(err error, development bool) map[string]string {
	body := map[string]string{"error": "Internal server error"}
	if development {
		body["message"] = err.Error()
	}
	return body
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// proxyRequest copies the transport-independent parts of the inbound request.
func proxyRequest(c echo.Context) *model.ProxyRequest {
	req := c.Request()
	return &model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     req.URL.Path,
		RawPath:  req.URL.RawPath,
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     http.NoBody,
		RemoteIP: echo.ExtractIPDirect()(req),
		Host:     req.Host,
		Scheme:   c.Scheme(),
	}
}

// flushWriter pushes every write to the client immediately.
type flushWriter struct {
	r *echo.Response
}

func (w flushWriter) Write(p []byte) (int, error) {
	n, err := w.r.Write(p)
	if err != nil {
		return n, err
	}
	w.r.Flush()
	return n, nil
}
