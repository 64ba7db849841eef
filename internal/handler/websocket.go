package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"resume-gateway/internal/config"
	"resume-gateway/internal/metrics"
	"resume-gateway/internal/service"
)

const closeWriteWait = time.Second

// WebSocketHandler relays WebSocket sessions between callers and the backend.
type WebSocketHandler struct {
	service     *service.ProxyService
	logger      *slog.Logger
	metrics     *metrics.Metrics
	development bool
	dialer      *websocket.Dialer
	upgrader    websocket.Upgrader
}

// NewWebSocketHandler creates a WebSocketHandler. The metrics parameter is
// optional; pass nil to disable session metrics.
func NewWebSocketHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *WebSocketHandler {
	h := &WebSocketHandler{
		service:     svc,
		logger:      logger.With("component", "websocket_handler"),
		metrics:     m,
		development: cfg.Server.Development(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: time.Duration(cfg.Backend.ConnectTimeoutSeconds) * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.Server.AllowedOrigins),
	}
	return h
}

// originChecker accepts requests without an Origin, same-host origins and
// the configured CORS origins.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if slices.Contains(allowed, "*") || slices.Contains(allowed, origin) {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// Handle dials the backend socket, upgrades the caller and copies frames in
// both directions until either side closes.
func (h *WebSocketHandler) Handle(c echo.Context) error {
	req := c.Request()
	pr := proxyRequest(c)
	target := h.service.WebSocketURL(pr.Path, pr.RawPath, pr.RawQuery)

	backend, resp, err := h.dialer.DialContext(req.Context(), target, h.service.WebSocketHeaders(pr))
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return h.relayRejection(c, resp)
		}
		h.logger.Error("proxy error",
			"target", target,
			"err", err,
			"path", req.URL.Path,
		)
		return c.JSON(gatewayStatus(err), gatewayErrorBody(err, h.development))
	}
	defer func() { _ = backend.Close() }()

	upgradeHeader := http.Header{}
	if p := backend.Subprotocol(); p != "" {
		upgradeHeader.Set("Sec-Websocket-Protocol", p)
	}
	for _, v := range resp.Header.Values("Set-Cookie") {
		upgradeHeader.Add("Set-Cookie", v)
	}

	client, err := h.upgrader.Upgrade(c.Response(), req, upgradeHeader)
	if err != nil {
		// Upgrade has already replied to the caller.
		h.logger.Warn("websocket upgrade", "err", err, "path", req.URL.Path)
		return nil
	}
	defer func() { _ = client.Close() }()
	c.Response().Status = http.StatusSwitchingProtocols

	// The server's read timeout survives the hijack.
	_ = client.SetReadDeadline(time.Time{})

	if h.metrics != nil {
		h.metrics.WebSocketSessions.Inc()
		defer h.metrics.WebSocketSessions.Dec()
	}

	h.logger.Debug("websocket session opened", "target", target)

	errc := make(chan error, 2)
	go copyFrames(client, backend, errc)
	go copyFrames(backend, client, errc)

	err = <-errc
	_ = client.Close()
	_ = backend.Close()
	<-errc

	if err != nil && !isNormalClose(err) {
		h.logger.Debug("websocket session ended", "target", target, "err", err)
	}
	return nil
}

// relayRejection passes a refused handshake back to the caller as-is.
func (h *WebSocketHandler) relayRejection(c echo.Context, resp *http.Response) error {
	header := c.Response().Header()
	for k, vals := range service.ResponseHeaders(resp.Header) {
		header[k] = vals
	}
	// The dialer keeps only a prefix of the body.
	header.Del(echo.HeaderContentLength)
	c.Response().WriteHeader(resp.StatusCode)
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Debug("relay handshake rejection", "err", err)
	}
	return nil
}

// copyFrames reads messages from src and writes them to dst, forwarding the
// close frame when src ends.
func copyFrames(dst, src *websocket.Conn, errc chan<- error) {
	for {
		mt, r, err := src.NextReader()
		if err != nil {
			_ = dst.WriteControl(websocket.CloseMessage, closeMessage(err), time.Now().Add(closeWriteWait))
			errc <- err
			return
		}
		w, err := dst.NextWriter(mt)
		if err != nil {
			errc <- err
			return
		}
		if _, err := io.Copy(w, r); err != nil {
			errc <- err
			return
		}
		if err := w.Close(); err != nil {
			errc <- err
			return
		}
	}
}

// closeMessage mirrors the peer's close code where it may be sent on the wire.
func closeMessage(err error) []byte {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		default:
			return websocket.FormatCloseMessage(ce.Code, ce.Text)
		}
	}
	return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
