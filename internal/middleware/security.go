package middleware

import (
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// securityHeaders are response defaults; a proxied backend response that
// sets the same header replaces them.
var securityHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "SAMEORIGIN",
	"Referrer-Policy":        "strict-origin-when-cross-origin",
}

// SecurityHeaders returns an Echo middleware that adds security headers
// and strips hop-by-hop headers from inbound requests. WebSocket handshakes
// keep Connection and Upgrade so the proxy can recognise them.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !websocket.IsWebSocketUpgrade(req) {
				for _, h := range hopByHopHeaders {
					req.Header.Del(h)
				}
			}

			// Set before the handler runs: streamed responses commit headers
			// on the first write.
			for k, v := range securityHeaders {
				c.Response().Header().Set(k, v)
			}

			return next(c)
		}
	}
}
