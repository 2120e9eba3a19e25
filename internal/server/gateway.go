package server

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// gatewayHandler bridges a WebSocket client into the control protocol.
// The accepted socket is wrapped as a net.Conn and served by the same
// session handler as a plain TCP client; every text message carries one or
// more newline-terminated protocol lines.
func (a *App) gatewayHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Info("incoming gateway request",
		slog.String("remoteAddr", r.RemoteAddr),
		slog.String("uri", r.RequestURI),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("failed to accept websocket connection", slog.Any("error", err))
		return
	}

	nc := websocket.NetConn(r.Context(), wsConn, websocket.MessageText)
	a.handleControlConn(nc)
}
