package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const writeTimeout = 10 * time.Second

// ServeSession upgrades the request to a websocket and streams the session's
// events as JSON until the client disconnects or ctx ends.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request, sessionID int64) {
	// Subscribe before the handshake completes so no event after it is missed.
	sub := h.Subscribe(sessionID)
	defer sub.Close()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.CloseNow()

	// The client never sends; CloseRead handles pings and reports disconnects.
	ctx := conn.CloseRead(r.Context())
	slog.Debug("websocket subscriber connected", "session_id", sessionID)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Debug("websocket write failed", "session_id", sessionID, "error", err)
				}
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
