package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mediconnect/consult-relay/internal/chat"
	"github.com/mediconnect/consult-relay/internal/logger"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxFrameBytes = 16 << 10
)

// handleWebsocket upgrades an authenticated request to the live channel.
// The token comes from the Authorization header or the token query
// parameter, since browsers cannot set headers on a websocket handshake.
func (s *Server) handleWebsocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request)
		if token == "" {
			token = c.Query("token")
		}
		id, err := s.chat.Authenticate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			slog.WarnContext(c.Request.Context(), "websocket upgrade failed", "error", err)
			return
		}
		defer ws.Close()

		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{IdentityID: id.ID, Component: "ws"})
		conn, err := s.chat.Connect(ctx, id)
		if err != nil {
			closeWith(ws, websocket.CloseInternalServerErr, "connect failed")
			return
		}
		ctx = logger.WithLogFields(ctx, logger.LogFields{ConnectionID: conn.ID})

		written := make(chan struct{})
		go func() {
			defer close(written)
			writeLoop(ctx, ws, conn)
		}()

		readLoop(ctx, s.chat, ws, conn)

		s.chat.Disconnect(context.WithoutCancel(ctx), conn)
		<-written
	}
}

// readLoop applies client frames until the peer goes away or sends a
// malformed frame.
func readLoop(ctx context.Context, svc *chat.Service, ws *websocket.Conn, conn *chat.Connection) {
	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.InfoContext(ctx, "websocket read failed", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			closeWith(ws, websocket.CloseUnsupportedData, "text frames only")
			return
		}
		if err := svc.HandleFrame(ctx, conn, raw); err != nil {
			var perr *chat.ProtocolError
			if errors.As(err, &perr) {
				closeWith(ws, websocket.CloseProtocolError, perr.Error())
				return
			}
			closeWith(ws, websocket.CloseInternalServerErr, "internal error")
			return
		}
	}
}

// writeLoop is the only writer of data frames on ws.
func writeLoop(ctx context.Context, ws *websocket.Conn, conn *chat.Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	send := func(ev chat.Event) error {
		f, err := chat.EncodeFrame(ev)
		if err != nil {
			slog.ErrorContext(ctx, "encode event", "event", ev.EventName(), "error", err)
			return nil
		}
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		return ws.WriteJSON(f)
	}

	for {
		select {
		case <-conn.Done():
			return
		case ev := <-conn.Outbound():
			if err := send(ev); err != nil {
				slog.InfoContext(ctx, "websocket write failed", "error", err)
				// Unblocks the reader.
				ws.Close()
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				ws.Close()
				return
			}
		}
	}
}

// closeWith sends a close frame. WriteControl is safe alongside the writer.
func closeWith(ws *websocket.Conn, code int, reason string) {
	if len(reason) > 120 {
		reason = reason[:120]
	}
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
