package server

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/pulsedate/realtime/src/auth"
	"github.com/pulsedate/realtime/src/hub"
	"github.com/pulsedate/realtime/src/session"
	"github.com/pulsedate/realtime/src/types"
)

// handleWS routes an upgrade request to the session protocol matching
// its path. Authorization happens before the upgrade: a refused
// connection never reaches OPEN and never touches the registry.
func (s *Server) handleWS(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())

	identity, err := s.resolver.Resolve(context.Background(), wsCredential(ctx))
	if err != nil {
		// Anonymous. Chat refuses below; the other channels permit it.
		identity = auth.Identity{}
	}

	switch {
	case strings.HasPrefix(path, "/ws/conversations/"):
		s.serveChat(ctx, strings.TrimPrefix(path, "/ws/conversations/"), identity)
	case path == "/ws/notifications":
		s.serveNotifications(ctx, identity)
	case strings.HasPrefix(path, "/ws/anonymous-chat/"):
		s.serveAnonymous(ctx, strings.TrimPrefix(path, "/ws/anonymous-chat/"))
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (s *Server) serveChat(ctx *fasthttp.RequestCtx, idPart string, identity auth.Identity) {
	conversationID, err := strconv.ParseInt(strings.TrimSuffix(idPart, "/"), 10, 64)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}

	if err := session.AuthorizeChat(context.Background(), s.store, conversationID, identity); err != nil {
		s.logger.Debug().Err(err).Int64("conversation_id", conversationID).Int64("user_id", identity.UserID).Msg("chat connection refused")
		ctx.SetStatusCode(fasthttp.StatusForbidden)
		return
	}

	s.upgrade(ctx, identity, func(client *hub.Client) {
		session.NewChatSession(client, s.hub, s.store, s.presence, s.notifier, conversationID, s.logger).Run(context.Background())
	})
}

func (s *Server) serveNotifications(ctx *fasthttp.RequestCtx, identity auth.Identity) {
	s.upgrade(ctx, identity, func(client *hub.Client) {
		session.NewNotificationSession(client, s.hub, s.presence, s.logger).Run(context.Background())
	})
}

func (s *Server) serveAnonymous(ctx *fasthttp.RequestCtx, roomPart string) {
	roomID := strings.TrimSuffix(roomPart, "/")
	if roomID == "" {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	nickname := string(ctx.QueryArgs().Peek("nickname"))

	s.upgrade(ctx, auth.Identity{}, func(client *hub.Client) {
		session.NewAnonymousSession(client, s.hub, roomID, nickname, s.logger).Run(context.Background())
	})
}

// upgrade completes the WebSocket handshake, registers the connection
// and hands it to run, which blocks until the session ends.
func (s *Server) upgrade(ctx *fasthttp.RequestCtx, identity auth.Identity, run func(*hub.Client)) {
	upgrader := websocket.FastHTTPUpgrader{
		ReadBufferSize:  s.cfg.ReadBufferSize,
		WriteBufferSize: s.cfg.WriteBufferSize,
	}

	err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		client := hub.NewClient(uuid.New().String(), identity.UserID, identity.Username, newWSConn(conn, s.cfg.WriteTimeout), s.hub)
		s.hub.Register(client)
		go client.WritePump()
		run(client)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
	}
}

// wsCredential extracts the bearer credential from the token query
// parameter or the Authorization header.
func wsCredential(ctx *fasthttp.RequestCtx) string {
	if token := string(ctx.QueryArgs().Peek("token")); token != "" {
		return token
	}
	return bearerCredential(string(ctx.Request.Header.Peek("Authorization")))
}

// wsConn adapts fasthttp/websocket.Conn to types.Conn.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func newWSConn(conn *websocket.Conn, writeTimeout time.Duration) types.Conn {
	return &wsConn{conn: conn, writeTimeout: writeTimeout}
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *wsConn) WriteMessage(data []byte) error {
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}
