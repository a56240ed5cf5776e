package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/anteroom-chat/anteroom/internal/core"
)

func (s *connSession) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-s.conn.send:
			if !ok {
				return
			}
			if err := s.conn.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := s.conn.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (s *connSession) readPump(ctx context.Context) {
	defer s.teardown()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := s.conn.conn.ReadMessage()
			if err != nil {
				return
			}
			s.handleFrame(ctx, data)
		}
	}
}

// teardown voids the authenticated binding immediately on disconnect.
func (s *connSession) teardown() {
	s.authTimer.Stop()
	s.conn.Close()
	s.cancel()
	s.mu.RLock()
	user, sess := s.user, s.sess
	s.mu.RUnlock()
	if user != nil {
		s.ctl.Registry.Unbind(user.Credential, sess)
	}
	log.Info().Str("module", "signal").Msg("connection closed")
}

func (s *connSession) handleFrame(ctx context.Context, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		s.sendError("bad_payload")
		return
	}

	switch env.Type {
	case "auth":
		s.handleAuth(ctx, data)
		return
	case "ping":
		s.handlePing()
		return
	}

	if _, ok := s.authenticated(); !ok {
		s.sendError("not_authenticated")
		return
	}

	switch env.Type {
	case "request_message_id":
		s.handleRequestMessageID(ctx, data)
	case "typing":
		s.handleMessageEvent(ctx, data, true)
	case "finish":
		s.handleMessageEvent(ctx, data, false)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown event")
		s.sendError("unknown_event")
	}
}

func (s *connSession) sendJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = s.conn.TrySend(b)
}

func (s *connSession) sendError(reason string) {
	s.sendJSON(struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}{Type: "error", Reason: reason})
}

func sendTo(sess core.MemberSession, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("fan-out marshal")
		return
	}
	if err := sess.Signal().TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(sess.User().ID)).Msg("fan-out dropped")
	}
}
