package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/anteroom-chat/anteroom/internal/domain"
)

// messageEvent is the fan-out shape for typing and finish.
type messageEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	RoomID    string `json:"room_id"`
	Sender    string `json:"sender"`
	Payload   string `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// handleRequestMessageID issues a server-owned message id, correlated
// back to the caller by its token.
func (s *connSession) handleRequestMessageID(ctx context.Context, data []byte) {
	user, _ := s.authenticated()
	var p struct {
		Type             string `json:"type"`
		CorrelationToken string `json:"correlation_token"`
		RoomID           string `json:"room_id"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.CorrelationToken == "" || p.RoomID == "" {
		s.sendError("bad_payload")
		return
	}
	if !s.requireMember(ctx, domain.RoomID(p.RoomID), user) {
		return
	}

	msgID := uuid.NewString()
	log.Debug().Str("module", "signal").Str("message", msgID).Str("room", p.RoomID).Msg("issued message id")
	s.sendJSON(struct {
		Type             string `json:"type"`
		CorrelationToken string `json:"correlation_token"`
		MessageID        string `json:"message_id"`
	}{Type: "message_id", CorrelationToken: p.CorrelationToken, MessageID: msgID})
}

// handleMessageEvent relays a typing or finish event to every other
// member of the room with a live connection, then acks the sender.
func (s *connSession) handleMessageEvent(ctx context.Context, data []byte, draft bool) {
	user, _ := s.authenticated()
	var p struct {
		Type             string `json:"type"`
		CorrelationToken string `json:"correlation_token"`
		MessageID        string `json:"message_id"`
		RoomID           string `json:"room_id"`
		Payload          string `json:"payload"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == "" || p.RoomID == "" {
		s.sendError("bad_payload")
		return
	}
	roomID := domain.RoomID(p.RoomID)
	if !s.requireMember(ctx, roomID, user) {
		return
	}

	creds, err := s.ctl.Consensus.MemberCredentials(ctx, roomID)
	if err != nil {
		s.sendError("room_unavailable")
		return
	}
	targets := make([]domain.Credential, 0, len(creds))
	for _, c := range creds {
		if c != user.Credential {
			targets = append(targets, c)
		}
	}

	eventType := "finish"
	if draft {
		eventType = "typing"
	}
	event := messageEvent{
		Type:      eventType,
		MessageID: p.MessageID,
		RoomID:    p.RoomID,
		Sender:    string(user.ID),
		Payload:   p.Payload,
		Timestamp: time.Now().UTC().UnixMilli(),
	}
	for _, sess := range s.ctl.Registry.SessionsFor(targets) {
		sendTo(sess, event)
	}

	s.sendJSON(struct {
		Type             string `json:"type"`
		CorrelationToken string `json:"correlation_token"`
		MessageID        string `json:"message_id"`
	}{Type: "ack", CorrelationToken: p.CorrelationToken, MessageID: p.MessageID})
}

// requireMember rejects senders addressing rooms they don't belong to.
func (s *connSession) requireMember(ctx context.Context, roomID domain.RoomID, user *domain.User) bool {
	member, err := s.ctl.Consensus.IsMember(ctx, roomID, user.Credential)
	if errors.Is(err, domain.ErrNotFound) {
		s.sendError("room_not_found")
		return false
	}
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", string(roomID)).Msg("membership check")
		s.sendError("room_unavailable")
		return false
	}
	if !member {
		s.sendError("not_a_member")
		return false
	}
	return true
}
