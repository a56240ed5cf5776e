package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/anteroom-chat/anteroom/internal/core"
	"github.com/anteroom-chat/anteroom/internal/domain"
)

type identityDTO struct {
	PublicID    string `json:"public_id"`
	DisplayName string `json:"display_name"`
}

// handleAuth is the sole gate into the authenticated state: a
// credential lookup against the identity store. Failure terminates the
// connection; success binds it in the registry for the rest of its
// life.
func (s *connSession) handleAuth(ctx context.Context, data []byte) {
	if _, ok := s.authenticated(); ok {
		s.sendError("already_authenticated")
		return
	}

	var p struct {
		Type       string `json:"type"`
		Credential string `json:"credential"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.Credential == "" {
		s.sendError("bad_payload")
		return
	}

	user, err := s.ctl.Identity.UserByCredential(ctx, domain.Credential(p.Credential))
	if err != nil {
		log.Warn().Str("module", "signal").Msg("auth failed")
		s.sendJSON(struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		}{Type: "auth_failed", Reason: "unknown credential"})
		s.conn.Close()
		s.cancel()
		return
	}

	if !s.authTimer.Stop() {
		// Grace timer already fired; the connection is going away.
		return
	}

	sess := core.NewMemberSession(user, s.conn)
	s.mu.Lock()
	s.user = user
	s.sess = sess
	s.mu.Unlock()
	s.ctl.Registry.Bind(user.Credential, sess, s.cancel)

	log.Info().Str("module", "signal").Str("user", string(user.ID)).Msg("authenticated")
	s.sendJSON(struct {
		Type     string      `json:"type"`
		Identity identityDTO `json:"identity"`
	}{
		Type:     "auth_success",
		Identity: identityDTO{PublicID: string(user.ID), DisplayName: user.DisplayName},
	})
}

func (s *connSession) handlePing() {
	s.sendJSON(struct {
		Type string `json:"type"`
	}{Type: "pong"})
}
