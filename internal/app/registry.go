package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/anteroom-chat/anteroom/internal/core"
	"github.com/anteroom-chat/anteroom/internal/domain"
)

type sessionEntry struct {
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// Registry maps an authenticated credential to its live connection.
// Insert happens on auth, removal on disconnect; a credential that
// authenticates again from a new connection overwrites the old binding
// (last-bound-wins for routing).
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.Credential]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.Credential]*sessionEntry)}
}

func (r *Registry) Bind(cred domain.Credential, sess core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[cred] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("user", string(sess.User().ID)).Msg("bound session")
}

// Unbind removes the binding only if sess still owns it, so an old
// connection disconnecting cannot evict a newer binding for the same
// credential.
func (r *Registry) Unbind(cred domain.Credential, sess core.MemberSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[cred]
	if !ok || e.Session != sess {
		return
	}
	delete(r.sessions, cred)
	log.Info().Str("module", "app.registry").Str("user", string(sess.User().ID)).Msg("unbound session")
}

func (r *Registry) Session(cred domain.Credential) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[cred]; ok {
		return e.Session, true
	}
	return nil, false
}

// SessionsFor resolves the currently bound sessions for a set of
// credentials, skipping members without a live connection.
func (r *Registry) SessionsFor(creds []domain.Credential) []core.MemberSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.MemberSession, 0, len(creds))
	for _, c := range creds {
		if e, ok := r.sessions[c]; ok {
			out = append(out, e.Session)
		}
	}
	return out
}

// Cancel fires the context cancel bound with the session, if any.
func (r *Registry) Cancel(cred domain.Credential) bool {
	r.mu.RLock()
	e, ok := r.sessions[cred]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	return true
}
