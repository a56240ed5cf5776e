// Package core holds the transport-facing session abstractions shared
// by the registry and the signal adapter.
package core

import "github.com/anteroom-chat/anteroom/internal/domain"

// Frame is a raw wire payload (JSON-encoded event).
type Frame []byte

// SignalConnection abstracts the messaging transport endpoint.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds an authenticated identity to its transport
// endpoint. This is what the registry stores and fan-out targets.
type MemberSession interface {
	User() *domain.User
	Signal() SignalConnection
}

type memberSession struct {
	user *domain.User
	conn SignalConnection
}

func NewMemberSession(user *domain.User, conn SignalConnection) MemberSession {
	return &memberSession{user: user, conn: conn}
}

func (m *memberSession) User() *domain.User       { return m.user }
func (m *memberSession) Signal() SignalConnection { return m.conn }
