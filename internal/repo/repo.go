// Package repo defines the storage contracts for identities, rooms and
// join requests, with interchangeable in-memory and Redis backends.
package repo

import (
	"context"

	"github.com/anteroom-chat/anteroom/internal/domain"
)

// IdentityRepo maps an opaque credential to a stable user record.
type IdentityRepo interface {
	CreateUser(ctx context.Context, displayName string) (*domain.User, error)
	UserByCredential(ctx context.Context, cred domain.Credential) (*domain.User, error)
	UserByID(ctx context.Context, id domain.UserID) (*domain.User, error)
	Rename(ctx context.Context, cred domain.Credential, displayName string) (*domain.User, error)
}

// RoomRepo owns rooms and their join requests. Implementations must
// make CastVote and RemoveMember atomic per room: two concurrent
// approvals must not both report admission, and a vote must never be
// double-counted.
type RoomRepo interface {
	SaveRoom(ctx context.Context, room *domain.Room) error
	Room(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	RoomsByMember(ctx context.Context, cred domain.Credential) ([]*domain.Room, error)

	// RemoveMember takes cred out of the member set and destroys the
	// room (and its requests) when the set becomes empty. Reports
	// whether the room was destroyed; domain.ErrNotFound when cred was
	// not a member or the room does not exist.
	RemoveMember(ctx context.Context, id domain.RoomID, cred domain.Credential) (destroyed bool, err error)

	// CreateJoinRequest snapshots the room's current roster into a new
	// pending request. domain.ErrConflict when the requestor is already
	// a member.
	CreateJoinRequest(ctx context.Context, id domain.RoomID, requestor domain.Credential) (*domain.JoinRequest, error)
	JoinRequests(ctx context.Context, id domain.RoomID) ([]*domain.JoinRequest, error)

	// CastVote applies one vote through JoinRequest.ApplyVote and, when
	// the vote completes unanimous approval, adds the requestor to the
	// room's member set in the same atomic step.
	CastVote(ctx context.Context, id domain.RoomID, reqID domain.RequestID, voter domain.Credential, approve bool) (*domain.JoinRequest, bool, error)
}
