package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RequestID string

type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusDenied   RequestStatus = "denied"
)

type Vote string

const (
	VoteUnset   Vote = "unset"
	VoteApprove Vote = "approve"
	VoteDeny    Vote = "deny"
)

// MemberDecision is one roster slot of a join request.
type MemberDecision struct {
	Member Credential `json:"-"`
	Vote   Vote       `json:"vote"`
}

// JoinRequest is a proposal for a non-member to be admitted to a room.
// The decision roster is frozen at creation; members admitted while the
// request is pending do not get a vote.
type JoinRequest struct {
	ID          RequestID        `json:"request_id"`
	RoomID      RoomID           `json:"room_id"`
	Requestor   Credential       `json:"-"`
	Status      RequestStatus    `json:"status"`
	RequestedAt time.Time        `json:"requested_at"`
	Decisions   []MemberDecision `json:"decisions"`
}

// NewJoinRequest snapshots the room's current member set as the roster,
// all votes unset.
func NewJoinRequest(room *Room, requestor Credential) *JoinRequest {
	decisions := make([]MemberDecision, 0, len(room.Members))
	for _, m := range room.Members {
		decisions = append(decisions, MemberDecision{Member: m, Vote: VoteUnset})
	}
	return &JoinRequest{
		ID:          RequestID(uuid.NewString()),
		RoomID:      room.ID,
		Requestor:   requestor,
		Status:      StatusPending,
		RequestedAt: time.Now().UTC(),
		Decisions:   decisions,
	}
}

// ApplyVote records one member's vote and evaluates the outcome.
// A single deny is terminal immediately; approval requires every roster
// vote to be approve. The returned flag reports whether this vote
// completed unanimous approval, i.e. the requestor must now be admitted.
//
// Callers must run this inside whatever serialization the store
// provides for the request; the method itself is pure state.
func (r *JoinRequest) ApplyVote(voter Credential, approve bool) (admitted bool, err error) {
	if r.Status != StatusPending {
		return false, fmt.Errorf("%w: request already %s", ErrConflict, r.Status)
	}
	slot := -1
	for i := range r.Decisions {
		if r.Decisions[i].Member == voter {
			slot = i
			break
		}
	}
	if slot < 0 {
		return false, fmt.Errorf("%w: not on the decision roster", ErrForbidden)
	}
	if r.Decisions[slot].Vote != VoteUnset {
		return false, fmt.Errorf("%w: vote already cast", ErrConflict)
	}

	if !approve {
		r.Decisions[slot].Vote = VoteDeny
		r.Status = StatusDenied
		return false, nil
	}

	r.Decisions[slot].Vote = VoteApprove
	for i := range r.Decisions {
		if r.Decisions[i].Vote != VoteApprove {
			return false, nil
		}
	}
	r.Status = StatusApproved
	return true, nil
}

func (r *JoinRequest) Clone() *JoinRequest {
	cp := *r
	cp.Decisions = append([]MemberDecision(nil), r.Decisions...)
	return &cp
}
