// Package app wires the domain to storage: the membership consensus
// engine and the live-session registry.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/anteroom-chat/anteroom/internal/domain"
	"github.com/anteroom-chat/anteroom/internal/repo"
)

// Consensus owns the lifecycle of rooms and join requests. Admission
// requires a unanimous approve from the roster frozen at request
// creation; a single deny is terminal immediately.
type Consensus struct {
	rooms repo.RoomRepo
}

func NewConsensus(rooms repo.RoomRepo) *Consensus {
	return &Consensus{rooms: rooms}
}

func (c *Consensus) CreateRoom(ctx context.Context, name string, owner *domain.User) (*domain.Room, error) {
	room := domain.NewRoom(name, owner.Credential)
	if err := c.rooms.SaveRoom(ctx, room); err != nil {
		return nil, err
	}
	log.Info().Str("module", "app.consensus").Str("room", string(room.ID)).Str("owner", string(owner.ID)).Msg("room created")
	return room, nil
}

func (c *Consensus) RoomsFor(ctx context.Context, caller *domain.User) ([]*domain.Room, error) {
	return c.rooms.RoomsByMember(ctx, caller.Credential)
}

// RoomDetails returns the room to members only.
func (c *Consensus) RoomDetails(ctx context.Context, id domain.RoomID, caller *domain.User) (*domain.Room, error) {
	room, err := c.rooms.Room(ctx, id)
	if err != nil {
		return nil, err
	}
	if !room.HasMember(caller.Credential) {
		return nil, fmt.Errorf("%w: not a member of room %s", domain.ErrForbidden, id)
	}
	return room, nil
}

func (c *Consensus) RequestJoin(ctx context.Context, id domain.RoomID, requestor *domain.User) (*domain.JoinRequest, error) {
	req, err := c.rooms.CreateJoinRequest(ctx, id, requestor.Credential)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "app.consensus").Str("room", string(id)).Str("request", string(req.ID)).Msg("join requested")
	return req, nil
}

func (c *Consensus) ListJoinRequests(ctx context.Context, id domain.RoomID, caller *domain.User) ([]*domain.JoinRequest, error) {
	room, err := c.rooms.Room(ctx, id)
	if err != nil {
		return nil, err
	}
	if !room.HasMember(caller.Credential) {
		return nil, fmt.Errorf("%w: not a member of room %s", domain.ErrForbidden, id)
	}
	return c.rooms.JoinRequests(ctx, id)
}

// Vote records the caller's vote and reports whether it completed a
// unanimous approval, admitting the requestor.
func (c *Consensus) Vote(ctx context.Context, id domain.RoomID, reqID domain.RequestID, caller *domain.User, approve bool) (*domain.JoinRequest, bool, error) {
	req, admitted, err := c.rooms.CastVote(ctx, id, reqID, caller.Credential, approve)
	if err != nil {
		return nil, false, err
	}
	log.Info().
		Str("module", "app.consensus").
		Str("room", string(id)).
		Str("request", string(reqID)).
		Bool("approve", approve).
		Str("status", string(req.Status)).
		Msg("vote recorded")
	return req, admitted, nil
}

// ExitRoom removes the caller from the room; the room is destroyed
// when the last member leaves. Reports whether that happened.
func (c *Consensus) ExitRoom(ctx context.Context, id domain.RoomID, caller *domain.User) (bool, error) {
	return c.rooms.RemoveMember(ctx, id, caller.Credential)
}

// MemberCredentials is the fan-out roster for a room.
func (c *Consensus) MemberCredentials(ctx context.Context, id domain.RoomID) ([]domain.Credential, error) {
	room, err := c.rooms.Room(ctx, id)
	if err != nil {
		return nil, err
	}
	return room.Members, nil
}

// IsMember tells the signal adapter whether a sender may address a room.
func (c *Consensus) IsMember(ctx context.Context, id domain.RoomID, cred domain.Credential) (bool, error) {
	room, err := c.rooms.Room(ctx, id)
	if err != nil {
		return false, err
	}
	return room.HasMember(cred), nil
}
