package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/anteroom-chat/anteroom/internal/domain"
)

// MemoryIdentityRepo is a threadsafe in-memory identity store.
type MemoryIdentityRepo struct {
	mu     sync.RWMutex
	byCred map[domain.Credential]*domain.User
	byID   map[domain.UserID]*domain.User
}

func NewMemoryIdentityRepo() *MemoryIdentityRepo {
	return &MemoryIdentityRepo{
		byCred: make(map[domain.Credential]*domain.User),
		byID:   make(map[domain.UserID]*domain.User),
	}
}

func (r *MemoryIdentityRepo) CreateUser(_ context.Context, displayName string) (*domain.User, error) {
	u, err := domain.NewUser(displayName)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.byCred[u.Credential] = u
	r.byID[u.ID] = u
	r.mu.Unlock()
	log.Info().Str("module", "repo.memory").Str("user", string(u.ID)).Msg("created user")
	cp := *u
	return &cp, nil
}

func (r *MemoryIdentityRepo) UserByCredential(_ context.Context, cred domain.Credential) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byCred[cred]
	if !ok {
		return nil, domain.ErrAuth
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryIdentityRepo) UserByID(_ context.Context, id domain.UserID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryIdentityRepo) Rename(_ context.Context, cred domain.Credential, displayName string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byCred[cred]
	if !ok {
		return nil, domain.ErrAuth
	}
	if err := u.SetDisplayName(displayName); err != nil {
		return nil, err
	}
	cp := *u
	return &cp, nil
}

// roomState guards one room and its requests with a single mutex so
// vote evaluation, admission and exits on the same room serialize
// without any global lock.
type roomState struct {
	mu       sync.Mutex
	room     *domain.Room
	requests map[domain.RequestID]*domain.JoinRequest
}

// MemoryRoomRepo is a threadsafe in-memory room store.
type MemoryRoomRepo struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomState
}

func NewMemoryRoomRepo() *MemoryRoomRepo {
	return &MemoryRoomRepo{rooms: make(map[domain.RoomID]*roomState)}
}

func (r *MemoryRoomRepo) state(id domain.RoomID) (*roomState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: room %s", domain.ErrNotFound, id)
	}
	return st, nil
}

func (r *MemoryRoomRepo) SaveRoom(_ context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[room.ID]; ok {
		return fmt.Errorf("%w: room %s exists", domain.ErrConflict, room.ID)
	}
	r.rooms[room.ID] = &roomState{
		room:     room.Clone(),
		requests: make(map[domain.RequestID]*domain.JoinRequest),
	}
	log.Info().Str("module", "repo.memory").Str("room", string(room.ID)).Msg("created room")
	return nil
}

func (r *MemoryRoomRepo) Room(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	st, err := r.state(id)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.room.Clone(), nil
}

func (r *MemoryRoomRepo) RoomsByMember(_ context.Context, cred domain.Credential) ([]*domain.Room, error) {
	r.mu.RLock()
	states := make([]*roomState, 0, len(r.rooms))
	for _, st := range r.rooms {
		states = append(states, st)
	}
	r.mu.RUnlock()

	out := make([]*domain.Room, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		if st.room.HasMember(cred) {
			out = append(out, st.room.Clone())
		}
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRoomRepo) RemoveMember(_ context.Context, id domain.RoomID, cred domain.Credential) (bool, error) {
	st, err := r.state(id)
	if err != nil {
		return false, err
	}
	st.mu.Lock()
	if !st.room.RemoveMember(cred) {
		st.mu.Unlock()
		return false, fmt.Errorf("%w: not a member of room %s", domain.ErrNotFound, id)
	}
	empty := len(st.room.Members) == 0
	st.mu.Unlock()

	if !empty {
		return false, nil
	}
	r.mu.Lock()
	delete(r.rooms, id)
	r.mu.Unlock()
	log.Info().Str("module", "repo.memory").Str("room", string(id)).Msg("room destroyed, last member left")
	return true, nil
}

func (r *MemoryRoomRepo) CreateJoinRequest(_ context.Context, id domain.RoomID, requestor domain.Credential) (*domain.JoinRequest, error) {
	st, err := r.state(id)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.room.HasMember(requestor) {
		return nil, fmt.Errorf("%w: already a member", domain.ErrConflict)
	}
	req := domain.NewJoinRequest(st.room, requestor)
	st.requests[req.ID] = req
	return req.Clone(), nil
}

func (r *MemoryRoomRepo) JoinRequests(_ context.Context, id domain.RoomID) ([]*domain.JoinRequest, error) {
	st, err := r.state(id)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*domain.JoinRequest, 0, len(st.requests))
	for _, req := range st.requests {
		out = append(out, req.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (r *MemoryRoomRepo) CastVote(_ context.Context, id domain.RoomID, reqID domain.RequestID, voter domain.Credential, approve bool) (*domain.JoinRequest, bool, error) {
	st, err := r.state(id)
	if err != nil {
		return nil, false, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	req, ok := st.requests[reqID]
	if !ok {
		return nil, false, fmt.Errorf("%w: request %s", domain.ErrNotFound, reqID)
	}
	admitted, err := req.ApplyVote(voter, approve)
	if err != nil {
		return nil, false, err
	}
	if admitted {
		st.room.AddMember(req.Requestor)
		log.Info().Str("module", "repo.memory").Str("room", string(id)).Str("request", string(reqID)).Msg("requestor admitted")
	}
	return req.Clone(), admitted, nil
}
