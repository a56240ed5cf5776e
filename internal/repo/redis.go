package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/anteroom-chat/anteroom/internal/domain"
)

// voteRetries bounds the optimistic-transaction retry loop when a
// concurrent voter touches the same keys.
const voteRetries = 8

func credKey(c domain.Credential) string      { return fmt.Sprintf("user:cred:%s", c) }
func userIDKey(id domain.UserID) string       { return fmt.Sprintf("user:id:%s", id) }
func roomKey(id domain.RoomID) string         { return fmt.Sprintf("room:%s", id) }
func requestsKey(id domain.RoomID) string     { return fmt.Sprintf("room:%s:requests", id) }
func memberRoomsKey(c domain.Credential) string { return fmt.Sprintf("member:%s:rooms", c) }

func requestKey(id domain.RoomID, rid domain.RequestID) string {
	return fmt.Sprintf("room:%s:request:%s", id, rid)
}

// Stored forms: domain types hide credentials from JSON on purpose, so
// persistence uses explicit shapes that keep them.
type storedUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Credential  string `json:"credential"`
}

type storedRoom struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

type storedDecision struct {
	Member string `json:"member"`
	Vote   string `json:"vote"`
}

type storedRequest struct {
	ID          string           `json:"id"`
	RoomID      string           `json:"room_id"`
	Requestor   string           `json:"requestor"`
	Status      string           `json:"status"`
	RequestedAt time.Time        `json:"requested_at"`
	Decisions   []storedDecision `json:"decisions"`
}

func toStoredRoom(r *domain.Room) storedRoom {
	members := make([]string, len(r.Members))
	for i, m := range r.Members {
		members[i] = string(m)
	}
	return storedRoom{ID: string(r.ID), Name: r.Name, Members: members, CreatedAt: r.CreatedAt}
}

func (s storedRoom) toDomain() *domain.Room {
	members := make([]domain.Credential, len(s.Members))
	for i, m := range s.Members {
		members[i] = domain.Credential(m)
	}
	return &domain.Room{ID: domain.RoomID(s.ID), Name: s.Name, Members: members, CreatedAt: s.CreatedAt}
}

func toStoredRequest(r *domain.JoinRequest) storedRequest {
	decisions := make([]storedDecision, len(r.Decisions))
	for i, d := range r.Decisions {
		decisions[i] = storedDecision{Member: string(d.Member), Vote: string(d.Vote)}
	}
	return storedRequest{
		ID:          string(r.ID),
		RoomID:      string(r.RoomID),
		Requestor:   string(r.Requestor),
		Status:      string(r.Status),
		RequestedAt: r.RequestedAt,
		Decisions:   decisions,
	}
}

func (s storedRequest) toDomain() *domain.JoinRequest {
	decisions := make([]domain.MemberDecision, len(s.Decisions))
	for i, d := range s.Decisions {
		decisions[i] = domain.MemberDecision{Member: domain.Credential(d.Member), Vote: domain.Vote(d.Vote)}
	}
	return &domain.JoinRequest{
		ID:          domain.RequestID(s.ID),
		RoomID:      domain.RoomID(s.RoomID),
		Requestor:   domain.Credential(s.Requestor),
		Status:      domain.RequestStatus(s.Status),
		RequestedAt: s.RequestedAt,
		Decisions:   decisions,
	}
}

// RedisIdentityRepo keeps user records as JSON blobs keyed by
// credential, with a public-id index for reverse lookups.
type RedisIdentityRepo struct{ rdb *redis.Client }

func NewRedisIdentityRepo(rdb *redis.Client) *RedisIdentityRepo {
	return &RedisIdentityRepo{rdb: rdb}
}

func (r *RedisIdentityRepo) putUser(ctx context.Context, pipe redis.Pipeliner, u *domain.User) error {
	b, err := json.Marshal(storedUser{ID: string(u.ID), DisplayName: u.DisplayName, Credential: string(u.Credential)})
	if err != nil {
		return err
	}
	pipe.Set(ctx, credKey(u.Credential), b, 0)
	pipe.Set(ctx, userIDKey(u.ID), string(u.Credential), 0)
	return nil
}

func (r *RedisIdentityRepo) CreateUser(ctx context.Context, displayName string) (*domain.User, error) {
	u, err := domain.NewUser(displayName)
	if err != nil {
		return nil, err
	}
	pipe := r.rdb.TxPipeline()
	if err := r.putUser(ctx, pipe, u); err != nil {
		return nil, err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	log.Info().Str("module", "repo.redis").Str("user", string(u.ID)).Msg("created user")
	return u, nil
}

func (r *RedisIdentityRepo) getUser(ctx context.Context, key string, missing error) (*domain.User, error) {
	val, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, missing
	}
	if err != nil {
		return nil, err
	}
	var s storedUser
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, err
	}
	return &domain.User{
		ID:          domain.UserID(s.ID),
		DisplayName: s.DisplayName,
		Credential:  domain.Credential(s.Credential),
	}, nil
}

func (r *RedisIdentityRepo) UserByCredential(ctx context.Context, cred domain.Credential) (*domain.User, error) {
	return r.getUser(ctx, credKey(cred), domain.ErrAuth)
}

func (r *RedisIdentityRepo) UserByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	cred, err := r.rdb.Get(ctx, userIDKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return r.getUser(ctx, credKey(domain.Credential(cred)), fmt.Errorf("%w: user %s", domain.ErrNotFound, id))
}

func (r *RedisIdentityRepo) Rename(ctx context.Context, cred domain.Credential, displayName string) (*domain.User, error) {
	var out *domain.User
	key := credKey(cred)
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrAuth
		}
		if err != nil {
			return err
		}
		var s storedUser
		if err := json.Unmarshal(val, &s); err != nil {
			return err
		}
		u := &domain.User{ID: domain.UserID(s.ID), DisplayName: s.DisplayName, Credential: cred}
		if err := u.SetDisplayName(displayName); err != nil {
			return err
		}
		b, err := json.Marshal(storedUser{ID: s.ID, DisplayName: displayName, Credential: s.Credential})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			return nil
		})
		if err == nil {
			out = u
		}
		return err
	}, key)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RedisRoomRepo stores each room as a JSON blob and each join request
// under its own key so optimistic WATCH transactions can serialize the
// vote/admission sequence per request.
type RedisRoomRepo struct{ rdb *redis.Client }

func NewRedisRoomRepo(rdb *redis.Client) *RedisRoomRepo {
	return &RedisRoomRepo{rdb: rdb}
}

func (r *RedisRoomRepo) SaveRoom(ctx context.Context, room *domain.Room) error {
	b, err := json.Marshal(toStoredRoom(room))
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, roomKey(room.ID), b, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: room %s exists", domain.ErrConflict, room.ID)
	}
	pipe := r.rdb.TxPipeline()
	for _, m := range room.Members {
		pipe.SAdd(ctx, memberRoomsKey(m), string(room.ID))
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisRoomRepo) getRoom(ctx context.Context, c redis.Cmdable, id domain.RoomID) (*domain.Room, error) {
	val, err := c.Get(ctx, roomKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: room %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var s storedRoom
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, err
	}
	return s.toDomain(), nil
}

func (r *RedisRoomRepo) Room(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return r.getRoom(ctx, r.rdb, id)
}

func (r *RedisRoomRepo) RoomsByMember(ctx context.Context, cred domain.Credential) ([]*domain.Room, error) {
	ids, err := r.rdb.SMembers(ctx, memberRoomsKey(cred)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Room, 0, len(ids))
	for _, id := range ids {
		room, err := r.getRoom(ctx, r.rdb, domain.RoomID(id))
		if errors.Is(err, domain.ErrNotFound) {
			// Stale index entry from a destroyed room.
			_ = r.rdb.SRem(ctx, memberRoomsKey(cred), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *RedisRoomRepo) RemoveMember(ctx context.Context, id domain.RoomID, cred domain.Credential) (bool, error) {
	destroyed := false
	key := roomKey(id)
	err := r.withRetry(ctx, func() error {
		return r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			room, err := r.getRoom(ctx, tx, id)
			if err != nil {
				return err
			}
			if !room.RemoveMember(cred) {
				return fmt.Errorf("%w: not a member of room %s", domain.ErrNotFound, id)
			}
			if len(room.Members) == 0 {
				reqIDs, err := tx.SMembers(ctx, requestsKey(id)).Result()
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key, requestsKey(id))
					for _, rid := range reqIDs {
						pipe.Del(ctx, requestKey(id, domain.RequestID(rid)))
					}
					pipe.SRem(ctx, memberRoomsKey(cred), string(id))
					return nil
				})
				if err == nil {
					destroyed = true
				}
				return err
			}
			b, err := json.Marshal(toStoredRoom(room))
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, b, 0)
				pipe.SRem(ctx, memberRoomsKey(cred), string(id))
				return nil
			})
			return err
		}, key)
	})
	if err != nil {
		return false, err
	}
	if destroyed {
		log.Info().Str("module", "repo.redis").Str("room", string(id)).Msg("room destroyed, last member left")
	}
	return destroyed, nil
}

func (r *RedisRoomRepo) CreateJoinRequest(ctx context.Context, id domain.RoomID, requestor domain.Credential) (*domain.JoinRequest, error) {
	var out *domain.JoinRequest
	key := roomKey(id)
	err := r.withRetry(ctx, func() error {
		return r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			room, err := r.getRoom(ctx, tx, id)
			if err != nil {
				return err
			}
			if room.HasMember(requestor) {
				return fmt.Errorf("%w: already a member", domain.ErrConflict)
			}
			req := domain.NewJoinRequest(room, requestor)
			b, err := json.Marshal(toStoredRequest(req))
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, requestKey(id, req.ID), b, 0)
				pipe.SAdd(ctx, requestsKey(id), string(req.ID))
				return nil
			})
			if err == nil {
				out = req
			}
			return err
		}, key)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RedisRoomRepo) JoinRequests(ctx context.Context, id domain.RoomID) ([]*domain.JoinRequest, error) {
	if _, err := r.getRoom(ctx, r.rdb, id); err != nil {
		return nil, err
	}
	ids, err := r.rdb.SMembers(ctx, requestsKey(id)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.JoinRequest, 0, len(ids))
	for _, rid := range ids {
		val, err := r.rdb.Get(ctx, requestKey(id, domain.RequestID(rid))).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var s storedRequest
		if err := json.Unmarshal(val, &s); err != nil {
			return nil, err
		}
		out = append(out, s.toDomain())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (r *RedisRoomRepo) CastVote(ctx context.Context, id domain.RoomID, reqID domain.RequestID, voter domain.Credential, approve bool) (*domain.JoinRequest, bool, error) {
	var (
		out      *domain.JoinRequest
		admitted bool
	)
	rKey, qKey := roomKey(id), requestKey(id, reqID)
	err := r.withRetry(ctx, func() error {
		return r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			val, err := tx.Get(ctx, qKey).Bytes()
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: request %s", domain.ErrNotFound, reqID)
			}
			if err != nil {
				return err
			}
			var s storedRequest
			if err := json.Unmarshal(val, &s); err != nil {
				return err
			}
			req := s.toDomain()
			adm, err := req.ApplyVote(voter, approve)
			if err != nil {
				return err
			}
			reqBytes, err := json.Marshal(toStoredRequest(req))
			if err != nil {
				return err
			}
			var roomBytes []byte
			var room *domain.Room
			if adm {
				room, err = r.getRoom(ctx, tx, id)
				if err != nil {
					return err
				}
				room.AddMember(req.Requestor)
				roomBytes, err = json.Marshal(toStoredRoom(room))
				if err != nil {
					return err
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, qKey, reqBytes, 0)
				if adm {
					pipe.Set(ctx, rKey, roomBytes, 0)
					pipe.SAdd(ctx, memberRoomsKey(req.Requestor), string(id))
				}
				return nil
			})
			if err == nil {
				out, admitted = req, adm
			}
			return err
		}, rKey, qKey)
	})
	if err != nil {
		return nil, false, err
	}
	if admitted {
		log.Info().Str("module", "repo.redis").Str("room", string(id)).Str("request", string(reqID)).Msg("requestor admitted")
	}
	return out, admitted, nil
}

// withRetry re-runs a WATCH transaction that lost its optimistic race.
func (r *RedisRoomRepo) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < voteRetries; i++ {
		err = fn()
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}
