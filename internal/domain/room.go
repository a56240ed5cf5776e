package domain

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

type RoomID string

// NewRoomID returns 32 lowercase hex characters so a room id can be
// embedded verbatim in an invite payload.
func NewRoomID() RoomID {
	u := uuid.New()
	return RoomID(hex.EncodeToString(u[:]))
}

// Room is the authoritative membership record. Members are stored as
// credentials; adapters must resolve them to public identities before
// anything leaves the server.
type Room struct {
	ID        RoomID       `json:"room_id"`
	Name      string       `json:"name"`
	Members   []Credential `json:"-"`
	CreatedAt time.Time    `json:"created_at"`
}

// NewRoom creates a room with the owner as its sole member.
func NewRoom(name string, owner Credential) *Room {
	return &Room{
		ID:        NewRoomID(),
		Name:      name,
		Members:   []Credential{owner},
		CreatedAt: time.Now().UTC(),
	}
}

func (r *Room) HasMember(c Credential) bool {
	for _, m := range r.Members {
		if m == c {
			return true
		}
	}
	return false
}

// AddMember has set semantics: adding an existing member is a no-op.
func (r *Room) AddMember(c Credential) {
	if r.HasMember(c) {
		return
	}
	r.Members = append(r.Members, c)
}

// RemoveMember reports whether the credential was a member.
func (r *Room) RemoveMember(c Credential) bool {
	for i, m := range r.Members {
		if m == c {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) Clone() *Room {
	cp := *r
	cp.Members = append([]Credential(nil), r.Members...)
	return &cp
}
