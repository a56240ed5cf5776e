// Package mirror is the client-local reconciling cache of rooms, users
// and messages, backed by sqlite through gorm.
package mirror

import (
	"errors"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/anteroom-chat/anteroom/internal/domain"
)

// RoomRecord mirrors a room the client knows about.
type RoomRecord struct {
	RoomID    string `gorm:"primaryKey"`
	Name      string
	CreatedAt int64
}

// UserRecord mirrors a public identity.
type UserRecord struct {
	PublicID    string `gorm:"primaryKey"`
	DisplayName string
}

// MessageRecord mirrors one logical message. Draft rows are live
// typing previews; final rows are immutable.
type MessageRecord struct {
	MessageID string `gorm:"primaryKey"`
	RoomID    string `gorm:"index:idx_room_ts,priority:1"`
	Sender    string
	Payload   string
	Draft     bool
	Timestamp int64 `gorm:"index:idx_room_ts,priority:2"`
}

// RoomKeyRecord holds the symmetric key for a room. Local only, never
// transmitted in the clear.
type RoomKeyRecord struct {
	RoomID string `gorm:"primaryKey"`
	Key    []byte
}

// Store wraps the sqlite database with the write-ordering rules the
// message lifecycle needs.
type Store struct {
	db    *gorm.DB
	locks *keyedMutex
}

// Open creates or opens the mirror database at path and migrates the
// schema. Use "file::memory:?cache=shared" style DSNs for throwaway
// stores.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open mirror store: %w", err)
	}
	if err := db.AutoMigrate(&RoomRecord{}, &UserRecord{}, &MessageRecord{}, &RoomKeyRecord{}); err != nil {
		return nil, fmt.Errorf("migrate mirror store: %w", err)
	}
	return &Store{db: db, locks: newKeyedMutex()}, nil
}

// UpsertMessage applies the idempotent persistence rule: writes for a
// message id are serialized, and a row stored finalized is never
// overwritten by a draft arriving later. A finish always overwrites
// whatever draft is there.
func (s *Store) UpsertMessage(msg domain.Message) error {
	unlock := s.locks.Lock(string(msg.ID))
	defer unlock()

	var existing MessageRecord
	err := s.db.First(&existing, "message_id = ?", string(msg.ID)).Error
	switch {
	case err == nil:
		if !existing.Draft && msg.Draft {
			// Stale draft after the final version: drop it.
			return nil
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return err
	}

	rec := MessageRecord{
		MessageID: string(msg.ID),
		RoomID:    string(msg.RoomID),
		Sender:    string(msg.Sender),
		Payload:   msg.Payload,
		Draft:     msg.Draft,
		Timestamp: msg.Timestamp.UnixMilli(),
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

// Message looks up one message by id.
func (s *Store) Message(id domain.MessageID) (domain.Message, error) {
	var rec MessageRecord
	if err := s.db.First(&rec, "message_id = ?", string(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Message{}, fmt.Errorf("%w: message %s", domain.ErrNotFound, id)
		}
		return domain.Message{}, err
	}
	return rec.toDomain(), nil
}

// MessagesInRoom returns the room's messages in timestamp order.
func (s *Store) MessagesInRoom(roomID domain.RoomID) ([]domain.Message, error) {
	var recs []MessageRecord
	err := s.db.
		Where("room_id = ?", string(roomID)).
		Order("timestamp asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Message, len(recs))
	for i, rec := range recs {
		out[i] = rec.toDomain()
	}
	return out, nil
}

func (rec MessageRecord) toDomain() domain.Message {
	return domain.Message{
		ID:        domain.MessageID(rec.MessageID),
		RoomID:    domain.RoomID(rec.RoomID),
		Sender:    domain.UserID(rec.Sender),
		Payload:   rec.Payload,
		Draft:     rec.Draft,
		Timestamp: unixMilli(rec.Timestamp),
	}
}

// PutRoom reconciles a room snapshot into the mirror.
func (s *Store) PutRoom(room *domain.Room) error {
	rec := RoomRecord{RoomID: string(room.ID), Name: room.Name, CreatedAt: room.CreatedAt.UnixMilli()}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

func (s *Store) Rooms() ([]RoomRecord, error) {
	var recs []RoomRecord
	err := s.db.Order("created_at asc").Find(&recs).Error
	return recs, err
}

// PutUser reconciles a public identity into the mirror.
func (s *Store) PutUser(id domain.UserID, displayName string) error {
	rec := UserRecord{PublicID: string(id), DisplayName: displayName}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

func (s *Store) User(id domain.UserID) (UserRecord, error) {
	var rec UserRecord
	if err := s.db.First(&rec, "public_id = ?", string(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return UserRecord{}, fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
		}
		return UserRecord{}, err
	}
	return rec, nil
}

// PutRoomKey stores the symmetric key for a room.
func (s *Store) PutRoomKey(roomID domain.RoomID, key []byte) error {
	rec := RoomKeyRecord{RoomID: string(roomID), Key: key}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

// RoomKey looks up the symmetric key for a room.
func (s *Store) RoomKey(roomID domain.RoomID) ([]byte, error) {
	var rec RoomKeyRecord
	if err := s.db.First(&rec, "room_id = ?", string(roomID)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no key for room %s", domain.ErrNotFound, roomID)
		}
		return nil, err
	}
	return rec.Key, nil
}
