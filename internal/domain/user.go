// Package domain contains entities without logic, just meta-data
// and the pure state transitions that belong to them.
package domain

import (
	"github.com/google/uuid"
)

const MaxDisplayNameLen = 36

type (
	// UserID is the public, shareable identifier of a user.
	UserID string
	// Credential is the opaque secret a user presents to the server.
	// It must never appear in any response or broadcast payload.
	Credential string
)

type User struct {
	ID          UserID     `json:"public_id"`
	DisplayName string     `json:"display_name"`
	Credential  Credential `json:"-"`
}

// NewUser mints a fresh identity: public id and credential are
// independent so the credential can stay secret.
func NewUser(displayName string) (*User, error) {
	if err := ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	return &User{
		ID:          UserID(uuid.NewString()),
		DisplayName: displayName,
		Credential:  Credential(uuid.NewString()),
	}, nil
}

func (u *User) SetDisplayName(displayName string) error {
	if err := ValidateDisplayName(displayName); err != nil {
		return err
	}
	u.DisplayName = displayName
	return nil
}

func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}
