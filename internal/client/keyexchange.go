package client

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/anteroom-chat/anteroom/internal/crypto"
	"github.com/anteroom-chat/anteroom/internal/domain"
	"github.com/anteroom-chat/anteroom/internal/mirror"
)

// RoomKeys manages per-room symmetric keys on top of the mirror. Keys
// never leave the local store except wrapped for a recipient.
type RoomKeys struct {
	store *mirror.Store
}

func NewRoomKeys(store *mirror.Store) *RoomKeys {
	return &RoomKeys{store: store}
}

// EnsureKey returns the room's symmetric key, generating and
// persisting a fresh one the first time.
func (k *RoomKeys) EnsureKey(roomID domain.RoomID) ([]byte, error) {
	key, err := k.store.RoomKey(roomID)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	key, err = crypto.GenerateRoomKey()
	if err != nil {
		return nil, err
	}
	if err := k.store.PutRoomKey(roomID, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt seals a payload with the room's stored key.
func (k *RoomKeys) Encrypt(roomID domain.RoomID, plaintext string) (string, error) {
	key, err := k.store.RoomKey(roomID)
	if err != nil {
		return "", err
	}
	return crypto.EncryptPayload(plaintext, key)
}

// Decrypt opens a payload with the room's stored key.
func (k *RoomKeys) Decrypt(roomID domain.RoomID, blob string) (string, error) {
	key, err := k.store.RoomKey(roomID)
	if err != nil {
		return "", err
	}
	return crypto.DecryptPayload(blob, key)
}

// InvitePayload builds the QR text a joiner shows: the room id plus
// their public key, base64-wrapped so the PEM survives QR transport.
func InvitePayload(roomID domain.RoomID, publicPEM string) string {
	return crypto.BuildInvite(string(roomID), base64.StdEncoding.EncodeToString([]byte(publicPEM)))
}

// GrantFromInvite is the key-holder side of the exchange: validate a
// scanned payload and wrap the room's key for the joiner's public key.
// The wrapped blob travels back out-of-band.
func (k *RoomKeys) GrantFromInvite(payload string) (domain.RoomID, string, error) {
	roomID, keyMaterial, err := crypto.ParseInvite(payload)
	if err != nil {
		return "", "", err
	}
	pubPEM, err := base64.StdEncoding.DecodeString(keyMaterial)
	if err != nil {
		return "", "", fmt.Errorf("%w: key material is not base64", crypto.ErrBadInvite)
	}
	key, err := k.store.RoomKey(domain.RoomID(roomID))
	if err != nil {
		return "", "", err
	}
	wrapped, err := crypto.WrapRoomKey(key, string(pubPEM))
	if err != nil {
		return "", "", err
	}
	return domain.RoomID(roomID), wrapped, nil
}

// Adopt is the joiner side: unwrap the received blob with the private
// key and persist the room key locally.
func (k *RoomKeys) Adopt(roomID domain.RoomID, wrapped, privatePEM string) error {
	key, err := crypto.UnwrapRoomKey(wrapped, privatePEM)
	if err != nil {
		return err
	}
	return k.store.PutRoomKey(roomID, key)
}
