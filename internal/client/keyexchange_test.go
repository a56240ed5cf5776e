package client

import (
	"errors"
	"testing"

	"github.com/anteroom-chat/anteroom/internal/crypto"
	"github.com/anteroom-chat/anteroom/internal/domain"
)

func TestKeyExchangeFullFlow(t *testing.T) {
	t.Parallel()
	roomID := domain.NewRoomID()

	// The key holder already has the room key.
	holder := NewRoomKeys(newTestMirror(t))
	original, err := holder.EnsureKey(roomID)
	if err != nil {
		t.Fatalf("ensure key: %v", err)
	}
	again, err := holder.EnsureKey(roomID)
	if err != nil {
		t.Fatalf("ensure key again: %v", err)
	}
	if string(again) != string(original) {
		t.Error("EnsureKey rotated an existing key")
	}

	// The joiner generates a key pair and shows the invite payload.
	pair, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("key pair: %v", err)
	}
	payload := InvitePayload(roomID, pair.PublicPEM)

	// Holder scans the payload and wraps the key for the joiner.
	gotRoom, wrapped, err := holder.GrantFromInvite(payload)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if gotRoom != roomID {
		t.Errorf("granted room: got %s, want %s", gotRoom, roomID)
	}

	// Joiner unwraps and persists; both sides can now exchange payloads.
	joiner := NewRoomKeys(newTestMirror(t))
	if err := joiner.Adopt(roomID, wrapped, pair.PrivatePEM); err != nil {
		t.Fatalf("adopt: %v", err)
	}

	sealed, err := holder.Encrypt(roomID, "see you at nine")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	opened, err := joiner.Decrypt(roomID, sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if opened != "see you at nine" {
		t.Errorf("round trip: got %q", opened)
	}
}

func TestGrantFromInviteRejectsBadPayloads(t *testing.T) {
	t.Parallel()
	roomID := domain.NewRoomID()
	holder := NewRoomKeys(newTestMirror(t))
	if _, err := holder.EnsureKey(roomID); err != nil {
		t.Fatalf("ensure key: %v", err)
	}

	cases := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"no separator", string(roomID) + "keymaterial"},
		{"short room id", "abc123|keymaterial"},
		{"key material not base64", string(roomID) + "|%%%not-base64%%%"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := holder.GrantFromInvite(tc.payload); !errors.Is(err, crypto.ErrBadInvite) {
				t.Errorf("got %v, want ErrBadInvite", err)
			}
		})
	}
}

func TestGrantFromInviteUnknownRoom(t *testing.T) {
	t.Parallel()
	holder := NewRoomKeys(newTestMirror(t))
	pair, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("key pair: %v", err)
	}
	payload := InvitePayload(domain.NewRoomID(), pair.PublicPEM)
	if _, _, err := holder.GrantFromInvite(payload); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound for a room without a stored key", err)
	}
}

func TestAdoptRejectsTamperedBlob(t *testing.T) {
	t.Parallel()
	roomID := domain.NewRoomID()
	holder := NewRoomKeys(newTestMirror(t))
	if _, err := holder.EnsureKey(roomID); err != nil {
		t.Fatalf("ensure key: %v", err)
	}
	pair, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("key pair: %v", err)
	}
	_, wrapped, err := holder.GrantFromInvite(InvitePayload(roomID, pair.PublicPEM))
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	other, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("second key pair: %v", err)
	}
	joiner := NewRoomKeys(newTestMirror(t))
	if err := joiner.Adopt(roomID, wrapped, other.PrivatePEM); !errors.Is(err, crypto.ErrUnwrap) {
		t.Errorf("adopt with wrong private key: got %v, want ErrUnwrap", err)
	}
	// Nothing was persisted.
	if _, err := joiner.store.RoomKey(roomID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("key stored despite failed unwrap: %v", err)
	}
}
