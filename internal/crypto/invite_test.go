package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestParseInviteValid(t *testing.T) {
	t.Parallel()
	for _, payload := range []string{
		"0123456789abcdef0123456789abcdef|c29tZSBrZXk=",
		"0123456789ABCDEF0123456789ABCDEF|raw-key-material",
	} {
		roomID, key, err := ParseInvite(payload)
		if err != nil {
			t.Fatalf("ParseInvite(%q): %v", payload, err)
		}
		want := strings.SplitN(payload, "|", 2)
		if roomID != want[0] || key != want[1] {
			t.Errorf("ParseInvite(%q): got (%q, %q)", payload, roomID, key)
		}
	}
}

func TestParseInviteMalformed(t *testing.T) {
	t.Parallel()
	for _, payload := range []string{
		"",
		"no-delimiter",
		"0123456789abcdef0123456789abcdef",
		"0123456789abcdef0123456789abcdef|",
		"short|key",
		"0123456789abcdef0123456789abcdeX|key",
		"0123456789abcdef0123456789abcdef|a|b",
		"0123456789abcdef0123456789abcdef0|key",
	} {
		if _, _, err := ParseInvite(payload); !errors.Is(err, ErrBadInvite) {
			t.Errorf("ParseInvite(%q): got %v, want ErrBadInvite", payload, err)
		}
	}
}

func TestBuildParseInviteRoundTrip(t *testing.T) {
	t.Parallel()
	payload := BuildInvite("0123456789abcdef0123456789abcdef", "bWF0ZXJpYWw=")
	roomID, key, err := ParseInvite(payload)
	if err != nil {
		t.Fatalf("parse built invite: %v", err)
	}
	if roomID != "0123456789abcdef0123456789abcdef" || key != "bWF0ZXJpYWw=" {
		t.Errorf("round trip: got (%q, %q)", roomID, key)
	}
}
