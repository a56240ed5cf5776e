package crypto

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// An invite payload travels out-of-band (QR code) as
// "<32-hex room id>|<key material>". The delimiter cannot occur in
// either field: room ids are hex and key material is base64/PEM.
const inviteDelimiter = "|"

var roomIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// ErrBadInvite reports a payload that does not match the invite format.
// Scanners should skip the payload and keep scanning.
var ErrBadInvite = errors.New("malformed invite payload")

// BuildInvite composes the QR payload for a room invite.
func BuildInvite(roomID, keyMaterial string) string {
	return roomID + inviteDelimiter + keyMaterial
}

// ParseInvite validates and splits a scanned payload.
func ParseInvite(payload string) (roomID, keyMaterial string, err error) {
	if strings.Count(payload, inviteDelimiter) != 1 {
		return "", "", fmt.Errorf("%w: expected one %q delimiter", ErrBadInvite, inviteDelimiter)
	}
	roomID, keyMaterial, _ = strings.Cut(payload, inviteDelimiter)
	if !roomIDPattern.MatchString(roomID) {
		return "", "", fmt.Errorf("%w: room id is not 32 hex chars", ErrBadInvite)
	}
	if keyMaterial == "" {
		return "", "", fmt.Errorf("%w: empty key material", ErrBadInvite)
	}
	return roomID, keyMaterial, nil
}
