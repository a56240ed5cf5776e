// Package crypto implements the room key exchange: an RSA keypair
// exported as PEM, a symmetric room key wrapped with the inviter's
// public key for out-of-band transport, and ChaCha20-Poly1305
// authenticated encryption for message payloads.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const rsaKeyBits = 2048

// RoomKeySize is the symmetric key length in bytes.
const RoomKeySize = chacha20poly1305.KeySize

var (
	// ErrUnwrap reports a corrupt wrapped blob or a mismatched private key.
	ErrUnwrap = errors.New("unwrap failed")
	// ErrDecrypt reports an authentication-tag mismatch: tampering or a
	// wrong key. Never treated as empty output.
	ErrDecrypt = errors.New("decrypt failed")
)

// KeyPair holds PEM-encoded key material (BEGIN/END framing, 64-char
// line wrap as emitted by encoding/pem).
type KeyPair struct {
	PublicPEM  string
	PrivatePEM string
}

// GenerateKeyPair creates a fresh RSA keypair exported as PKIX public /
// PKCS#8 private PEM.
func GenerateKeyPair() (KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate keypair: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("marshal public key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return KeyPair{}, fmt.Errorf("marshal private key: %w", err)
	}
	return KeyPair{
		PublicPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
		PrivatePEM: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})),
	}, nil
}

// GenerateRoomKey returns a fresh random symmetric key.
func GenerateRoomKey() ([]byte, error) {
	key := make([]byte, RoomKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate room key: %w", err)
	}
	return key, nil
}

func parsePublicPEM(publicPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicPEM))
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaPub, nil
}

func parsePrivatePEM(privatePEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPriv, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return rsaPriv, nil
}

// WrapRoomKey encrypts the symmetric key with the recipient's public
// key (RSA-OAEP/SHA-256) and base64-encodes the blob for transport.
func WrapRoomKey(roomKey []byte, recipientPublicPEM string) (string, error) {
	pub, err := parsePublicPEM(recipientPublicPEM)
	if err != nil {
		return "", fmt.Errorf("wrap room key: %w", err)
	}
	blob, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, roomKey, nil)
	if err != nil {
		return "", fmt.Errorf("wrap room key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}

// UnwrapRoomKey recovers the symmetric key from a wrapped blob.
func UnwrapRoomKey(wrapped string, ownPrivatePEM string) ([]byte, error) {
	priv, err := parsePrivatePEM(ownPrivatePEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrap, err)
	}
	blob, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64", ErrUnwrap)
	}
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, blob, nil)
	if err != nil {
		return nil, ErrUnwrap
	}
	return key, nil
}

// EncryptPayload seals plaintext with a fresh random nonce and returns
// base64(nonce‖ciphertext).
func EncryptPayload(plaintext string, roomKey []byte) (string, error) {
	aead, err := chacha20poly1305.New(roomKey)
	if err != nil {
		return "", fmt.Errorf("encrypt payload: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("encrypt payload: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptPayload opens a blob produced by EncryptPayload.
func DecryptPayload(blob string, roomKey []byte) (string, error) {
	aead, err := chacha20poly1305.New(roomKey)
	if err != nil {
		return "", fmt.Errorf("decrypt payload: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: bad base64", ErrDecrypt)
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("%w: blob too short", ErrDecrypt)
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
