// Package roomcrypt derives per-room keys from a shared room code and seals
// room payloads with AES-256-GCM. Envelopes are byte-compatible with the web
// client (PBKDF2-SHA256 + AES-GCM via WebCrypto).
package roomcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyMaterialLen = 32
	keyLen         = 32
	ivLen          = 12
	iterations     = 100_000
	filler         = "0"
	salt           = "private-room-salt"
)

// ErrDecrypt is returned when an envelope cannot be opened with the given key.
var ErrDecrypt = errors.New("room payload decryption failed")

// Envelope is one encrypted room message as it crosses the transport.
type Envelope struct {
	Encrypted string `json:"encrypted"`
	IV        string `json:"iv"`
}

// DeriveKey turns a room code into a 256-bit AES key. Every holder of the
// same code derives the same key; the code itself never leaves the device.
func DeriveKey(code string) []byte {
	material := strings.ToUpper(code)
	if n := keyMaterialLen - len(material); n > 0 {
		material += strings.Repeat(filler, n)
	}
	return pbkdf2.Key([]byte(material), []byte(salt), iterations, keyLen, sha256.New)
}

// Cipher seals and opens envelopes for a single room.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the room key and prepares the AEAD. Derivation runs
// 100k PBKDF2 rounds, so keep the Cipher for the room's lifetime.
func NewCipher(code string) (*Cipher, error) {
	block, err := aes.NewCipher(DeriveKey(code))
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random IV.
func (c *Cipher) Seal(plaintext string) (Envelope, error) {
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return Envelope{}, fmt.Errorf("generate iv: %w", err)
	}
	ct := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	return Envelope{
		Encrypted: base64.StdEncoding.EncodeToString(ct),
		IV:        base64.StdEncoding.EncodeToString(iv),
	}, nil
}

// Open decrypts an envelope. Any failure, including a tag mismatch caused by a
// different room code, wraps ErrDecrypt.
func (c *Cipher) Open(env Envelope) (string, error) {
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return "", fmt.Errorf("%w: iv: %v", ErrDecrypt, err)
	}
	if len(iv) != c.aead.NonceSize() {
		return "", fmt.Errorf("%w: iv length %d", ErrDecrypt, len(iv))
	}
	ct, err := base64.StdEncoding.DecodeString(env.Encrypted)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %v", ErrDecrypt, err)
	}
	pt, err := c.aead.Open(nil, iv, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(pt), nil
}

// Encrypt is a one-shot Seal for callers that do not keep a Cipher.
func Encrypt(code, plaintext string) (Envelope, error) {
	c, err := NewCipher(code)
	if err != nil {
		return Envelope{}, err
	}
	return c.Seal(plaintext)
}

// Decrypt is a one-shot Open.
func Decrypt(code string, env Envelope) (string, error) {
	c, err := NewCipher(code)
	if err != nil {
		return "", err
	}
	return c.Open(env)
}
