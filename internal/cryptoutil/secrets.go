package cryptoutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const secretboxPrefix = "enc:"

var errMalformedSecret = errors.New("malformed encrypted secret")

// SecretCipher encrypts tenant database passwords at rest. With a configured
// key it seals values with nacl/secretbox; with an empty key it falls back to
// base64 passthrough, which keeps existing registry rows readable.
type SecretCipher struct {
	key     [32]byte
	enabled bool
}

func NewSecretCipher(key string) *SecretCipher {
	cipher := &SecretCipher{}
	key = strings.TrimSpace(key)
	if key == "" {
		return cipher
	}
	cipher.key = sha256.Sum256([]byte(key))
	cipher.enabled = true
	return cipher
}

func (c *SecretCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if !c.enabled {
		return base64.StdEncoding.EncodeToString([]byte(plaintext)), nil
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return secretboxPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *SecretCipher) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	if !strings.HasPrefix(encoded, secretboxPrefix) {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return "", errMalformedSecret
		}
		return string(decoded), nil
	}

	if !c.enabled {
		return "", errors.New("encrypted secret present but no encryption key configured")
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded, secretboxPrefix))
	if err != nil || len(raw) < 24 {
		return "", errMalformedSecret
	}

	var nonce [24]byte
	copy(nonce[:], raw[:24])
	opened, ok := secretbox.Open(nil, raw[24:], &nonce, &c.key)
	if !ok {
		return "", errMalformedSecret
	}
	return string(opened), nil
}
