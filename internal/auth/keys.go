package auth

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	signingKeySize = 32
	signingKeyInfo = "guacplayer/jwt/hs256"
)

// deriveSigningKey stretches the operator secret into a fixed-size HMAC key
// so short or structured secrets still yield a uniform key.
func deriveSigningKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte(signingKeyInfo))
	key := make([]byte, signingKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return key, nil
}
