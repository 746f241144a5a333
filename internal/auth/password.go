package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"guacplayer/internal/models"
)

const saltSize = 32

// HashSecret computes the Guacamole password digest: SHA-256 over the
// password followed by the uppercase hex encoding of the salt. An empty salt
// hashes the password alone, matching accounts created without one.
func HashSecret(password string, salt []byte) []byte {
	h := sha256.New()
	h.Write([]byte(password))
	if len(salt) > 0 {
		h.Write([]byte(strings.ToUpper(hex.EncodeToString(salt))))
	}
	return h.Sum(nil)
}

// NewSalt returns random salt bytes sized like the ones Guacamole generates.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// VerifyStoredSecret reports whether candidate matches the stored digest.
// Any failure, including an empty stored hash, resolves to false.
func VerifyStoredSecret(candidate string, storedHash, storedSalt []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if len(storedHash) != sha256.Size {
		return false
	}
	computed := HashSecret(candidate, storedSalt)
	return subtle.ConstantTimeCompare(computed, storedHash) == 1
}

// UserLookup resolves an account by username.
type UserLookup interface {
	UserByUsername(ctx context.Context, username string) (models.User, bool, error)
}

// Authenticate checks a username and password against the account store.
// Unknown users and wrong passwords both yield ErrInvalidLogin; disabled
// accounts yield ErrUserDisabled. Store failures are returned wrapped.
func Authenticate(ctx context.Context, users UserLookup, username, password string) (models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return models.User{}, ErrMissingUsername
	}
	user, found, err := users.UserByUsername(ctx, username)
	if err != nil {
		return models.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !found {
		return models.User{}, ErrInvalidLogin
	}
	if user.Disabled {
		return models.User{}, ErrUserDisabled
	}
	if !VerifyStoredSecret(password, user.PasswordHash, user.PasswordSalt) {
		return models.User{}, ErrInvalidLogin
	}
	return user, nil
}
