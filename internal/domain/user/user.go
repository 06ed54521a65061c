// Package user implements customer accounts: registration, login, profile
// management and the one-time token flows for password reset and email
// verification.
package user

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/lascentlo/internal/domain/auth"
	"github.com/xenking/lascentlo/internal/domain/notify"
)

// Sentinel errors for account operations.
var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailExists        = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWrongPassword      = errors.New("current password is incorrect")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrAlreadyVerified    = errors.New("email already verified")
)

// InvalidFieldError reports a malformed account attribute.
type InvalidFieldError struct {
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return e.Field + ": " + e.Reason
}

// User is a registered account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         auth.Role
	Verified     bool
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal returns the identity carried in u's session tokens.
func (u *User) Principal() auth.Principal {
	return auth.Principal{UserID: u.ID, Email: u.Email, Role: u.Role}
}

// Purpose distinguishes what a one-time token unlocks.
type Purpose string

const (
	PurposePasswordReset     Purpose = "password_reset"
	PurposeEmailVerification Purpose = "email_verification"
)

// Token is a stored one-time token. Only the hash is persisted.
type Token struct {
	UserID    string
	Purpose   Purpose
	Hash      string
	ExpiresAt time.Time
}

// NewRawToken returns a random hex token and its sha256 hash.
func NewRawToken() (raw, hash string, err error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", "", errors.Wrap(err, "read random")
	}
	raw = hex.EncodeToString(b[:])
	return raw, HashToken(raw), nil
}

// HashToken returns the hex sha256 of raw.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Repository defines persistence operations for accounts.
type Repository interface {
	// Create fails with ErrEmailExists when the email is taken.
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// Update persists every mutable attribute of u.
	Update(ctx context.Context, u *User) error
	// SaveToken replaces any token of the same purpose for the user and
	// inserts evt in the same transaction.
	SaveToken(ctx context.Context, t Token, evt notify.Event) error
	// ConsumeToken deletes and returns the unexpired token with the given
	// purpose and hash, or fails with ErrInvalidToken.
	ConsumeToken(ctx context.Context, purpose Purpose, hash string, now time.Time) (*Token, error)
}
