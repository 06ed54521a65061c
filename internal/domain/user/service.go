package user

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/xenking/lascentlo/internal/domain/auth"
	"github.com/xenking/lascentlo/internal/domain/notify"
)

const (
	minPasswordLength = 6
	resetTokenTTL     = time.Hour
	verifyTokenTTL    = 24 * time.Hour
)

// Session is the result of a successful authentication.
type Session struct {
	Token string
	User  *User
}

// RegisterInput holds the fields of a new account.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// ProfileInput holds editable profile fields. Empty fields are left as is.
type ProfileInput struct {
	Email     string
	FirstName string
	LastName  string
}

// Option configures a Service.
type Option func(*Service)

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service encapsulates account business logic.
type Service struct {
	repo   Repository
	issuer *auth.Issuer
	cost   int
	now    func() time.Time
}

// NewService creates an account Service.
func NewService(repo Repository, issuer *auth.Issuer, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		issuer: issuer,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", &InvalidFieldError{Field: "email", Reason: "invalid address"}
	}
	return email, nil
}

func (s *Service) hash(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", &InvalidFieldError{Field: "password", Reason: "must be at least 6 characters"}
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(h), nil
}

func (s *Service) session(u *User) (*Session, error) {
	token, err := s.issuer.Issue(u.Principal())
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: u}, nil
}

// Register creates a customer account and signs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	u, err := s.create(ctx, in, auth.RoleCustomer)
	if err != nil {
		return nil, err
	}
	return s.session(u)
}

// CreateAdmin creates a verified administrator account.
func (s *Service) CreateAdmin(ctx context.Context, in RegisterInput) (*User, error) {
	return s.create(ctx, in, auth.RoleAdmin)
}

func (s *Service) create(ctx context.Context, in RegisterInput, role auth.Role) (*User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.FirstName) == "" {
		return nil, &InvalidFieldError{Field: "firstName", Reason: "required"}
	}
	if strings.TrimSpace(in.LastName) == "" {
		return nil, &InvalidFieldError{Field: "lastName", Reason: "required"}
	}
	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	u := &User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         role,
		Verified:     role == auth.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrEmailExists) {
			return nil, ErrEmailExists
		}
		return nil, errors.Wrap(err, "create user")
	}
	return u, nil
}

// Login verifies credentials and records the login time.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now().UTC()
	u.LastLogin = &now
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, errors.Wrap(err, "record login")
	}
	return s.session(u)
}

// Me returns the account of the authenticated user.
func (s *Service) Me(ctx context.Context, userID string) (*User, error) {
	return s.repo.GetByID(ctx, userID)
}

// ContactEmail returns the stored email of the account.
func (s *Service) ContactEmail(ctx context.Context, userID string) (string, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Email, nil
}

// UpdateProfile changes names and email. Changing the email clears the
// verified flag.
func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*User, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if in.Email != "" {
		email, err := normalizeEmail(in.Email)
		if err != nil {
			return nil, err
		}
		if email != u.Email {
			u.Email = email
			u.Verified = false
		}
	}
	if v := strings.TrimSpace(in.FirstName); v != "" {
		u.FirstName = v
	}
	if v := strings.TrimSpace(in.LastName); v != "" {
		u.LastName = v
	}
	u.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, u); err != nil {
		if errors.Is(err, ErrEmailExists) {
			return nil, ErrEmailExists
		}
		return nil, errors.Wrapf(err, "update user %s", u.ID)
	}
	return u, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(current)) != nil {
		return ErrWrongPassword
	}
	hash, err := s.hash(next)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	u.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, u); err != nil {
		return errors.Wrapf(err, "update user %s", u.ID)
	}
	return nil
}

// ForgotPassword issues a reset token for email and queues the reset mail.
// Unknown addresses succeed silently.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "get user")
	}
	return s.issueToken(ctx, u, PurposePasswordReset, resetTokenTTL, notify.PasswordReset)
}

// ResetPassword consumes a reset token, sets the new password and signs
// the user in.
func (s *Service) ResetPassword(ctx context.Context, rawToken, password string) (*Session, error) {
	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}
	t, err := s.repo.ConsumeToken(ctx, PurposePasswordReset, HashToken(rawToken), s.now().UTC())
	if err != nil {
		return nil, err
	}
	u, err := s.repo.GetByID(ctx, t.UserID)
	if err != nil {
		return nil, err
	}
	u.PasswordHash = hash
	u.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, errors.Wrapf(err, "update user %s", u.ID)
	}
	return s.session(u)
}

// SendVerification issues an email verification token.
func (s *Service) SendVerification(ctx context.Context, userID string) error {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if u.Verified {
		return ErrAlreadyVerified
	}
	return s.issueToken(ctx, u, PurposeEmailVerification, verifyTokenTTL, notify.EmailVerification)
}

// VerifyEmail consumes a verification token and marks the account verified.
func (s *Service) VerifyEmail(ctx context.Context, rawToken string) (*User, error) {
	t, err := s.repo.ConsumeToken(ctx, PurposeEmailVerification, HashToken(rawToken), s.now().UTC())
	if err != nil {
		return nil, err
	}
	u, err := s.repo.GetByID(ctx, t.UserID)
	if err != nil {
		return nil, err
	}
	u.Verified = true
	u.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, errors.Wrapf(err, "update user %s", u.ID)
	}
	return u, nil
}

func (s *Service) issueToken(ctx context.Context, u *User, purpose Purpose, ttl time.Duration, evtType notify.Type) error {
	raw, hash, err := NewRawToken()
	if err != nil {
		return err
	}
	t := Token{
		UserID:    u.ID,
		Purpose:   purpose,
		Hash:      hash,
		ExpiresAt: s.now().UTC().Add(ttl),
	}
	evt := notify.NewEvent(evtType, u.Email, "", map[string]any{
		notify.TokenKey: raw,
		"firstName":     u.FirstName,
	})
	if err := s.repo.SaveToken(ctx, t, evt); err != nil {
		return errors.Wrapf(err, "save %s token", purpose)
	}
	return nil
}
