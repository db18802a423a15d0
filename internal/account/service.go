// Package account resolves and manages the remote identity behind the premium tier.
// Accounts and sessions are documents in the remote store; the signed session
// token lives in the OS keyring.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/julianstephens/streakly/internal/constants"
	"github.com/julianstephens/streakly/internal/keyring"
	"github.com/julianstephens/streakly/internal/logger"
	"github.com/julianstephens/streakly/internal/models"
	"github.com/julianstephens/streakly/internal/storage"
)

var (
	ErrNotAuthenticated   = fmt.Errorf("%w: not signed in", storage.ErrUnauthorized)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", storage.ErrUnauthorized)
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", constants.MinPasswordLength)
	ErrMissingSecret      = errors.New("session secret is not configured")
)

// TokenStore persists the session token between runs
type TokenStore interface {
	Get() (string, error)
	Set(token string) error
	Delete() error
}

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Service implements sign-up, sign-in, sign-out and identity resolution
type Service struct {
	store  storage.DocumentStore
	tokens TokenStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithTTL sets how long a session token stays valid.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store storage.DocumentStore, tokens TokenStore, secret []byte, opts ...Option) *Service {
	s := &Service{
		store:  store,
		tokens: tokens,
		secret: secret,
		ttl:    constants.DefaultSessionTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// SignUp creates an account and starts a session for it.
func (s *Service) SignUp(ctx context.Context, email, password string) (models.Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return models.Identity{}, err
	}
	if len(password) < constants.MinPasswordLength {
		return models.Identity{}, ErrWeakPassword
	}

	existing, err := s.store.List(ctx, constants.CollectionAccounts, storage.Eq(constants.FieldEmail, email))
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to look up account: %w", err)
	}
	if len(existing) > 0 {
		return models.Identity{}, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to hash password: %w", err)
	}

	userID := uuid.NewString()
	doc := storage.Document{
		constants.FieldEmail:        email,
		constants.FieldPasswordHash: string(hash),
		constants.FieldCreatedAt:    storage.FormatTime(s.now()),
	}
	if err := s.store.Create(ctx, constants.CollectionAccounts, userID, doc); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return models.Identity{}, ErrEmailTaken
		}
		return models.Identity{}, fmt.Errorf("failed to create account: %w", err)
	}

	identity := models.Identity{UserID: userID, Email: email}
	if err := s.startSession(ctx, identity); err != nil {
		return models.Identity{}, err
	}
	logger.Info("Account created", "user_id", userID)
	return identity, nil
}

// SignIn verifies credentials and starts a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (models.Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return models.Identity{}, ErrInvalidCredentials
	}

	docs, err := s.store.List(ctx, constants.CollectionAccounts, storage.Eq(constants.FieldEmail, email))
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to look up account: %w", err)
	}
	if len(docs) == 0 {
		return models.Identity{}, ErrInvalidCredentials
	}

	account := docs[0]
	if err := bcrypt.CompareHashAndPassword([]byte(account.String(constants.FieldPasswordHash)), []byte(password)); err != nil {
		return models.Identity{}, ErrInvalidCredentials
	}

	identity := models.Identity{UserID: account.ID(), Email: email}
	if err := s.startSession(ctx, identity); err != nil {
		return models.Identity{}, err
	}
	return identity, nil
}

func (s *Service) startSession(ctx context.Context, identity models.Identity) error {
	if len(s.secret) == 0 {
		return ErrMissingSecret
	}

	now := s.now()
	sessionID := uuid.NewString()
	claims := sessionClaims{
		Email: identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   identity.UserID,
			Issuer:    constants.AppName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return fmt.Errorf("failed to sign session token: %w", err)
	}

	session := storage.Document{
		constants.FieldOwnerID:   identity.UserID,
		constants.FieldExpiresAt: storage.FormatTime(now.Add(s.ttl)),
	}
	if err := s.store.Create(ctx, constants.CollectionSessions, sessionID, session); err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}

	if err := s.tokens.Set(token); err != nil {
		return fmt.Errorf("failed to save session token: %w", err)
	}
	return nil
}

func (s *Service) parseToken(token string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(constants.AppName),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// ResolveIdentity returns the identity of the stored session. It fails with
// ErrNotAuthenticated when there is no valid session, or with a store error when
// the remote cannot be reached.
func (s *Service) ResolveIdentity(ctx context.Context) (models.Identity, error) {
	token, err := s.tokens.Get()
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return models.Identity{}, ErrNotAuthenticated
		}
		return models.Identity{}, fmt.Errorf("failed to read session token: %w", err)
	}

	claims, err := s.parseToken(token)
	if err != nil {
		logger.Debug("Discarding invalid session token", "error", err)
		return models.Identity{}, ErrNotAuthenticated
	}

	sessions, err := s.store.List(ctx, constants.CollectionSessions,
		storage.Eq(constants.FieldID, claims.ID),
		storage.OwnedBy(claims.Subject))
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to verify session: %w", err)
	}
	if len(sessions) == 0 {
		return models.Identity{}, ErrNotAuthenticated
	}

	return models.Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// SignOut forgets the local token and terminates the remote session when it can.
func (s *Service) SignOut(ctx context.Context) error {
	token, err := s.tokens.Get()
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to read session token: %w", err)
	}

	if claims, err := s.parseToken(token); err == nil {
		if err := s.store.Delete(ctx, constants.CollectionSessions, claims.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Warn("Failed to terminate remote session", "error", err)
		}
	}

	if err := s.tokens.Delete(); err != nil {
		return fmt.Errorf("failed to remove session token: %w", err)
	}
	return nil
}
