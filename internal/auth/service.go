package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"moto-store/internal/observability"
	"moto-store/internal/verification"
)

const (
	defaultAccessTTL   = 20 * time.Minute
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute
)

type UserStore interface {
	GetByUsername(ctx context.Context, username string) (User, error)
	GetByID(ctx context.Context, id int64) (User, error)
	SetPasswordHash(ctx context.Context, userID int64, hash string) error
	UpsertAdmin(ctx context.Context, username, hash string) error
	GetLoginAttempt(ctx context.Context, username string) (LoginAttempt, error)
	RegisterFailedAttempt(ctx context.Context, username string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error)
	ResetLoginAttempt(ctx context.Context, username string) error
}

// CodeSender delivers a verification code to a messaging chat.
type CodeSender interface {
	SendCode(ctx context.Context, chatID int64, code string) error
}

type Service struct {
	repo         UserStore
	tokens       *Authenticator
	broker       *verification.Broker
	sender       CodeSender
	logger       *observability.Logger
	accessTTL    time.Duration
	maxAttempts  int
	lockDuration time.Duration
}

func NewService(repo UserStore, tokens *Authenticator, broker *verification.Broker, sender CodeSender) *Service {
	return &Service{
		repo:         repo,
		tokens:       tokens,
		broker:       broker,
		sender:       sender,
		logger:       observability.NewNopLogger(),
		accessTTL:    defaultAccessTTL,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockWindow,
	}
}

func (s *Service) WithSecurityConfig(maxAttempts int, lockDuration time.Duration, accessTTL time.Duration) {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
	if accessTTL > 0 {
		s.accessTTL = accessTTL
	}
}

func (s *Service) WithLogger(logger *observability.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *Service) VerificationTTL() time.Duration {
	return s.broker.TTL()
}

func (s *Service) Login(ctx context.Context, username, password string) (Tokens, error) {
	username = normalizeUsername(username)
	if username == "" || password == "" {
		return Tokens{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	attempt, err := s.repo.GetLoginAttempt(ctx, username)
	if err != nil {
		return Tokens{}, err
	}
	if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
		return Tokens{}, ErrLoginLocked{Until: *attempt.LockedUntil}
	}

	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Tokens{}, err
	}
	if err != nil || CheckPassword(user, password) != nil {
		return Tokens{}, s.failLogin(ctx, username, now)
	}

	if err := s.repo.ResetLoginAttempt(ctx, username); err != nil {
		return Tokens{}, err
	}

	access, err := s.tokens.Issue(user.Username, user.ID, user.IsAdmin, s.accessTTL)
	if err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken: access,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.accessTTL.Seconds()),
	}, nil
}

func (s *Service) failLogin(ctx context.Context, username string, now time.Time) error {
	lockedUntil, err := s.repo.RegisterFailedAttempt(ctx, username, s.maxAttempts, s.lockDuration, now)
	if err != nil {
		return err
	}
	if lockedUntil != nil {
		return ErrLoginLocked{Until: *lockedUntil}
	}
	return ErrInvalidCredentials
}

// Register starts first-time password setup for a user created by the bot.
func (s *Service) Register(ctx context.Context, username, password string) error {
	user, err := s.userByUsername(ctx, username)
	if err != nil {
		return err
	}
	if user.PasswordHash != nil {
		return ErrAlreadyRegistered
	}

	return s.requestCode(ctx, user, password)
}

// ConfirmRegistration only completes a first-time setup; a pending password
// change for the same user is left for the authenticated confirm.
func (s *Service) ConfirmRegistration(ctx context.Context, username, code string) error {
	user, err := s.userByUsername(ctx, username)
	if err != nil {
		return err
	}
	if user.PasswordHash != nil {
		return ErrAlreadyRegistered
	}

	return s.confirmCode(ctx, user.ID, code)
}

func (s *Service) RequestPasswordChange(ctx context.Context, identity Identity, password string) error {
	user, err := s.repo.GetByID(ctx, identity.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}
	if !user.Active {
		return ErrInvalidCredentials
	}

	return s.requestCode(ctx, user, password)
}

func (s *Service) ConfirmPasswordChange(ctx context.Context, identity Identity, code string) error {
	return s.confirmCode(ctx, identity.ID, code)
}

func (s *Service) requestCode(ctx context.Context, user User, password string) error {
	if user.TgID == nil {
		return ErrNoDeliveryChannel
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	code, err := s.broker.Request(user.ID, hash)
	if err != nil {
		return err
	}

	if err := s.sender.SendCode(ctx, *user.TgID, code); err != nil {
		s.broker.Cancel(user.ID)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	s.logger.Info("verification_code_sent", map[string]any{"user_id": user.ID})
	return nil
}

func (s *Service) confirmCode(ctx context.Context, userID int64, code string) error {
	hash, err := s.broker.Confirm(userID, strings.TrimSpace(code))
	if err != nil {
		return err
	}

	if err := s.repo.SetPasswordHash(ctx, userID, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return err
	}

	s.logger.Info("password_confirmed", map[string]any{"user_id": userID})
	return nil
}

func (s *Service) userByUsername(ctx context.Context, username string) (User, error) {
	user, err := s.repo.GetByUsername(ctx, normalizeUsername(username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return user, nil
}

// BootstrapAdmin makes sure an admin account with the given password exists.
func (s *Service) BootstrapAdmin(ctx context.Context, username, password string) error {
	username = normalizeUsername(username)
	if username == "" && password == "" {
		return nil
	}
	if username == "" || password == "" {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD are required together")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return s.repo.UpsertAdmin(ctx, username, hash)
}

func normalizeUsername(username string) string {
	return strings.TrimSpace(strings.ToLower(username))
}
