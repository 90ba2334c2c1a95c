package auth

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"moto-store/internal/verification"
)

type fakeStore struct {
	mu       sync.Mutex
	users    map[int64]User
	attempts map[string]LoginAttempt
	failures int
}

func newFakeStore(users ...User) *fakeStore {
	s := &fakeStore{users: map[int64]User{}, attempts: map[string]LoginAttempt{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeStore) GetByUsername(_ context.Context, username string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, sql.ErrNoRows
}

func (s *fakeStore) GetByID(_ context.Context, id int64) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return u, nil
}

func (s *fakeStore) SetPasswordHash(_ context.Context, userID int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = &hash
	s.users[userID] = u
	return nil
}

func (s *fakeStore) UpsertAdmin(_ context.Context, username, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.users {
		if u.Username == username {
			u.PasswordHash = &hash
			u.IsAdmin = true
			u.Active = true
			s.users[id] = u
			return nil
		}
	}
	id := int64(len(s.users) + 1000)
	s.users[id] = User{ID: id, Username: username, PasswordHash: &hash, IsAdmin: true, Active: true}
	return nil
}

func (s *fakeStore) GetLoginAttempt(_ context.Context, username string) (LoginAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[username]
	if !ok {
		return LoginAttempt{Username: username}, nil
	}
	return a, nil
}

func (s *fakeStore) RegisterFailedAttempt(_ context.Context, username string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	a := s.attempts[username]
	a.Username = username
	a.FailedAttempts++
	if a.FailedAttempts >= maxAttempts {
		until := now.Add(lockDuration)
		a.FailedAttempts = 0
		a.LockedUntil = &until
		s.attempts[username] = a
		return &until, nil
	}
	s.attempts[username] = a
	return nil, nil
}

func (s *fakeStore) ResetLoginAttempt(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, username)
	return nil
}

func (s *fakeStore) hashOf(id int64) *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id].PasswordHash
}

type sentCode struct {
	chatID int64
	code   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentCode
	err  error
}

func (f *fakeSender) SendCode(_ context.Context, chatID int64, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentCode{chatID: chatID, code: code})
	return nil
}

func (f *fakeSender) last(t *testing.T) sentCode {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func fixedCode(code string) verification.Option {
	return verification.WithCodeGenerator(func() (string, error) { return code, nil })
}

func int64Ptr(v int64) *int64 { return &v }

func stringPtr(v string) *string { return &v }

type serviceFixture struct {
	service *Service
	store   *fakeStore
	sender  *fakeSender
	tokens  *Authenticator
	broker  *verification.Broker
}

func newServiceFixture(t *testing.T, code string, users ...User) serviceFixture {
	t.Helper()

	tokens, err := NewAuthenticator("test-secret", "HS256", true)
	require.NoError(t, err)

	broker := verification.NewBroker(time.Minute, fixedCode(code))
	t.Cleanup(broker.Close)

	store := newFakeStore(users...)
	sender := &fakeSender{}
	service := NewService(store, tokens, broker, sender)

	return serviceFixture{service: service, store: store, sender: sender, tokens: tokens, broker: broker}
}
