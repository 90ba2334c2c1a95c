// Package verification issues short numeric codes that are delivered out of
// band and releases a pending secret once the matching code comes back.
package verification

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"
)

const (
	DefaultTTL           = 300 * time.Second
	DefaultMaxMismatches = 5
	codeDigits           = 6
)

var (
	ErrUnknownPrincipal = errors.New("no pending verification")
	ErrCodeMismatch     = errors.New("verification code mismatch")
	// ErrTooManyMismatches is returned on the mismatch that uses up the
	// allowance; the pending entry is gone afterwards.
	ErrTooManyMismatches = errors.New("too many wrong verification codes")
)

type pending struct {
	code   string
	secret string
	// misses is only touched under the store lock.
	misses *int
}

// Broker holds at most one pending code per principal id.
type Broker struct {
	store         *Store[int64, pending]
	ttl           time.Duration
	maxMismatches int
	newCode       func() (string, error)
}

type Option func(*Broker)

// WithMaxMismatches sets how many wrong codes a pending entry survives.
func WithMaxMismatches(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.maxMismatches = n
		}
	}
}

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(fn func() (string, error)) Option {
	return func(b *Broker) {
		if fn != nil {
			b.newCode = fn
		}
	}
}

func NewBroker(ttl time.Duration, opts ...Option) *Broker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	b := &Broker{
		store:         NewStore[int64, pending](),
		ttl:           ttl,
		maxMismatches: DefaultMaxMismatches,
		newCode:       RandomCode,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Broker) TTL() time.Duration {
	return b.ttl
}

// Request stores secret for key and returns the code to deliver. A second
// request for the same key replaces the first one.
func (b *Broker) Request(key int64, secret string) (string, error) {
	code, err := b.newCode()
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}

	b.store.Put(key, pending{code: code, secret: secret, misses: new(int)}, b.ttl)
	return code, nil
}

// Confirm releases the pending secret when code matches. On mismatch the
// entry is kept for another attempt until it expires or the mismatch
// allowance runs out.
func (b *Broker) Confirm(key int64, code string) (string, error) {
	entry, err := b.store.Take(key, func(p pending) error {
		if subtle.ConstantTimeCompare([]byte(p.code), []byte(code)) != 1 {
			*p.misses++
			if *p.misses >= b.maxMismatches {
				return Discard(ErrTooManyMismatches)
			}
			return ErrCodeMismatch
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return entry.secret, nil
}

// Cancel discards any pending entry for key.
func (b *Broker) Cancel(key int64) {
	b.store.Delete(key)
}

func (b *Broker) Pending() int {
	return b.store.Len()
}

func (b *Broker) Close() {
	b.store.Close()
}

// RandomCode returns a uniformly random six digit decimal string.
func RandomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
