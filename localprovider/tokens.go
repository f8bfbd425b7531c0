package localprovider

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TokenStore issues and consumes single-use bid tokens. A token is valid
// for exactly one ingestion; consuming it again fails.
type TokenStore struct {
	mu     sync.Mutex
	issued map[string]time.Time
}

// NewTokenStore creates an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		issued: make(map[string]time.Time),
	}
}

// GenerateToken issues a fresh single-use token.
func (ts *TokenStore) GenerateToken() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	token := uuid.NewString()
	ts.issued[token] = time.Now()
	return token
}

// Valid reports whether the token is outstanding, without consuming it.
func (ts *TokenStore) Valid(token string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	_, ok := ts.issued[token]
	return ok
}

// ValidateAndConsume checks that the token was issued and not yet used,
// then consumes it. Returns false for unknown, tampered, or replayed tokens.
func (ts *TokenStore) ValidateAndConsume(token string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, ok := ts.issued[token]; !ok {
		return false
	}
	delete(ts.issued, token)
	return true
}

// Len reports the number of outstanding tokens.
func (ts *TokenStore) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.issued)
}

// StartExpirationCleanup evicts tokens older than maxAge every interval
// until ctx is cancelled.
func (ts *TokenStore) StartExpirationCleanup(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ts.expire(maxAge)
			}
		}
	}()
}

func (ts *TokenStore) expire(maxAge time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for token, issuedAt := range ts.issued {
		if issuedAt.Before(cutoff) {
			delete(ts.issued, token)
		}
	}
}
