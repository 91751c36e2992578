// Package token implements per-provider access-token acquisition and
// expiry-aware caching. Tokens are short-lived; the broker keeps one live
// token per provider identity and re-acquires it shortly before expiry.
package token

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// expiryBuffer is subtracted from a token's declared expiry so a token is
// never handed out moments before the provider rejects it.
const expiryBuffer = 10 * time.Second

// Token is a live provider access token with its provider-declared expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Source acquires a fresh token for one provider identity. Acquisition
// failures propagate as-is: the broker never retries, that is the caller's
// call to make.
type Source interface {
	Acquire(ctx context.Context) (Token, error)
	// Identity names the credential this source mints tokens for, and is the
	// broker's cache key.
	Identity() string
}

// Broker caches tokens per source identity for the lifetime of the broker
// instance. A cold start always re-acquires.
type Broker struct {
	mu     sync.RWMutex
	tokens map[string]Token
	now    func() time.Time
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		tokens: make(map[string]Token),
		now:    time.Now,
	}
}

// Get returns a live token for the source, acquiring one if the cached token
// is absent or inside the expiry buffer.
func (b *Broker) Get(ctx context.Context, src Source) (string, error) {
	identity := src.Identity()

	b.mu.RLock()
	if tok, ok := b.tokens[identity]; ok && b.live(tok) {
		b.mu.RUnlock()
		return tok.Value, nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	// Double-check after acquiring the write lock.
	if tok, ok := b.tokens[identity]; ok && b.live(tok) {
		return tok.Value, nil
	}

	tok, err := src.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to acquire token for %s: %w", identity, err)
	}
	b.tokens[identity] = tok
	return tok.Value, nil
}

func (b *Broker) live(tok Token) bool {
	return b.now().Before(tok.ExpiresAt.Add(-expiryBuffer))
}
