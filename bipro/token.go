package bipro

import (
	"context"
	"sync"
	"time"
)

// expiryBuffer keeps a token from being handed out when it could expire
// mid-flight during a long-running transfer call.
const expiryBuffer = time.Minute

// Authenticator issues a fresh security token. Implemented by
// SecurityTokenClient; test doubles stand in for it.
type Authenticator interface {
	Authenticate(ctx context.Context) (*SecurityToken, error)
}

// TokenManager owns the security token of one carrier connection. The valid
// case is served lock-free of exclusive locking; refreshes are serialized so
// that any number of concurrent callers trigger at most one STS call.
type TokenManager struct {
	mu    sync.RWMutex
	token *SecurityToken
	sts   Authenticator
	now   func() time.Time
}

// NewTokenManager creates a manager around the given authenticator. Each
// carrier connection gets its own instance; tokens are never shared.
func NewTokenManager(sts Authenticator) *TokenManager {
	return &TokenManager{sts: sts, now: time.Now}
}

// IsValid reports whether token can still be used at instant now, keeping
// the expiry buffer clear.
func IsValid(token *SecurityToken, now time.Time) bool {
	if token == nil || token.Value == "" {
		return false
	}
	if token.ExpiresAt.IsZero() {
		// Carrier declared no expiry and the connection policy trusts it.
		return true
	}
	return now.Add(expiryBuffer).Before(token.ExpiresAt)
}

// Token returns a currently valid security token, refreshing it first when
// needed. The fast path performs no network I/O and takes only a read lock.
func (m *TokenManager) Token(ctx context.Context) (*SecurityToken, error) {
	m.mu.RLock()
	token := m.token
	m.mu.RUnlock()
	if IsValid(token, m.now()) {
		return token, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check: another caller may have refreshed while we waited.
	if IsValid(m.token, m.now()) {
		return m.token, nil
	}

	fresh, err := m.sts.Authenticate(ctx)
	if err != nil {
		return nil, &TokenUnavailableError{Err: err}
	}
	m.token = fresh
	return fresh, nil
}

// Invalidate drops the current token so the next Token call performs a
// refresh. Called when a carrier rejects a token mid-session (HTTP 401).
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()
}

// Close discards the token. The manager must not be used afterwards.
func (m *TokenManager) Close() {
	m.Invalidate()
}
