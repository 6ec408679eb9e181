package platform

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// renewalFraction is the share of the server-declared token lifetime after
// which the token is treated as expired. Renewing at 90% avoids racing the
// server-side expiry.
const renewalFraction = 0.9

// fallbackLifetime is used when the token endpoint omits expires_in.
const fallbackLifetime = time.Hour

// TokenManager owns the shared access-token slot for the remote platform.
// The token lives only in memory; it is never persisted. Concurrent callers
// that each observe an expired token may each trigger a renewal; that is
// wasteful but harmless since every exchange yields a valid token.
type TokenManager struct {
	cc  *clientcredentials.Config
	log *zap.Logger
	now func() time.Time

	mu        sync.Mutex
	token     *oauth2.Token
	expiresAt time.Time
}

// NewTokenManager builds a manager performing the client-credentials grant
// against the given token endpoint.
func NewTokenManager(clientID, clientSecret, tokenURL string, log *zap.Logger) *TokenManager {
	return &TokenManager{
		cc: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
		},
		log: log,
		now: time.Now,
	}
}

// EnsureValidToken guarantees a non-expired access token and returns its
// bearer value. A token past 90% of its nominal lifetime counts as expired
// and triggers exactly one exchange for this caller.
func (m *TokenManager) EnsureValidToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != nil && m.now().Before(m.expiresAt) {
		return m.token.AccessToken, nil
	}

	tok, err := m.cc.Token(ctx)
	if err != nil {
		return "", &AuthError{Err: err}
	}

	lifetime := fallbackLifetime
	if !tok.Expiry.IsZero() {
		lifetime = tok.Expiry.Sub(m.now())
	}
	m.token = tok
	m.expiresAt = m.now().Add(time.Duration(renewalFraction * float64(lifetime)))
	m.log.Debug("access token renewed", zap.Time("expires_at", m.expiresAt))

	return tok.AccessToken, nil
}
