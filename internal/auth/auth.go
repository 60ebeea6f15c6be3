package auth

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenTTL = 12 * time.Hour
	BcryptCost      = 12
)

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Identity is the verified principal behind a token. Role and HomeDir are
// passed through to other subsystems, not interpreted by the broker.
type Identity struct {
	Username string
	Role     string
	HomeDir  string
}

type tokenEntry struct {
	Identity  Identity
	ExpiresAt time.Time
}

// TokenStore issues and verifies opaque bearer tokens. Tokens are random,
// held in memory only, and expire after the configured TTL.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]tokenEntry
	ttl    time.Duration
}

func NewTokenStore(ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenStore{
		tokens: make(map[string]tokenEntry),
		ttl:    ttl,
	}
}

func (s *TokenStore) Issue(id Identity) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	s.mu.Lock()
	s.tokens[token] = tokenEntry{
		Identity:  id,
		ExpiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()
	return token, nil
}

// Verify returns the identity bound to a token, or false if the token is
// unknown or expired.
func (s *TokenStore) Verify(token string) (Identity, bool) {
	s.mu.RLock()
	entry, ok := s.tokens[token]
	s.mu.RUnlock()
	if !ok || time.Now().After(entry.ExpiresAt) {
		return Identity{}, false
	}
	return entry.Identity, true
}

func (s *TokenStore) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

func (s *TokenStore) RevokeUser(username string) {
	s.mu.Lock()
	for token, entry := range s.tokens {
		if entry.Identity.Username == username {
			delete(s.tokens, token)
		}
	}
	s.mu.Unlock()
}

// Cleanup drops expired tokens. Called periodically from the cron schedule.
func (s *TokenStore) Cleanup() {
	now := time.Now()
	s.mu.Lock()
	for token, entry := range s.tokens {
		if now.After(entry.ExpiresAt) {
			delete(s.tokens, token)
		}
	}
	s.mu.Unlock()
}
