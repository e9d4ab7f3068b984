package state

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/patrickmn/go-cache"
)

// ChallengeStore holds the pending MD5 login challenges, keyed by UIN. A
// repeated challenge request overwrites the previous key; consumption is
// single-shot regardless of whether the login succeeds.
type ChallengeStore struct {
	cache *cache.Cache
}

// NewChallengeStore creates an empty challenge store. Entries live until
// consumed.
func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{
		cache: cache.New(cache.NoExpiration, cache.NoExpiration),
	}
}

// Issue generates a fresh challenge for uin: 64 hex characters sent to the
// client as ASCII and hashed in that exact form.
func (s *ChallengeStore) Issue(uin string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate login challenge: %w", err)
	}
	challenge := hex.EncodeToString(raw)
	s.cache.Set(uin, challenge, cache.NoExpiration)
	return challenge, nil
}

// Consume returns and deletes the pending challenge for uin.
func (s *ChallengeStore) Consume(uin string) (string, bool) {
	v, ok := s.cache.Get(uin)
	if !ok {
		return "", false
	}
	s.cache.Delete(uin)
	return v.(string), true
}

// CookieStore holds the authorization cookies bridging the AUTH and BOS
// connections. A cookie is 256 random bytes, stored by its hex form and
// usable exactly once.
type CookieStore struct {
	cache *cache.Cache
}

// NewCookieStore creates an empty cookie store.
func NewCookieStore() *CookieStore {
	return &CookieStore{
		cache: cache.New(cache.NoExpiration, cache.NoExpiration),
	}
}

// Issue mints a single-use cookie bound to uin.
func (s *CookieStore) Issue(uin string) ([]byte, error) {
	raw := make([]byte, 256)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate auth cookie: %w", err)
	}
	s.cache.Set(hex.EncodeToString(raw), uin, cache.NoExpiration)
	return raw, nil
}

// Consume redeems a cookie, returning the UIN it was issued for. A second
// redemption of the same cookie fails.
func (s *CookieStore) Consume(cookie []byte) (string, bool) {
	key := hex.EncodeToString(cookie)
	v, ok := s.cache.Get(key)
	if !ok {
		return "", false
	}
	s.cache.Delete(key)
	return v.(string), true
}
