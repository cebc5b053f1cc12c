package blobcache

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DefaultHost is the host used when none is given.
const DefaultHost = "default"

// LoginKey returns the key credentials for host are stored under:
// "login:" + host. Distinct hosts whose concatenations are equal share a slot.
func LoginKey(host string) string {
	if host == "" {
		host = DefaultHost
	}
	return "login:" + host
}

// LoginInfo is a stored user name and password.
type LoginInfo struct {
	UserName string
	Password string
}

// loginPair is the stored shape of a LoginInfo: an ordered (user, password)
// pair. It is a slice so that a stored array of any other length is detected
// rather than truncated or padded on decode.
type loginPair []string

// CredentialStore keeps exactly one user/password pair per host.
type CredentialStore struct {
	cache  *Cache
	logger zerolog.Logger
}

// NewCredentialStore creates a CredentialStore over c. Credentials should be
// kept in an encrypted store; a plain store is accepted with a warning.
func NewCredentialStore(c *Cache) *CredentialStore {
	logger := c.logger.With().Str("component", "CredentialStore").Logger()
	if !IsEncrypted(c.store) {
		logger.Warn().Msg("Credentials will be stored in a blob store without encryption at rest.")
	}
	return &CredentialStore{cache: c, logger: logger}
}

// SaveLogin stores user and password for host, replacing any previous pair.
func (s *CredentialStore) SaveLogin(ctx context.Context, user, password, host string, expiresAt time.Time) error {
	return InsertObject(ctx, s.cache, LoginKey(host), loginPair{user, password}, expiresAt)
}

// SaveLoginFor is SaveLogin with an expiration d after the store's current time.
func (s *CredentialStore) SaveLoginFor(ctx context.Context, user, password, host string, d time.Duration) error {
	return s.SaveLogin(ctx, user, password, host, ExpiresIn(s.cache.Clock(), d))
}

// GetLogin returns the pair saved for host. It fails with ErrKeyNotFound if
// nothing was saved or the entry was erased or has expired.
func (s *CredentialStore) GetLogin(ctx context.Context, host string) (LoginInfo, error) {
	key := LoginKey(host)
	pair, err := GetObject[loginPair](ctx, s.cache, key)
	if err != nil {
		return LoginInfo{}, err
	}
	if len(pair) != 2 {
		s.logger.Error().Str("key", key).Int("elements", len(pair)).Msg("Stored login is not a user/password pair.")
		return LoginInfo{}, &SerializationError{
			Key: key,
			Op:  "decode",
			Err: fmt.Errorf("login pair has %d elements, want 2", len(pair)),
		}
	}
	return LoginInfo{UserName: pair[0], Password: pair[1]}, nil
}

// EraseLogin removes the pair saved for host.
func (s *CredentialStore) EraseLogin(ctx context.Context, host string) error {
	return InvalidateObject[loginPair](ctx, s.cache, LoginKey(host))
}
