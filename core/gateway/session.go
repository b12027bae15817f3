package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/relabs-tech/gateway/core/access"
	"github.com/relabs-tech/gateway/core/kvstore"
)

// The persisted credential keys
const (
	KeyToken        = "token"
	KeyAdminToken   = "adminToken"
	KeyCreatorToken = "creatorToken"
	KeyMemberToken  = "memberToken"
	KeyRefreshToken = "refreshToken"
	KeyUserRole     = "userRole"
)

// Credentials are the tokens and role of a logged-in caller. Empty fields are absent.
type Credentials struct {
	Token        string
	AdminToken   string
	CreatorToken string
	MemberToken  string
	RefreshToken string
	Role         access.Role
}

func (c *Credentials) slots() []struct {
	key   string
	value *string
} {
	return []struct {
		key   string
		value *string
	}{
		{KeyToken, &c.Token},
		{KeyAdminToken, &c.AdminToken},
		{KeyCreatorToken, &c.CreatorToken},
		{KeyMemberToken, &c.MemberToken},
		{KeyRefreshToken, &c.RefreshToken},
	}
}

// Session holds the credentials of the caller and persists them in a kvstore.Store.
// It is safe for concurrent use.
type Session struct {
	store kvstore.Store

	mu    sync.RWMutex
	creds Credentials
}

// loadSession reads the persisted credentials from store
func loadSession(ctx context.Context, store kvstore.Store) (*Session, error) {
	s := &Session{store: store}
	for _, slot := range s.creds.slots() {
		value, err := store.Get(ctx, slot.key)
		if errors.Is(err, kvstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cannot read credential %s: %w", slot.key, err)
		}
		*slot.value = string(value)
	}
	role, err := store.Get(ctx, KeyUserRole)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("cannot read credential %s: %w", KeyUserRole, err)
	}
	s.creds.Role = access.ParseRole(string(role))
	return s, nil
}

// Credentials returns a copy of the current credentials
func (s *Session) Credentials() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// AccessToken returns the credential attached to outgoing requests. The general token
// wins over the admin, creator and member tokens, in that order.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, _ := s.creds.accessToken()
	return token
}

func (c *Credentials) accessToken() (string, access.Role) {
	switch {
	case c.Token != "":
		return c.Token, access.RoleGeneral
	case c.AdminToken != "":
		return c.AdminToken, access.RoleAdmin
	case c.CreatorToken != "":
		return c.CreatorToken, access.RoleCreator
	case c.MemberToken != "":
		return c.MemberToken, access.RoleMember
	}
	return "", access.RoleGeneral
}

// RefreshToken returns the refresh credential or an empty string
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds.RefreshToken
}

// Role returns the caller role. A stored role wins, then the role of the token slot in use,
// then the role claim of the general token.
func (s *Session) Role() access.Role {
	s.mu.RLock()
	creds := s.creds
	s.mu.RUnlock()

	if creds.Role != access.RoleGeneral {
		return creds.Role
	}
	token, role := creds.accessToken()
	if role != access.RoleGeneral || token == "" {
		return role
	}
	claims, err := access.Inspect(token)
	if err != nil {
		return access.RoleGeneral
	}
	return claims.Role
}

// Save replaces all credentials and persists them
func (s *Session) Save(ctx context.Context, creds Credentials) error {
	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
	return s.persist(ctx, creds)
}

// UpdateTokens installs the result of a successful refresh. The new access credential goes
// to the general slot, the refresh credential is only replaced if a new one was issued.
func (s *Session) UpdateTokens(ctx context.Context, token, refreshToken string) error {
	s.mu.Lock()
	s.creds.Token = token
	if refreshToken != "" {
		s.creds.RefreshToken = refreshToken
	}
	creds := s.creds
	s.mu.Unlock()

	if err := s.store.Set(ctx, KeyToken, []byte(token)); err != nil {
		return fmt.Errorf("cannot persist %s: %w", KeyToken, err)
	}
	if refreshToken != "" {
		if err := s.store.Set(ctx, KeyRefreshToken, []byte(creds.RefreshToken)); err != nil {
			return fmt.Errorf("cannot persist %s: %w", KeyRefreshToken, err)
		}
	}
	return nil
}

// Clear removes all credentials, in memory and in the store
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.creds = Credentials{}
	s.mu.Unlock()
	return s.persist(ctx, Credentials{})
}

func (s *Session) persist(ctx context.Context, creds Credentials) error {
	var errs []error
	write := func(key, value string) {
		var err error
		if value == "" {
			err = s.store.Delete(ctx, key)
		} else {
			err = s.store.Set(ctx, key, []byte(value))
		}
		if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
			errs = append(errs, fmt.Errorf("cannot persist %s: %w", key, err))
		}
	}
	for _, slot := range creds.slots() {
		write(slot.key, *slot.value)
	}
	write(KeyUserRole, string(creds.Role))
	return errors.Join(errs...)
}
