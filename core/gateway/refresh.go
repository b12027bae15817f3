// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/gateway/core/access"
	"github.com/relabs-tech/gateway/core/logger"
	"github.com/relabs-tech/gateway/core/schema"
)

// DefaultRefreshPath is the endpoint exchanging a refresh credential for a new access credential
const DefaultRefreshPath = "/auth/refresh-token"

type authState int

const (
	authIdle authState = iota
	authRefreshing
	authLoggedOut
)

func (s authState) String() string {
	switch s {
	case authRefreshing:
		return "refreshing"
	case authLoggedOut:
		return "logged-out"
	}
	return "idle"
}

// LoginPath returns the login surface for role. A section of the client ("/admin/...",
// "/creator/...") wins over the role.
func LoginPath(role access.Role, section string) string {
	switch {
	case strings.HasPrefix(section, "/admin"):
		return "/admin/login"
	case strings.HasPrefix(section, "/creator"):
		return "/creator/login"
	case role == access.RoleAdmin:
		return "/admin/login"
	case role == access.RoleCreator:
		return "/creator/login"
	}
	return "/login"
}

type tokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// authCoordinator makes sure at most one credential refresh is in flight. Requests failing
// with 401 during a refresh wait for its outcome.
type authCoordinator struct {
	g *Gateway

	mu      sync.Mutex
	state   authState
	waiters []chan error
	// refreshes counts the refresh calls sent to the API
	refreshes int
	// interrupted is set when a login or logout happens while a refresh is in flight.
	// The refresh outcome is then discarded and the coordinator settles in next.
	interrupted bool
	next        authState
}

// recover is called for a request which failed with 401 after being sent with usedToken.
// A nil return means the request should be replayed with the session's current credential.
func (a *authCoordinator) recover(ctx context.Context, c *call) error {
	a.mu.Lock()
	switch a.state {
	case authLoggedOut:
		a.mu.Unlock()
		return unauthorized(ErrLoggedOut)
	case authRefreshing:
		ch := make(chan error, 1)
		a.waiters = append(a.waiters, ch)
		a.mu.Unlock()
		select {
		case err := <-ch:
			return err
		case <-ctx.Done():
			return networkError(ctx.Err())
		}
	}
	// a refresh completed after this request was sent
	if token := a.g.session.AccessToken(); token != "" && token != c.token {
		a.mu.Unlock()
		return nil
	}
	a.state = authRefreshing
	a.mu.Unlock()

	rlog := logger.FromContext(ctx)
	// the refresh must not die with the request that happened to trigger it
	ctx = context.WithoutCancel(ctx)
	tokens, err := a.refresh(ctx)

	a.mu.Lock()
	if a.interrupted {
		rlog.Infoln("session changed during credential refresh, discarding its outcome")
		if a.next == authLoggedOut {
			return a.settle(authLoggedOut, unauthorized(ErrLoggedOut))
		}
		return a.settle(authIdle, nil)
	}
	if err == nil {
		if err := a.g.session.UpdateTokens(ctx, tokens.Token, tokens.RefreshToken); err != nil {
			rlog.WithError(err).Warnln("cannot persist refreshed credentials")
		}
		rlog.Infoln("credentials refreshed")
		return a.settle(authIdle, nil)
	}
	// cleared under a.mu, a concurrent login must survive
	rlog.WithError(err).Infoln("credential refresh failed, logging out")
	loginPath := a.g.loginPath()
	a.g.clearSession(ctx)
	err = a.settle(authLoggedOut, err)
	a.g.redirect(ctx, loginPath)
	return err
}

// settle ends a refresh in state and hands err to all waiters. It must be called with a.mu
// held and releases it.
func (a *authCoordinator) settle(state authState, err error) error {
	a.state = state
	a.interrupted = false
	waiters := a.waiters
	a.waiters = nil
	a.mu.Unlock()

	for _, w := range waiters {
		w <- err
	}
	return err
}

// refresh exchanges the refresh credential for a new access credential. The caller persists
// the returned tokens.
func (a *authCoordinator) refresh(ctx context.Context) (*tokenResponse, error) {
	g := a.g
	refreshToken := g.session.RefreshToken()
	if refreshToken == "" {
		return nil, unauthorized(ErrNoRefreshToken)
	}
	body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return nil, unauthorized(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url(g.refreshPath), bytes.NewReader(body))
	if err != nil {
		return nil, networkError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if id := logger.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(logger.RequestIDHeader, id)
	}

	a.mu.Lock()
	a.refreshes++
	a.mu.Unlock()
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, networkError(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, normalizeResponse(resp.StatusCode, resp.Header, data, g.now())
	}

	if err := g.validator.ValidateBytes(data, schema.TokenResponseID); err != nil {
		return nil, unauthorized(fmt.Errorf("invalid refresh response: %w", err))
	}
	var tokens tokenResponse
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, unauthorized(fmt.Errorf("invalid refresh response: %w", err))
	}
	return &tokens, nil
}

// loggedIn stores fresh credentials with save and returns the coordinator to idle. A refresh
// in flight is discarded since it belongs to the previous session.
func (a *authCoordinator) loggedIn(save func() error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := save()
	switch a.state {
	case authLoggedOut:
		a.state = authIdle
	case authRefreshing:
		a.interrupted = true
		a.next = authIdle
	}
	return err
}

// loggedOut moves the coordinator to logged out. A refresh in flight finishes in logged out
// and its credentials are never stored.
func (a *authCoordinator) loggedOut() {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case authIdle:
		a.state = authLoggedOut
	case authRefreshing:
		a.interrupted = true
		a.next = authLoggedOut
	}
}

func (a *authCoordinator) currentState() authState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// refreshCount returns the number of refresh calls issued so far
func (a *authCoordinator) refreshCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshes
}
