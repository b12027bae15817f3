package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gateway/core/access"
	"github.com/relabs-tech/gateway/core/kvstore"
)

// authAPI serves a protected endpoint which accepts only the currently valid token, and a
// refresh endpoint which rotates it
type authAPI struct {
	*testAPI
	mu           sync.Mutex
	valid        string
	refreshToken string
	delay        time.Duration
	// refreshStatus overrides the status of the refresh endpoint if set
	refreshStatus int
	refreshBody   string
}

func newAuthAPI(t *testing.T) *authAPI {
	a := &authAPI{testAPI: newTestAPI(t), valid: "fresh-token", refreshToken: "refresh-1"}
	a.HandleFunc("/api/creators/me", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		ok := r.Header.Get("Authorization") == "Bearer "+a.valid
		a.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, `{"message":"jwt expired"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"id":"creator-1"}`)
	})
	a.HandleFunc("/api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &body)
		a.mu.Lock()
		delay, status, response := a.delay, a.refreshStatus, a.refreshBody
		expected := a.refreshToken
		a.mu.Unlock()
		time.Sleep(delay)
		if status != 0 {
			writeJSON(w, status, response)
			return
		}
		if body.RefreshToken != expected {
			writeJSON(w, http.StatusUnauthorized, `{"message":"invalid refresh token"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"token":"fresh-token","refreshToken":"refresh-2"}`)
	}).Methods(http.MethodPost)
	return a
}

func TestRefreshAndRetry(t *testing.T) {
	api := newAuthAPI(t)
	store := kvstore.NewMemory(0)
	g := newTestGateway(t, api.URL(), func(b *Builder) { b.Store = store })
	ctx := context.Background()
	require.NoError(t, g.Login(ctx, Credentials{Token: "expired-token", RefreshToken: "refresh-1"}))

	res, err := g.Do(ctx, &Request{URL: "/creators/me"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"creator-1"}`, string(res.Body))

	assert.Equal(t, []string{"/api/creators/me", "/api/auth/refresh-token", "/api/creators/me"}, api.paths())
	token, err := store.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", string(token))
	refresh, err := store.Get(ctx, KeyRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", string(refresh))
	assert.Equal(t, "idle", g.Stats().AuthState)
	assert.Equal(t, 1, g.Stats().Refreshes)
}

func TestConcurrentUnauthorizedRefreshOnce(t *testing.T) {
	api := newAuthAPI(t)
	api.delay = 100 * time.Millisecond
	g := newTestGateway(t, api.URL(), nil)
	ctx := context.Background()
	require.NoError(t, g.Login(ctx, Credentials{Token: "expired-token", RefreshToken: "refresh-1"}))

	const m = 10
	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := g.Do(ctx, &Request{URL: "/creators/me"})
			if assert.NoError(t, err) && res.Status == http.StatusOK {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(m), succeeded.Load())
	assert.Equal(t, 1, api.count("/api/auth/refresh-token"))
	assert.Equal(t, 1, g.Stats().Refreshes)
	assert.Equal(t, 2*m, api.count("/api/creators/me"))
}

func TestRetryAtMostOnce(t *testing.T) {
	api := newAuthAPI(t)
	api.valid = "never-valid"
	g := newTestGateway(t, api.URL(), nil)
	ctx := context.Background()
	require.NoError(t, g.Login(ctx, Credentials{Token: "expired-token", RefreshToken: "refresh-1"}))

	_, err := g.Do(ctx, &Request{URL: "/creators/me"})
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindUnauthorized, e.Kind)
	assert.Equal(t, http.StatusUnauthorized, e.Status)
	assert.Equal(t, 2, api.count("/api/creators/me"))
	assert.Equal(t, 1, api.count("/api/auth/refresh-token"))
}

func TestRefreshFailureLogsOut(t *testing.T) {
	api := newAuthAPI(t)
	api.refreshStatus = http.StatusUnauthorized
	api.refreshBody = `{"message":"refresh token revoked"}`
	api.delay = 100 * time.Millisecond

	var mu sync.Mutex
	var redirects []string
	store := kvstore.NewMemory(0)
	g := newTestGateway(t, api.URL(), func(b *Builder) {
		b.Store = store
		b.OnLogout = func(ctx context.Context, loginPath string) {
			mu.Lock()
			defer mu.Unlock()
			redirects = append(redirects, loginPath)
		}
	})
	ctx := context.Background()
	require.NoError(t, g.Login(ctx, Credentials{
		CreatorToken: "expired-token",
		RefreshToken: "refresh-1",
		Role:         access.RoleCreator,
	}))

	const m = 5
	errs := make(chan error, m)
	var wg sync.WaitGroup
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Do(ctx, &Request{URL: "/creators/me"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.True(t, IsKind(err, KindUnauthorized), "unexpected error %v", err)
	}

	assert.Equal(t, 1, api.count("/api/auth/refresh-token"))
	assert.Equal(t, []string{"/creator/login"}, redirects)
	assert.Equal(t, "logged-out", g.Stats().AuthState)
	assert.Equal(t, Credentials{}, g.Session().Credentials())
	for _, key := range []string{KeyCreatorToken, KeyRefreshToken, KeyUserRole} {
		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, kvstore.ErrNotFound, key)
	}

	// logged out is terminal until the next login
	_, err := g.Do(ctx, &Request{URL: "/creators/me"})
	assert.ErrorIs(t, err, ErrLoggedOut)
	assert.Equal(t, 1, api.count("/api/auth/refresh-token"))

	api.mu.Lock()
	api.refreshStatus = 0
	api.delay = 0
	api.mu.Unlock()
	require.NoError(t, g.Login(ctx, Credentials{Token: "expired-token", RefreshToken: "refresh-1"}))
	assert.Equal(t, "idle", g.Stats().AuthState)
	_, err = g.Do(ctx, &Request{URL: "/creators/me"})
	assert.NoError(t, err)
}

func TestUnauthorizedWithoutRefreshToken(t *testing.T) {
	api := newAuthAPI(t)
	var redirected string
	g := newTestGateway(t, api.URL(), func(b *Builder) {
		b.OnLogout = func(ctx context.Context, loginPath string) { redirected = loginPath }
	})
	ctx := context.Background()
	require.NoError(t, g.Login(ctx, Credentials{AdminToken: "expired-token"}))

	_, err := g.Do(ctx, &Request{URL: "/creators/me"})
	assert.True(t, IsKind(err, KindUnauthorized))
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Equal(t, 0, api.count("/api/auth/refresh-token"))
	assert.Equal(t, 0, g.Stats().Refreshes)
	assert.Equal(t, "/admin/login", redirected)
	assert.Equal(t, "logged-out", g.Stats().AuthState)
}

func TestLogoutDuringRefreshIsFinal(t *testing.T) {
	api := newAuthAPI(t)
	api.delay = 200 * time.Millisecond
	store := kvstore.NewMemory(0)
	var redirects atomic.Int32
	g := newTestGateway(t, api.URL(), func(b *Builder) {
		b.Store = store
		b.OnLogout = func(ctx context.Context, loginPath string) { redirects.Add(1) }
	})
	ctx := context.Background()
	require.NoError(t, g.Login(ctx, Credentials{Token: "expired-token", RefreshToken: "refresh-1"}))

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := g.Do(ctx, &Request{URL: "/creators/me"})
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return g.Stats().AuthState == "refreshing" }, 2*time.Second, time.Millisecond)

	g.Logout(ctx)
	assert.Empty(t, g.Session().AccessToken())

	for i := 0; i < 2; i++ {
		err := <-errs
		assert.True(t, IsKind(err, KindUnauthorized), "unexpected error %v", err)
		assert.ErrorIs(t, err, ErrLoggedOut)
	}
	assert.Equal(t, "logged-out", g.Stats().AuthState)
	assert.Equal(t, Credentials{}, g.Session().Credentials())
	for _, key := range []string{KeyToken, KeyRefreshToken} {
		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, kvstore.ErrNotFound, key)
	}
	assert.Equal(t, int32(1), redirects.Load())
	assert.Equal(t, 1, api.count("/api/auth/refresh-token"))
}

func TestLoginDuringRefreshWins(t *testing.T) {
	api := newAuthAPI(t)
	api.delay = 200 * time.Millisecond
	g := newTestGateway(t, api.URL(), nil)
	ctx := context.Background()
	require.NoError(t, g.Login(ctx, Credentials{Token: "expired-token", RefreshToken: "refresh-1"}))

	errs := make(chan error, 1)
	go func() {
		_, err := g.Do(ctx, &Request{URL: "/creators/me"})
		errs <- err
	}()
	require.Eventually(t, func() bool { return g.Stats().AuthState == "refreshing" }, 2*time.Second, time.Millisecond)

	require.NoError(t, g.Login(ctx, Credentials{Token: "fresh-token", RefreshToken: "refresh-9"}))
	assert.NoError(t, <-errs)

	// the outcome of the refresh belongs to the previous session
	assert.Equal(t, "refresh-9", g.Session().RefreshToken())
	assert.Equal(t, "fresh-token", g.Session().AccessToken())
	assert.Equal(t, "idle", g.Stats().AuthState)
}

func TestInvalidRefreshResponse(t *testing.T) {
	api := newAuthAPI(t)
	api.refreshStatus = http.StatusOK
	api.refreshBody = `{"accessToken":"wrong-shape"}`
	g := newTestGateway(t, api.URL(), nil)
	ctx := context.Background()
	require.NoError(t, g.Login(ctx, Credentials{Token: "expired-token", RefreshToken: "refresh-1"}))

	_, err := g.Do(ctx, &Request{URL: "/creators/me"})
	assert.True(t, IsKind(err, KindUnauthorized))
	assert.Equal(t, "logged-out", g.Stats().AuthState)
	assert.Empty(t, g.Session().AccessToken())
}

func TestRefreshServerErrorPropagates(t *testing.T) {
	api := newAuthAPI(t)
	api.refreshStatus = http.StatusServiceUnavailable
	g := newTestGateway(t, api.URL(), nil)
	ctx := context.Background()
	require.NoError(t, g.Login(ctx, Credentials{Token: "expired-token", RefreshToken: "refresh-1"}))

	_, err := g.Do(ctx, &Request{URL: "/creators/me"})
	assert.True(t, IsKind(err, KindServer))
	assert.Equal(t, "logged-out", g.Stats().AuthState)
}

func TestExplicitLogout(t *testing.T) {
	api := newAuthAPI(t)
	var redirected string
	g := newTestGateway(t, api.URL(), func(b *Builder) {
		b.OnLogout = func(ctx context.Context, loginPath string) { redirected = loginPath }
	})
	ctx := context.Background()
	require.NoError(t, g.Login(ctx, Credentials{MemberToken: "m", Role: access.RoleMember}))

	g.Logout(ctx)
	assert.Equal(t, "/login", redirected)

	section := "/admin/settings"
	g.section = func() string { return section }
	require.NoError(t, g.Login(ctx, Credentials{MemberToken: "m", Role: access.RoleMember}))
	g.Logout(ctx)
	assert.Equal(t, "/admin/login", redirected)
	assert.Empty(t, g.Session().AccessToken())
	assert.Equal(t, "logged-out", g.Stats().AuthState)
}

func TestLoginPath(t *testing.T) {
	assert.Equal(t, "/admin/login", LoginPath(access.RoleAdmin, "/connections"))
	assert.Equal(t, "/creator/login", LoginPath(access.RoleCreator, ""))
	assert.Equal(t, "/login", LoginPath(access.RoleMember, "/notifications"))
	assert.Equal(t, "/admin/login", LoginPath(access.RoleMember, "/admin/users"))
	assert.Equal(t, "/creator/login", LoginPath(access.RoleGeneral, "/creator/dashboard"))
	assert.Equal(t, "/login", LoginPath(access.RoleGeneral, ""))
}
