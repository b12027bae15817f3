package api

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/gateway/core/access"
	"github.com/relabs-tech/gateway/core/client"
	"github.com/relabs-tech/gateway/core/gateway"
	"github.com/relabs-tech/gateway/core/logger"
	"github.com/relabs-tech/gateway/core/schema"
)

// User is an account of the platform
type User struct {
	ID    string      `json:"id"`
	Email string      `json:"email"`
	Name  string      `json:"name,omitempty"`
	Role  access.Role `json:"role"`
}

// LoginRequest is the body of the login endpoints
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the answer of the login endpoints
type LoginResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
	Role         string `json:"role,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// Auth is the authentication module
type Auth struct {
	gw     *gateway.Gateway
	client client.Client
}

// loginEndpoint returns the login endpoint for role
func loginEndpoint(role access.Role) string {
	if role == access.RoleAdmin {
		return "/admin/login"
	}
	return "/auth/login"
}

// Login authenticates with email and password and installs the returned credentials in
// the gateway's session. The access credential goes to the slot of role.
func (a *Auth) Login(ctx context.Context, role access.Role, email, password string) (*LoginResponse, error) {
	ctx, rlog := logger.ContextWithLoggerIdentity(ctx, email)
	var raw []byte
	status, err := a.client.WithContext(ctx).WithoutQueue().WithoutRefresh().RawPost(loginEndpoint(role), LoginRequest{Email: email, Password: password}, &raw)
	if err != nil {
		return nil, err
	}
	validator, err := schema.Auth()
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateBytes(raw, schema.TokenResponseID); err != nil {
		return nil, gateway.InvalidResponse(status, fmt.Errorf("invalid login response: %w", err))
	}
	var res LoginResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, gateway.InvalidResponse(status, fmt.Errorf("invalid login response: %w", err))
	}

	granted := access.ParseRole(res.Role)
	if granted == access.RoleGeneral {
		granted = role
	}
	creds := gateway.Credentials{RefreshToken: res.RefreshToken, Role: granted}
	switch granted {
	case access.RoleAdmin:
		creds.AdminToken = res.Token
	case access.RoleCreator:
		creds.CreatorToken = res.Token
	case access.RoleMember:
		creds.MemberToken = res.Token
	default:
		creds.Token = res.Token
	}
	if err := a.gw.Login(ctx, creds); err != nil {
		rlog.WithError(err).Warnln("cannot persist credentials")
	}
	rlog.Infoln("logged in with role", granted)
	return &res, nil
}

// Logout clears the session and redirects to the login surface
func (a *Auth) Logout(ctx context.Context) {
	a.gw.Logout(ctx)
}

// Me returns the logged in user
func (a *Auth) Me(ctx context.Context) (*User, error) {
	var user User
	if _, err := a.client.WithContext(ctx).RawGet("/auth/me", &user); err != nil {
		return nil, err
	}
	return &user, nil
}
