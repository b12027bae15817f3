/*Package access inspects and mints the JWT credentials exchanged with the API

The gateway never verifies tokens, that is the server's job. It only reads the
claims it needs to annotate requests: the caller's role and the expiry.
*/
package access

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Role is the caller role of a credential
type Role string

// The known roles. RoleGeneral is used for the general token when no role claim is present.
const (
	RoleGeneral Role = ""
	RoleAdmin   Role = "admin"
	RoleCreator Role = "creator"
	RoleMember  Role = "member"
)

// ParseRole maps a role name to a Role, unknown names become RoleGeneral
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleCreator:
		return RoleCreator
	case RoleMember, "user", "fan":
		return RoleMember
	}
	return RoleGeneral
}

// Claims are the claims of an access token the gateway cares about
type Claims struct {
	Subject   string
	Email     string
	Role      Role
	ExpiresAt time.Time
}

// Expired returns true if the token carries an expiry which is not after now
func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Inspect parses tokenString without verifying its signature and extracts the claims.
// The role is taken from a "role" claim or the first entry of a "roles" claim.
func Inspect(tokenString string) (*Claims, error) {
	tokenString = BearerToken(tokenString)
	if tokenString == "" {
		return nil, errors.New("empty token")
	}
	mapClaims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(tokenString, mapClaims); err != nil {
		return nil, err
	}
	claims := &Claims{}
	claims.Subject, _ = mapClaims["sub"].(string)
	claims.Email, _ = mapClaims["email"].(string)
	if role, ok := mapClaims["role"].(string); ok {
		claims.Role = ParseRole(role)
	} else if roles, ok := mapClaims["roles"].([]interface{}); ok && len(roles) > 0 {
		if role, ok := roles[0].(string); ok {
			claims.Role = ParseRole(role)
		}
	}
	if exp, ok := mapClaims["exp"].(float64); ok {
		claims.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return claims, nil
}

// BearerToken strips an optional "Bearer " prefix from an authorization header value
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "null" {
		return ""
	}
	if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

// Sign mints an HS256 token for subject with role, valid for ttl
func Sign(key []byte, subject, email string, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"jti":   uuid.New().String(),
		"sub":   subject,
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	if role != RoleGeneral {
		claims["role"] = string(role)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// Verify validates an HS256 token minted by Sign and returns its claims
func Verify(key []byte, tokenString string) (*Claims, error) {
	token, err := jwt.Parse(BearerToken(tokenString), func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return Inspect(token.Raw)
}
