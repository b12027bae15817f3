package schema

import (
	"embed"
	"io/fs"
	"sync"
)

// The schema ids of the embedded auth schemas
const (
	TokenResponseID = "https://schemas.relabs.tech/gateway/token-response.json"
	ErrorResponseID = "https://schemas.relabs.tech/gateway/error-response.json"
)

//go:embed schemas
var embedded embed.FS

var (
	authOnce      sync.Once
	authValidator *Validator
	authErr       error
)

// Auth returns the validator for the embedded auth schemas: the token response of the login
// and refresh endpoints, and the API error envelope.
func Auth() (*Validator, error) {
	authOnce.Do(func() {
		sub, err := fs.Sub(embedded, "schemas")
		if err != nil {
			authErr = err
			return
		}
		authValidator, authErr = NewValidatorFromFS(sub)
	})
	return authValidator, authErr
}
