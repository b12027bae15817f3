// Command mockapi serves the development API the gateway talks to.
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/joeshaw/envdecode"

	"github.com/relabs-tech/gateway/api/mockapi"
	"github.com/relabs-tech/gateway/core/access"
	"github.com/relabs-tech/gateway/core/logger"
)

// Service holds the configuration for this service
//
// use MOCKAPI_KEY="secret" MOCKAPI_TOKEN_TTL=30s
type Service struct {
	Address  string        `env:"MOCKAPI_ADDRESS,default=:3000" description:"listen address"`
	Key      string        `env:"MOCKAPI_KEY,default=development" description:"HS256 signing key of issued tokens"`
	TokenTTL time.Duration `env:"MOCKAPI_TOKEN_TTL,default=1m" description:"lifetime of access tokens"`
	LogLevel string        `env:"LOG_LEVEL,default=info" description:"logrus log level"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}
	logger.InitLogger(logger.ParseLevel(service.LogLevel))
	rlog := logger.Default()

	s := mockapi.New([]byte(service.Key), service.TokenTTL)
	s.AddUser("admin@example.com", "admin", "Ada Admin", access.RoleAdmin)
	creator := s.AddUser("creator@example.com", "creator", "Cleo Creator", access.RoleCreator)
	s.AddUser("member@example.com", "member", "Max Member", access.RoleMember)
	s.Notify(creator, "welcome", "Welcome to the platform")

	rlog.Infof("listen on %s, tokens live for %s", service.Address, service.TokenTTL)
	if err := http.ListenAndServe(service.Address, handlers.CombinedLoggingHandler(os.Stdout, s.Handler())); err != nil {
		rlog.WithError(err).Fatal("server stopped")
	}
}
