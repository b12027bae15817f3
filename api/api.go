/*Package api contains the service modules of the platform's REST API.

Each module is a thin typed wrapper around requests sent through the gateway:

	gw := gateway.MustNew(ctx, &gateway.Builder{BaseURL: cfg.APIURL})
	services := api.New(gw)
	stats, err := services.Connections.Stats(ctx)

*/
package api

import (
	"github.com/relabs-tech/gateway/core/client"
	"github.com/relabs-tech/gateway/core/gateway"
)

// API bundles all service modules
type API struct {
	Auth          *Auth
	Connections   *Connections
	Notifications *Notifications
	Creators      *Creators
}

// New returns all service modules sending through gw
func New(gw *gateway.Gateway) *API {
	c := client.New(gw)
	return &API{
		Auth:          &Auth{gw: gw, client: c},
		Connections:   &Connections{client: c},
		Notifications: &Notifications{client: c},
		Creators:      &Creators{client: c},
	}
}
