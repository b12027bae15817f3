package api

import (
	"context"

	"github.com/relabs-tech/gateway/core/client"
)

// Creator is a public creator profile
type Creator struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Handle      string `json:"handle"`
	Bio         string `json:"bio,omitempty"`
	Connections int    `json:"connections"`
}

// Dashboard is the overview of the logged in creator
type Dashboard struct {
	Connections         int     `json:"connections"`
	PendingConnections  int     `json:"pendingConnections"`
	UnreadNotifications int     `json:"unreadNotifications"`
	Earnings            float64 `json:"earnings"`
}

// Creators is the creators module
type Creators struct {
	client client.Client
}

// Get returns the profile of a creator
func (c *Creators) Get(ctx context.Context, id string) (*Creator, error) {
	var creator Creator
	if _, err := c.client.WithContext(ctx).Collection("creator").Item(id).Read(&creator); err != nil {
		return nil, err
	}
	return &creator, nil
}

// Dashboard returns the dashboard of the logged in creator
func (c *Creators) Dashboard(ctx context.Context) (*Dashboard, error) {
	var dashboard Dashboard
	if _, err := c.client.WithContext(ctx).Collection("creator").Item("dashboard").Read(&dashboard); err != nil {
		return nil, err
	}
	return &dashboard, nil
}
