package api

import (
	"context"
	"time"

	"github.com/relabs-tech/gateway/core/client"
)

// ConnectionStats summarizes the connections of the caller
type ConnectionStats struct {
	Total     int `json:"total"`
	Connected int `json:"connected"`
	Pending   int `json:"pending"`
}

// Connection links a member to a creator
type Connection struct {
	ID        string    `json:"id"`
	CreatorID string    `json:"creatorId"`
	MemberID  string    `json:"memberId,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Connections is the connections module
type Connections struct {
	client client.Client
}

// Stats returns the connection statistics of the caller
func (c *Connections) Stats(ctx context.Context) (*ConnectionStats, error) {
	var stats ConnectionStats
	if _, err := c.client.WithContext(ctx).Collection("connection").Item("stats").Read(&stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// List returns all connections of the caller
func (c *Connections) List(ctx context.Context) ([]Connection, error) {
	var connections []Connection
	if _, err := c.client.WithContext(ctx).Collection("connection").List(&connections); err != nil {
		return nil, err
	}
	return connections, nil
}

// Connect connects the caller to a creator
func (c *Connections) Connect(ctx context.Context, creatorID string) (*Connection, error) {
	var connection Connection
	body := map[string]string{"creatorId": creatorID}
	if _, err := c.client.WithContext(ctx).Collection("connection").Create(body, &connection); err != nil {
		return nil, err
	}
	return &connection, nil
}

// Disconnect removes a connection
func (c *Connections) Disconnect(ctx context.Context, id string) error {
	_, err := c.client.WithContext(ctx).Collection("connection").Item(id).Delete()
	return err
}
