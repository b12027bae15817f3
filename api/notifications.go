package api

import (
	"context"
	"time"

	"github.com/relabs-tech/gateway/core/client"
)

// Notification is a notification of the caller
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notifications is the notifications module
type Notifications struct {
	client client.Client
}

// List returns the notifications of the caller, newest first
func (n *Notifications) List(ctx context.Context) ([]Notification, error) {
	var notifications []Notification
	if _, err := n.client.WithContext(ctx).Collection("notification").List(&notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkRead marks a notification as read
func (n *Notifications) MarkRead(ctx context.Context, id string) error {
	path := n.client.Collection("notification").Item(id).Path() + "/read"
	_, err := n.client.WithContext(ctx).RawPost(path, nil, nil)
	return err
}

// UnreadCount returns the number of unread notifications
func (n *Notifications) UnreadCount(ctx context.Context) (int, error) {
	var res struct {
		Count int `json:"count"`
	}
	if _, err := n.client.WithContext(ctx).Collection("notification").Item("unread-count").Read(&res); err != nil {
		return 0, err
	}
	return res.Count, nil
}
