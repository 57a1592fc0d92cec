package model

import "time"

type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationOrder   NotificationType = "order"
	NotificationMessage NotificationType = "message"
	NotificationProduct NotificationType = "product"
)

type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Link      string           `json:"link,omitempty"`
	IsRead    bool             `json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
}

// PushSubscription — подписка браузера на web push.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}
