package model

import (
	"encoding/json"
	"time"
)

// Notification is a fire-and-forget in-app message. Creation is best-effort
// and never rolls back the state change that produced it.
type Notification struct {
	NotificationID string          `json:"notification_id"`
	UserID         string          `json:"user_id"`
	Type           EventType       `json:"type"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	Data           json.RawMessage `json:"data,omitempty"`
	Read           bool            `json:"read"`
	CreatedAt      time.Time       `json:"created_at"`
}
