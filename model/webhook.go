package model

import (
	"time"

	"github.com/lib/pq"
)

const (
	DeliveryStatusPending  = "PENDING"
	DeliveryStatusRetrying = "RETRYING"
	DeliveryStatusSuccess  = "SUCCESS"
	DeliveryStatusFailed   = "FAILED"
)

// WebhookSubscription is an external endpoint registered for event
// delivery. Every delivery for the subscription is signed with its secret.
type WebhookSubscription struct {
	SubscriptionID   string         `json:"subscription_id"`
	URL              string         `json:"url"`
	Secret           string         `json:"-"`
	EventTypes       pq.StringArray `json:"event_types"`
	Active           bool           `json:"active"`
	ConsecutiveFails int            `json:"consecutive_fails"`
	LastStatus       string         `json:"last_status,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// WantsEvent reports whether the subscription is registered for the event
// type. An empty filter means all events.
func (s *WebhookSubscription) WantsEvent(eventType EventType) bool {
	if !s.Active {
		return false
	}
	if len(s.EventTypes) == 0 {
		return true
	}
	for _, t := range s.EventTypes {
		if t == string(eventType) {
			return true
		}
	}
	return false
}

// WebhookDelivery is one attempt record per (subscription, event).
// Attempts never exceed MaxAttempts and the terminal statuses are never
// revisited.
type WebhookDelivery struct {
	DeliveryID     string     `json:"delivery_id"`
	SubscriptionID string     `json:"subscription_id"`
	EventID        string     `json:"event_id"`
	EventType      EventType  `json:"event_type"`
	Payload        []byte     `json:"payload"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	ResponseStatus *int       `json:"response_status,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Exhausted reports whether the delivery has used up its attempt budget.
func (d *WebhookDelivery) Exhausted() bool {
	return d.Attempts >= d.MaxAttempts
}
