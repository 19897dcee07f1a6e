package model

import (
	"strings"
	"time"
)

// Notification is the single event type flowing through every delivery channel.
// Values are snapshots: the store owns the persisted copy and the delivered flag.
type Notification struct {
	ID        int64
	Message   string
	CreatedAt time.Time
	Delivered bool
}

// NewNotification validates the text and stamps the creation time.
// The ID is assigned by the store on save.
func NewNotification(message string, now time.Time) (Notification, error) {
	if strings.TrimSpace(message) == "" {
		return Notification{}, NewValidationError("message", "must not be blank")
	}
	return Notification{
		Message:   message,
		CreatedAt: now.UTC(),
	}, nil
}

// Before reports whether n sorts before other in creation order.
// Equal timestamps are broken by id so the order stays total.
func (n Notification) Before(other Notification) bool {
	if n.CreatedAt.Equal(other.CreatedAt) {
		return n.ID < other.ID
	}
	return n.CreatedAt.Before(other.CreatedAt)
}

// IDs extracts the identifiers of a batch, preserving order.
func IDs(batch []Notification) []int64 {
	ids := make([]int64, 0, len(batch))
	for _, n := range batch {
		ids = append(ids, n.ID)
	}
	return ids
}

// WithDelivered returns a copy of the batch with the delivered flag raised.
func WithDelivered(batch []Notification) []Notification {
	out := make([]Notification, len(batch))
	for i, n := range batch {
		n.Delivered = true
		out[i] = n
	}
	return out
}
