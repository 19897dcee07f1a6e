// Package marshaller maps domain values to the JSON shapes of the HTTP API.
package marshaller

import (
	"time"

	"github.com/webitel/im-realtime-bench/internal/domain/model"
)

type Notification struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	Delivered bool      `json:"delivered"`
}

func MapNotification(n model.Notification) Notification {
	return Notification{
		ID:        n.ID,
		Message:   n.Message,
		CreatedAt: n.CreatedAt.UTC(),
		Delivered: n.Delivered,
	}
}

// MapNotifications never returns nil so an empty batch encodes as [].
func MapNotifications(batch []model.Notification) []Notification {
	out := make([]Notification, 0, len(batch))
	for _, n := range batch {
		out = append(out, MapNotification(n))
	}
	return out
}
