package wsmarshaller

import (
	"encoding/json"
	"strconv"

	"github.com/webitel/im-realtime-bench/internal/domain/model"
	"github.com/webitel/im-realtime-bench/internal/handler/marshaller"
)

const EventNotification = "notification"

// WSEvent is a generic wrapper for WebSocket messages to provide consistent structure
type WSEvent struct {
	Event   string `json:"event"`
	ID      string `json:"id"`
	Payload any    `json:"payload"`
}

// MarshallNotification prepares a notification frame for WebSocket transmission.
func MarshallNotification(n model.Notification) ([]byte, error) {
	return json.Marshal(&WSEvent{
		Event:   EventNotification,
		ID:      strconv.FormatInt(n.ID, 10),
		Payload: marshaller.MapNotification(n),
	})
}
