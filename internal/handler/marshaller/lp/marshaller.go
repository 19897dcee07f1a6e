package lpmarshaller

import (
	"encoding/json"

	"github.com/webitel/im-realtime-bench/internal/domain/model"
	"github.com/webitel/im-realtime-bench/internal/handler/marshaller"
)

// MarshallBatch encodes a long-poll batch as a JSON array. An empty or
// timed-out poll encodes as [].
func MarshallBatch(batch []model.Notification) ([]byte, error) {
	return json.Marshal(marshaller.MapNotifications(batch))
}
