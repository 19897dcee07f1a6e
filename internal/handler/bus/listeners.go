package bus

import (
	"context"
	"fmt"
)

// NotificationV1 is the inbound payload accepted on the intake topic.
type NotificationV1 struct {
	Message string `json:"message"`
}

// [ON_NOTIFICATION_RECEIVED]
// Feeds an externally produced notification into the regular send path.
func (h *InboundHandler) OnNotificationReceivedV1(ctx context.Context, raw *NotificationV1) error {
	n, report, err := h.sender.Send(ctx, raw.Message)
	if err != nil {
		// [ERROR_PROPAGATION] storage failures are retried, validation is ACKed by Bind.
		return fmt.Errorf("failed to accept inbound notification: %w", err)
	}

	noteInbound(ctx, func(r *inboundResult) {
		r.notificationID = n.ID
		r.status = StatusAccepted
	})
	h.logger.Debug("INBOUND_ACCEPTED",
		"notification_id", n.ID,
		"waiters_resolved", report.WaitersResolved,
		"pushed", report.Pushed,
	)
	return nil
}
