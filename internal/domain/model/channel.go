package model

import "strings"

// Channel identifies one of the delivery techniques under comparison.
type Channel string

const (
	ChannelShort Channel = "short"
	ChannelLong  Channel = "long"
	ChannelPush  Channel = "push"
)

// Channels lists every known channel in display order.
var Channels = []Channel{ChannelShort, ChannelLong, ChannelPush}

// ParseChannel resolves a route key to a Channel.
// "websocket" is accepted as an alias of push for older clients.
func ParseChannel(key string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case string(ChannelShort):
		return ChannelShort, nil
	case string(ChannelLong):
		return ChannelLong, nil
	case string(ChannelPush), "websocket":
		return ChannelPush, nil
	default:
		return "", NewNotFoundError("channel", key)
	}
}

// DisplayName is the human label used by the comparison view.
func (c Channel) DisplayName() string {
	switch c {
	case ChannelShort:
		return "Short Polling"
	case ChannelLong:
		return "Long Polling"
	case ChannelPush:
		return "WebSocket"
	default:
		return string(c)
	}
}
