package bus

import (
	"context"
	"strconv"
	"time"
)

// Chat types as reported by Telegram.
const (
	ChatPrivate    = "private"
	ChatGroup      = "group"
	ChatSuperGroup = "supergroup"
	ChatChannel    = "channel"
)

// InboundMessage is a bot command received in a chat.
type InboundMessage struct {
	Channel   string
	ChatID    int64
	ChatType  string
	SenderID  int64
	Command   string
	Args      string
	MessageID int
	Timestamp time.Time
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + strconv.FormatInt(m.ChatID, 10)
}

// IsGroup reports whether the message came from a group or supergroup.
func (m *InboundMessage) IsGroup() bool {
	return m.ChatType == ChatGroup || m.ChatType == ChatSuperGroup
}

type OutboundMessage struct {
	ChatID  int64
	Content string
}

type MessageBus struct {
	Inbound chan InboundMessage
}

func NewMessageBus(bufSize int) *MessageBus {
	return &MessageBus{
		Inbound: make(chan InboundMessage, bufSize),
	}
}

// Publish queues msg for the gateway, giving up when ctx is done.
func (b *MessageBus) Publish(ctx context.Context, msg InboundMessage) error {
	select {
	case b.Inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
