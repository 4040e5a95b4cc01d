// Package event carries application events between services over an
// in-process pub/sub channel. The bus is constructed in main and handed to
// the services that need it; nothing here is global.
package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Type names an event topic.
type Type string

const (
	TypeSessionCreated      Type = "session.created"
	TypeSessionDeleted      Type = "session.deleted"
	TypeInteractionRecorded Type = "interaction.recorded"
)

// SessionEvent is the payload for session lifecycle topics.
type SessionEvent struct {
	SessionID string `json:"session_id"`
	Owner     string `json:"owner"`
}

// Bus is a thin wrapper over a watermill in-memory channel. Payloads are
// marshaled to JSON so subscribers stay decoupled from publisher types.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates an in-process bus. Events published with no subscriber are
// dropped.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 100,
			Persistent:          false,
		}, watermill.NopLogger{}),
	}
}

// Publish marshals payload and delivers it to subscribers of t.
func (b *Bus) Publish(t Type, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", t, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := b.pubsub.Publish(string(t), msg); err != nil {
		return fmt.Errorf("publish %s event: %w", t, err)
	}
	return nil
}

// Subscribe registers fn for events of type t. Delivery runs on a dedicated
// goroutine until ctx is canceled or the bus closes.
func (b *Bus) Subscribe(ctx context.Context, t Type, fn func(data []byte)) error {
	messages, err := b.pubsub.Subscribe(ctx, string(t))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", t, err)
	}

	go func() {
		for msg := range messages {
			fn(msg.Payload)
			msg.Ack()
		}
	}()
	return nil
}

// Close shuts the bus down and ends all subscriptions.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
