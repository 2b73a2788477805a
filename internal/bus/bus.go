package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tidepoint/marketplace/internal/domain"
)

// MetadataReplyTo names the topic a request expects its answer on.
const MetadataReplyTo = "reply_to"

const requestTimeout = 30 * time.Second

// New creates a new event bus based on configuration.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// Reply answers a message received through Request. Messages published
// without a reply topic are ignored.
func Reply(ctx context.Context, b domain.EventBus, msg *domain.Message, payload []byte) error {
	replyTo := msg.Metadata[MetadataReplyTo]
	if replyTo == "" {
		return nil
	}
	return b.Publish(ctx, replyTo, payload)
}

func newMessage(topic string, payload []byte, metadata map[string]string) *domain.Message {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	return &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  metadata,
		Timestamp: time.Now().UnixNano(),
	}
}
