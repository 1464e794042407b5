package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Terminal event types.
const (
	EventCrawlReady = "export.crawl_ready"
	EventFailed     = "export.failed"
	EventAbandoned  = "export.abandoned"

	DefaultTopic = "snapshot-exporter.events"

	EventTypeMetadataKey = "event_type"
	JobIDMetadataKey     = "job_id"
)

// Sink kinds accepted by NewPublisher.
const (
	SinkNone      = "none"
	SinkGoChannel = "gochannel"
	SinkKafka     = "kafka"
)

// EventPublisher publishes reports as watermill messages.
type EventPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewEventPublisher publishes reports to topic, or DefaultTopic when empty.
func NewEventPublisher(publisher message.Publisher, topic string) *EventPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &EventPublisher{publisher: publisher, topic: topic}
}

// Report publishes r as a JSON message tagged with its event type.
func (p *EventPublisher) Report(ctx context.Context, r Report) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(EventTypeMetadataKey, r.EventType())
	msg.Metadata.Set(JobIDMetadataKey, r.JobID)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", r.EventType(), err)
	}
	return nil
}

// NewPublisher builds the publisher for sink. It returns nil for SinkNone.
func NewPublisher(sink string, brokers []string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	switch strings.ToLower(sink) {
	case "", SinkNone:
		return nil, nil
	case SinkGoChannel:
		return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger), nil
	case SinkKafka:
		if len(brokers) == 0 || brokers[0] == "" {
			return nil, fmt.Errorf("kafka sink needs at least one broker")
		}
		saramaConfig := sarama.NewConfig()
		saramaConfig.Producer.Return.Successes = true
		saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
		publisher, err := kafka.NewPublisher(
			kafka.PublisherConfig{
				Brokers:               brokers,
				Marshaler:             kafka.DefaultMarshaler{},
				OverwriteSaramaConfig: saramaConfig,
				OTELEnabled:           true,
			},
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		return publisher, nil
	default:
		return nil, fmt.Errorf("unknown event sink %q", sink)
	}
}
