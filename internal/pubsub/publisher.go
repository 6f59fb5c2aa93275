package pubsub

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/flexprice/billingops/internal/config"
	ierr "github.com/flexprice/billingops/internal/errors"
	kafkaConfig "github.com/flexprice/billingops/internal/kafka"
	"github.com/flexprice/billingops/internal/logger"
	"github.com/flexprice/billingops/internal/types"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	MetadataEventName = "event_name"
	MetadataRequestID = "request_id"
	MetadataPartition = "partition_key"
)

// EventPublisher publishes domain events as JSON messages on one topic.
type EventPublisher interface {
	Publish(ctx context.Context, eventName, partitionKey string, payload interface{}) error
	Close() error
}

type eventPublisher struct {
	pub   message.Publisher
	topic string
	log   *logger.Logger
}

// NewEventPublisher wraps an existing watermill publisher.
func NewEventPublisher(pub message.Publisher, topic string, log *logger.Logger) EventPublisher {
	return &eventPublisher{pub: pub, topic: topic, log: log}
}

// NewPublisher builds the publisher selected by event_publisher.type.
func NewPublisher(cfg *config.Configuration, log *logger.Logger) (EventPublisher, error) {
	wmLogger := log.GetWatermillLogger()

	switch cfg.EventPublisher.Type {
	case "kafka":
		pub, err := kafka.NewPublisher(kafka.PublisherConfig{
			Brokers:               cfg.Kafka.Brokers,
			Marshaler:             kafka.NewWithPartitioningMarshaler(partitionKey),
			OverwriteSaramaConfig: kafkaConfig.GetSaramaConfig(cfg),
		}, wmLogger)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to create kafka publisher").
				Mark(ierr.ErrSystem)
		}
		log.Infow("kafka event publisher created", "brokers", cfg.Kafka.Brokers, "topic", cfg.EventPublisher.Topic)
		return NewEventPublisher(pub, cfg.EventPublisher.Topic, log), nil
	default:
		pub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, wmLogger)
		log.Infow("in-memory event publisher created", "topic", cfg.EventPublisher.Topic)
		return NewEventPublisher(pub, cfg.EventPublisher.Topic, log), nil
	}
}

func partitionKey(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(MetadataPartition), nil
}

func (p *eventPublisher) Publish(ctx context.Context, eventName, partition string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to encode event payload").
			Mark(ierr.ErrInternal)
	}

	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataEventName, eventName)
	msg.Metadata.Set(MetadataPartition, partition)
	if requestID := types.GetRequestID(ctx); requestID != "" {
		msg.Metadata.Set(MetadataRequestID, requestID)
	}

	if err := p.pub.Publish(p.topic, msg); err != nil {
		return ierr.WithError(err).
			WithHintf("Failed to publish %s", eventName).
			Mark(ierr.ErrSystem)
	}

	p.log.Debugw("event published", "event_name", eventName, "topic", p.topic, "message_id", msg.UUID)
	return nil
}

func (p *eventPublisher) Close() error {
	return p.pub.Close()
}
