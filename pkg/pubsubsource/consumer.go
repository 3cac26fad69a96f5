// Package pubsubsource consumes telemetry from a Google Cloud Pub/Sub
// subscription. Pub/Sub carries no topic of its own in the payload, so the
// originating topic is taken from the message attributes, falling back to a
// configured default.
package pubsubsource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"

	"github.com/riverwatch/go-ingest/pkg/pipeline"
)

// Config holds the subscription settings for a Consumer.
type Config struct {
	ProjectID      string `yaml:"project_id"`
	SubscriptionID string `yaml:"subscription_id"`
	// MaxOutstandingMessages bounds the unacked messages held by the client.
	MaxOutstandingMessages int `yaml:"max_outstanding_messages"`
	// NumGoroutines is the number of streams the client pulls on.
	NumGoroutines int `yaml:"num_goroutines"`
	// FallbackTopic is used for rule matching when a message carries no topic
	// attribute.
	FallbackTopic string `yaml:"fallback_topic"`
}

// NewConfigDefaults returns a Config for the given subscription with the
// client defaults filled in.
func NewConfigDefaults(subID string) *Config {
	return &Config{
		SubscriptionID:         subID,
		MaxOutstandingMessages: 100,
		NumGoroutines:          5,
	}
}

// Consumer implements the pipeline.MessageConsumer interface over a Pub/Sub
// subscription.
type Consumer struct {
	client             *pubsub.Client
	subscription       *pubsub.Subscription
	fallbackTopic      string
	logger             zerolog.Logger
	outputChan         chan pipeline.Message
	stopOnce           sync.Once
	cancelSubscription context.CancelFunc
	doneChan           chan struct{}
}

// NewConsumer verifies the subscription exists and returns a consumer bound
// to it. The client is owned by the caller and is not closed on Stop.
func NewConsumer(cfg *Config, client *pubsub.Client, logger zerolog.Logger) (*Consumer, error) {
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("pubsub subscription ID is required")
	}
	sub := client.Subscription(cfg.SubscriptionID)

	existsCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	exists, err := sub.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("subscription %s does not exist", cfg.SubscriptionID)
	}

	if cfg.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	}
	if cfg.NumGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines
	}

	bufferSize := cfg.MaxOutstandingMessages
	if bufferSize <= 0 {
		bufferSize = 100
	}

	return &Consumer{
		client:        client,
		subscription:  sub,
		fallbackTopic: cfg.FallbackTopic,
		logger:        logger.With().Str("component", "PubsubConsumer").Str("subscription_id", cfg.SubscriptionID).Logger(),
		outputChan:    make(chan pipeline.Message, bufferSize),
		doneChan:      make(chan struct{}),
	}, nil
}

// Messages returns the read-only channel from which messages are consumed.
func (c *Consumer) Messages() <-chan pipeline.Message { return c.outputChan }

// Start begins pulling from the subscription in a background goroutine.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info().Msg("Starting Pub/Sub message consumption...")
	receiveCtx, cancel := context.WithCancel(ctx)
	c.cancelSubscription = cancel

	go func() {
		defer close(c.outputChan)
		defer close(c.doneChan)
		defer c.logger.Info().Msg("Pub/Sub Receive goroutine stopped.")

		c.logger.Info().Msg("Pub/Sub Receive goroutine started.")
		err := c.subscription.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			payloadCopy := make([]byte, len(msg.Data))
			copy(payloadCopy, msg.Data)

			attributes := make(map[string]string, len(msg.Attributes)+1)
			for k, v := range msg.Attributes {
				attributes[k] = v
			}
			if attributes[pipeline.TopicAttribute] == "" {
				attributes[pipeline.TopicAttribute] = c.fallbackTopic
			}

			consumedMsg := pipeline.Message{
				MessageData: pipeline.MessageData{
					ID:         msg.ID,
					Payload:    payloadCopy,
					ReceivedAt: time.Now().UTC(),
				},
				Attributes: attributes,
				Ack:        msg.Ack,
				Nack:       msg.Nack,
			}

			select {
			case c.outputChan <- consumedMsg:
			case <-receiveCtx.Done():
				msg.Nack()
				c.logger.Warn().Str("msg_id", msg.ID).Msg("Consumer stopping, Nacking message due to receive context done.")
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
	}()
	return nil
}

// Stop cancels the Receive loop and waits for it to drain, bounded by ctx.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping Pub/Sub consumer...")
		if c.cancelSubscription != nil {
			c.cancelSubscription()
		}
		select {
		case <-c.doneChan:
			c.logger.Info().Msg("Pub/Sub Receive goroutine confirmed stopped.")
		case <-ctx.Done():
			c.logger.Error().Msg("Timeout waiting for Pub/Sub Receive goroutine to stop.")
			err = ctx.Err()
		}
	})
	return err
}

// Done returns a channel closed once the Receive loop has exited.
func (c *Consumer) Done() <-chan struct{} { return c.doneChan }
