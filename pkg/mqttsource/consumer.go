package mqttsource

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/riverwatch/go-ingest/pkg/pipeline"
)

// Consumer implements the pipeline.MessageConsumer interface for an MQTT
// source.
type Consumer struct {
	pahoClient mqtt.Client
	cfg        *Config
	logger     zerolog.Logger
	outputChan chan pipeline.Message
	doneChan   chan struct{}
	stopOnce   sync.Once
}

// NewConsumer creates a new Consumer. It does not connect until Start is
// called. A nil client builds a real Paho client from the config; tests
// inject a mock instead.
func NewConsumer(client mqtt.Client, cfg *Config, logger zerolog.Logger) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &Consumer{
		pahoClient: client,
		cfg:        cfg,
		logger:     logger.With().Str("component", "MqttConsumer").Logger(),
		outputChan: make(chan pipeline.Message, cfg.BufferSize),
		doneChan:   make(chan struct{}),
	}, nil
}

// Messages returns the read-only channel from which messages are consumed.
func (c *Consumer) Messages() <-chan pipeline.Message {
	return c.outputChan
}

// Start connects to the broker and subscribes to the configured topic
// filters. An initial connection failure is logged rather than returned; the
// Paho client keeps retrying in the background and the OnConnect handler
// restores the subscriptions once the broker is reachable.
func (c *Consumer) Start(ctx context.Context) error {
	handler := c.handleIncomingMessage(ctx)
	if c.pahoClient == nil {
		c.pahoClient = mqtt.NewClient(c.createMqttOptions(handler))
	}

	c.logger.Info().Str("broker", c.cfg.BrokerURL).Msg("Attempting to connect to MQTT broker...")
	if token := c.pahoClient.Connect(); token.WaitTimeout(c.cfg.ConnectTimeout) && token.Error() != nil {
		c.logger.Error().Err(token.Error()).Msg("Failed to connect to MQTT broker on startup. The Paho client will continue to retry in the background.")
	} else if token.Error() == nil {
		c.logger.Info().Msg("Initial connection to MQTT broker successful.")
		c.subscribeAll(c.pahoClient, handler)
	}

	go func() {
		<-ctx.Done()
		c.logger.Info().Msg("Shutdown signal received, ensuring consumer is stopped.")
		_ = c.Stop(context.Background())
	}()

	return nil
}

// Stop gracefully ceases message consumption.
func (c *Consumer) Stop(_ context.Context) error {
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping MqttConsumer...")
		if c.pahoClient != nil && c.pahoClient.IsConnected() {
			if token := c.pahoClient.Unsubscribe(c.cfg.Topics...); token.WaitTimeout(2*time.Second) && token.Error() != nil {
				c.logger.Warn().Err(token.Error()).Strs("topics", c.cfg.Topics).Msg("Failed to unsubscribe from MQTT topics.")
			}
			c.pahoClient.Disconnect(500) // 500ms grace period
			c.logger.Info().Msg("Paho MQTT client disconnected.")
		}
		close(c.outputChan)
		close(c.doneChan)
		c.logger.Info().Msg("MqttConsumer stopped.")
	})
	return nil
}

// Done returns a channel that is closed when the consumer has fully stopped.
func (c *Consumer) Done() <-chan struct{} {
	return c.doneChan
}

// IsConnected reports the connection status of the underlying Paho client.
// Integration tests use it to wait until the consumer is ready.
func (c *Consumer) IsConnected() bool {
	return c.pahoClient != nil && c.pahoClient.IsConnected()
}

// subscribeAll subscribes to every configured topic filter at QoS 1.
func (c *Consumer) subscribeAll(client mqtt.Client, handler mqtt.MessageHandler) {
	for _, topic := range c.cfg.Topics {
		token := client.Subscribe(topic, 1, handler)
		go func(topic string) {
			if token.WaitTimeout(5*time.Second) && token.Error() != nil {
				c.logger.Error().Err(token.Error()).Str("topic", topic).Msg("Failed to subscribe to MQTT topic.")
			} else {
				c.logger.Info().Str("topic", topic).Msg("Successfully subscribed to MQTT topic.")
			}
		}(topic)
	}
}

// handleIncomingMessage converts broker messages to the pipeline format. The
// Ack closure releases the broker-level acknowledgment; Nack is a no-op
// because withholding the PUBACK is what triggers redelivery for QoS 1.
func (c *Consumer) handleIncomingMessage(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		c.logger.Debug().Str("topic", msg.Topic()).Msg("Received MQTT message")
		payloadCopy := make([]byte, len(msg.Payload()))
		copy(payloadCopy, msg.Payload())

		consumedMsg := pipeline.Message{
			MessageData: pipeline.MessageData{
				ID:         fmt.Sprintf("%d", msg.MessageID()),
				Payload:    payloadCopy,
				ReceivedAt: time.Now().UTC(),
			},
			Attributes: map[string]string{pipeline.TopicAttribute: msg.Topic()},
			Ack:        msg.Ack,
			Nack:       func() {},
		}
		select {
		case c.outputChan <- consumedMsg:
		case <-ctx.Done():
			c.logger.Warn().Str("topic", msg.Topic()).Msg("Consumer is shutting down, dropping MQTT message.")
		}
	}
}

// createMqttOptions assembles the Paho client options from the config.
func (c *Consumer) createMqttOptions(handler mqtt.MessageHandler) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.BrokerURL)
	opts.SetClientID(fmt.Sprintf("%s%s", c.cfg.ClientIDPrefix, uuid.NewString()[:8]))
	opts.SetUsername(c.cfg.Username)
	opts.SetPassword(c.cfg.Password)
	opts.SetKeepAlive(c.cfg.KeepAlive)
	opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(c.cfg.ReconnectWaitMax)
	opts.SetOrderMatters(false)
	// Acks are settled by the pipeline after a durable write, not by the
	// client on receipt.
	opts.SetAutoAckDisabled(true)
	opts.SetCleanSession(false)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		c.logger.Info().Str("broker", c.cfg.BrokerURL).Msg("Paho client connected to MQTT broker.")
		c.subscribeAll(client, handler)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Error().Err(err).Msg("Paho client lost MQTT connection.")
	})

	if strings.HasPrefix(strings.ToLower(c.cfg.BrokerURL), "tls://") || strings.HasPrefix(strings.ToLower(c.cfg.BrokerURL), "ssl://") {
		tlsConfig, err := newTLSConfig(c.cfg)
		if err != nil {
			c.logger.Error().Err(err).Msg("Failed to create TLS config, proceeding without it.")
		} else {
			opts.SetTLSConfig(tlsConfig)
			c.logger.Info().Msg("TLS configured for MQTT client.")
		}
	}
	return opts
}

// newTLSConfig is a helper to create a tls.Config.
func newTLSConfig(cfg *Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
