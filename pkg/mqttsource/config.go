// Package mqttsource consumes telemetry from an MQTT broker and feeds it into
// the pipeline. Subscriptions are QoS 1 with manual acknowledgment: the PUBACK
// for a message is withheld until the pipeline reports a durable write, so an
// unprocessed message is redelivered by the broker.
package mqttsource

import (
	"fmt"
	"time"
)

// Config holds all necessary configuration for the Paho MQTT client.
type Config struct {
	// BrokerURL is the full URL of the MQTT broker to connect to.
	// Example: "tls://mqtt.example.com:8883"
	BrokerURL string `yaml:"broker_url"`
	// Topics are the topic filters to subscribe to, e.g. "sensors/#".
	Topics []string `yaml:"topics"`
	// ClientIDPrefix is a prefix for the MQTT client ID. A unique suffix is
	// automatically added because most brokers require unique client IDs.
	ClientIDPrefix string `yaml:"client_id_prefix"`
	// Username for authenticating with the MQTT broker.
	Username string `yaml:"username"`
	// Password for authenticating with the MQTT broker.
	Password string `yaml:"password"`
	// KeepAlive is the interval at which the client pings the broker.
	KeepAlive time.Duration `yaml:"keep_alive"`
	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// ReconnectWaitMax caps the backoff between reconnection attempts.
	ReconnectWaitMax time.Duration `yaml:"reconnect_wait_max"`
	// CACertFile is an optional path to a CA certificate for verifying the
	// broker's certificate.
	CACertFile string `yaml:"ca_cert_file"`
	// ClientCertFile is an optional path to a client certificate for mTLS.
	ClientCertFile string `yaml:"client_cert_file"`
	// ClientKeyFile is an optional path to a client key for mTLS.
	ClientKeyFile string `yaml:"client_key_file"`
	// InsecureSkipVerify skips TLS certificate verification.
	// This is NOT recommended for production environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
	// BufferSize is the capacity of the consumer's output channel. When the
	// pipeline lags, the broker-facing handler blocks once the buffer fills,
	// which is the intended backpressure.
	BufferSize int `yaml:"buffer_size"`
}

func (c *Config) applyDefaults() {
	if c.ClientIDPrefix == "" {
		c.ClientIDPrefix = "go-ingest-"
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 60 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ReconnectWaitMax <= 0 {
		c.ReconnectWaitMax = 120 * time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
}

// Validate checks the config is usable.
func (c *Config) Validate() error {
	if c.BrokerURL == "" {
		return fmt.Errorf("MQTT broker URL is required")
	}
	if len(c.Topics) == 0 {
		return fmt.Errorf("at least one MQTT topic filter is required")
	}
	return nil
}
