// Package config loads and validates the ingester's configuration. The file
// is YAML; credentials may be supplied or overridden through the environment
// so they never need to live on disk. Validation is fail-fast: a config that
// cannot run rejects at startup, not on the first message.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/riverwatch/go-ingest/pkg/influxstore"
	"github.com/riverwatch/go-ingest/pkg/mapping"
	"github.com/riverwatch/go-ingest/pkg/mqttsource"
	"github.com/riverwatch/go-ingest/pkg/pubsubsource"
	"github.com/riverwatch/go-ingest/pkg/registry"
)

// Source kinds.
const (
	SourceMQTT   = "mqtt"
	SourcePubSub = "pubsub"
)

// SourceConfig selects and configures the message source.
type SourceConfig struct {
	Kind   string              `yaml:"kind"`
	MQTT   mqttsource.Config   `yaml:"mqtt"`
	PubSub pubsubsource.Config `yaml:"pubsub"`
}

// BatchConfig tunes the pipeline coordinator.
type BatchConfig struct {
	NumWorkers   int           `yaml:"num_workers"`
	BatchSize    int           `yaml:"batch_size"`
	MaxBatchWait time.Duration `yaml:"max_batch_wait"`
}

// RegistryEntry is one statically configured source.
type RegistryEntry struct {
	Station  string            `yaml:"station"`
	Location string            `yaml:"location"`
	Tags     map[string]string `yaml:"tags"`
}

// RegistryConfig configures source metadata lookup. Static entries always
// apply; a Firestore collection can serve as the backing store, optionally
// cached through Redis.
type RegistryConfig struct {
	Static    map[string]RegistryEntry  `yaml:"static"`
	Firestore *registry.FirestoreConfig `yaml:"firestore"`
	Redis     *registry.RedisConfig     `yaml:"redis"`
}

// ArchiveConfig configures the raw payload cold path.
type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Bucket       string `yaml:"bucket"`
	ObjectPrefix string `yaml:"object_prefix"`
	// SubscriptionID is the archive's own subscription when the source is
	// Pub/Sub. It must differ from the ingest subscription, otherwise the
	// two pipelines would split the message stream between them.
	SubscriptionID string `yaml:"subscription_id"`
}

// Config is the root configuration of the ingester.
type Config struct {
	ServiceName string                   `yaml:"service_name"`
	LogLevel    string                   `yaml:"log_level"`
	HTTPPort    string                   `yaml:"http_port"`
	StopTimeout time.Duration            `yaml:"stop_timeout"`
	Source      SourceConfig             `yaml:"source"`
	Influx      influxstore.InfluxConfig `yaml:"influx"`
	Retry       influxstore.RetryConfig  `yaml:"retry"`
	Batch       BatchConfig              `yaml:"batch"`
	Rules       []mapping.Rule           `yaml:"rules"`
	Registry    RegistryConfig           `yaml:"registry"`
	Archive     ArchiveConfig            `yaml:"archive"`
}

// Load reads, overrides, defaults, and validates the config at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets credentials come from the environment instead of
// the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("INFLUXDB_URL"); v != "" {
		c.Influx.URL = v
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
		c.Influx.Token = v
	}
	if v := os.Getenv("INFLUXDB_ORG"); v != "" {
		c.Influx.Org = v
	}
	if v := os.Getenv("INFLUXDB_BUCKET"); v != "" {
		c.Influx.Bucket = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		c.Source.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		c.Source.MQTT.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" && c.Registry.Redis != nil {
		c.Registry.Redis.Password = v
	}
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "go-ingest"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HTTPPort == "" {
		c.HTTPPort = ":8080"
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 30 * time.Second
	}
	if c.Source.Kind == "" {
		c.Source.Kind = SourceMQTT
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case SourceMQTT:
		if err := c.Source.MQTT.Validate(); err != nil {
			return fmt.Errorf("mqtt source: %w", err)
		}
	case SourcePubSub:
		if c.Source.PubSub.ProjectID == "" || c.Source.PubSub.SubscriptionID == "" {
			return fmt.Errorf("pubsub source: project_id and subscription_id are required")
		}
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}

	if err := c.Influx.Validate(); err != nil {
		return fmt.Errorf("influx sink: %w", err)
	}

	if _, err := mapping.NewRuleSet(c.Rules); err != nil {
		return fmt.Errorf("mapping rules: %w", err)
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive: bucket is required when the archive is enabled")
		}
		if c.Source.Kind == SourcePubSub {
			if c.Archive.SubscriptionID == "" {
				return fmt.Errorf("archive: subscription_id is required with a pubsub source")
			}
			if c.Archive.SubscriptionID == c.Source.PubSub.SubscriptionID {
				return fmt.Errorf("archive: subscription_id must differ from the ingest subscription")
			}
		}
	}

	if c.Registry.Redis != nil && c.Registry.Redis.Addr == "" {
		return fmt.Errorf("registry: redis addr is required when redis is configured")
	}
	if c.Registry.Firestore != nil {
		if c.Registry.Firestore.ProjectID == "" || c.Registry.Firestore.Collection == "" {
			return fmt.Errorf("registry: firestore project_id and collection are required")
		}
	}

	return nil
}

// StaticSources converts the configured static entries into registry records
// keyed by source id.
func (c *Config) StaticSources() map[string]registry.SourceInfo {
	if len(c.Registry.Static) == 0 {
		return nil
	}
	sources := make(map[string]registry.SourceInfo, len(c.Registry.Static))
	for id, entry := range c.Registry.Static {
		sources[id] = registry.SourceInfo{
			SourceID: id,
			Station:  entry.Station,
			Location: entry.Location,
			Tags:     entry.Tags,
		}
	}
	return sources
}
