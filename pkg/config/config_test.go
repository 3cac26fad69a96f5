package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverwatch/go-ingest/pkg/config"
)

const validYAML = `
service_name: river-ingest
log_level: debug
http_port: ":9090"
stop_timeout: 10s

source:
  kind: mqtt
  mqtt:
    broker_url: tcp://localhost:1883
    topics:
      - sensors/#
    client_id_prefix: river-

influx:
  url: http://localhost:8086
  token: dev-token
  org: riverwatch
  bucket: telemetry

retry:
  max_attempts: 5
  initial_backoff: 250ms

batch:
  num_workers: 4
  batch_size: 200
  max_batch_wait: 2s

rules:
  - name: river-sensors
    topic_pattern: sensors/+
    format: delimited
    measurement: water_quality
    tags:
      station: "{source}"

registry:
  static:
    dummy1:
      station: north-weir
      location: upstream
      tags:
        basin: upper

archive:
  enabled: true
  bucket: river-archive
  object_prefix: raw
`

func TestParse_Valid(t *testing.T) {
	cfg, err := config.Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "river-ingest", cfg.ServiceName)
	assert.Equal(t, ":9090", cfg.HTTPPort)
	assert.Equal(t, 10*time.Second, cfg.StopTimeout)
	assert.Equal(t, config.SourceMQTT, cfg.Source.Kind)
	assert.Equal(t, []string{"sensors/#"}, cfg.Source.MQTT.Topics)
	assert.Equal(t, "telemetry", cfg.Influx.Bucket)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialBackoff)
	assert.Equal(t, 200, cfg.Batch.BatchSize)
	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, "water_quality", cfg.Rules[0].Measurement)
	assert.True(t, cfg.Archive.Enabled)

	sources := cfg.StaticSources()
	require.Contains(t, sources, "dummy1")
	assert.Equal(t, "dummy1", sources["dummy1"].SourceID, "the map key backfills the source id")
	assert.Equal(t, "north-weir", sources["dummy1"].Station)
	assert.Equal(t, map[string]string{"basin": "upper"}, sources["dummy1"].Tags)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse([]byte(`
source:
  mqtt:
    broker_url: tcp://localhost:1883
    topics: [sensors/#]
influx:
  url: http://localhost:8086
  org: riverwatch
  bucket: telemetry
rules:
  - name: r
    topic_pattern: "#"
    format: json
    measurement: m
`))
	require.NoError(t, err)

	assert.Equal(t, "go-ingest", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.StopTimeout)
	assert.Equal(t, config.SourceMQTT, cfg.Source.Kind, "mqtt is the default source")
}

func TestParse_EnvOverridesCredentials(t *testing.T) {
	t.Setenv("INFLUXDB_TOKEN", "secret-from-env")
	t.Setenv("MQTT_PASSWORD", "mqtt-secret")

	cfg, err := config.Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "secret-from-env", cfg.Influx.Token)
	assert.Equal(t, "mqtt-secret", cfg.Source.MQTT.Password)
}

func TestParse_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown source kind",
			yaml: `
source: {kind: kafka}
influx: {url: u, org: o, bucket: b}
rules: [{name: r, topic_pattern: "#", format: json, measurement: m}]
`,
		},
		{
			name: "missing broker",
			yaml: `
source: {kind: mqtt}
influx: {url: u, org: o, bucket: b}
rules: [{name: r, topic_pattern: "#", format: json, measurement: m}]
`,
		},
		{
			name: "missing influx org",
			yaml: `
source: {kind: mqtt, mqtt: {broker_url: tcp://h, topics: [a]}}
influx: {url: u, bucket: b}
rules: [{name: r, topic_pattern: "#", format: json, measurement: m}]
`,
		},
		{
			name: "no rules",
			yaml: `
source: {kind: mqtt, mqtt: {broker_url: tcp://h, topics: [a]}}
influx: {url: u, org: o, bucket: b}
`,
		},
		{
			name: "bad rule format",
			yaml: `
source: {kind: mqtt, mqtt: {broker_url: tcp://h, topics: [a]}}
influx: {url: u, org: o, bucket: b}
rules: [{name: r, topic_pattern: "#", format: xml, measurement: m}]
`,
		},
		{
			name: "archive without bucket",
			yaml: `
source: {kind: mqtt, mqtt: {broker_url: tcp://h, topics: [a]}}
influx: {url: u, org: o, bucket: b}
rules: [{name: r, topic_pattern: "#", format: json, measurement: m}]
archive: {enabled: true}
`,
		},
		{
			name: "archive shares the ingest subscription",
			yaml: `
source: {kind: pubsub, pubsub: {project_id: p, subscription_id: s}}
influx: {url: u, org: o, bucket: b}
rules: [{name: r, topic_pattern: "#", format: json, measurement: m}]
archive: {enabled: true, bucket: arc, subscription_id: s}
`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tc.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load("/no/such/config.yaml")
	require.Error(t, err)
}
