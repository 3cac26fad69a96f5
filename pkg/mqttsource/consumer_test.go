package mqttsource_test

import (
	"context"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverwatch/go-ingest/pkg/mqttsource"
	"github.com/riverwatch/go-ingest/pkg/pipeline"
)

// --- Mocks for Paho MQTT Client ---
type mockToken struct{ err error }

func (m *mockToken) Wait() bool                       { return true }
func (m *mockToken) WaitTimeout(_ time.Duration) bool { return true }
func (m *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (m *mockToken) Error() error { return m.err }

type mockMqttMessage struct {
	topic     string
	payload   []byte
	messageID uint16
	acked     bool
}

func (m *mockMqttMessage) Topic() string     { return m.topic }
func (m *mockMqttMessage) Payload() []byte   { return m.payload }
func (m *mockMqttMessage) MessageID() uint16 { return m.messageID }
func (m *mockMqttMessage) Duplicate() bool   { return false }
func (m *mockMqttMessage) Qos() byte         { return 1 }
func (m *mockMqttMessage) Retained() bool    { return false }
func (m *mockMqttMessage) Ack()              { m.acked = true }

type mockMqttClient struct {
	isConnected      bool
	disconnectCalled bool
	subscribed       map[string]mqtt.MessageHandler
	unsubscribed     []string
}

func newMockMqttClient() *mockMqttClient {
	return &mockMqttClient{subscribed: make(map[string]mqtt.MessageHandler)}
}

func (m *mockMqttClient) IsConnected() bool      { return m.isConnected }
func (m *mockMqttClient) IsConnectionOpen() bool { return m.isConnected }
func (m *mockMqttClient) Connect() mqtt.Token {
	m.isConnected = true
	return &mockToken{}
}
func (m *mockMqttClient) Disconnect(_ uint) {
	m.isConnected = false
	m.disconnectCalled = true
}
func (m *mockMqttClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	m.subscribed[topic] = callback
	return &mockToken{}
}
func (m *mockMqttClient) Unsubscribe(topics ...string) mqtt.Token {
	m.unsubscribed = append(m.unsubscribed, topics...)
	return &mockToken{}
}

// Stubs for unused methods to satisfy the interface.
func (m *mockMqttClient) Publish(_ string, _ byte, _ bool, _ interface{}) mqtt.Token {
	return &mockToken{}
}
func (m *mockMqttClient) SubscribeMultiple(_ map[string]byte, _ mqtt.MessageHandler) mqtt.Token {
	return &mockToken{}
}
func (m *mockMqttClient) AddRoute(_ string, _ mqtt.MessageHandler) {}
func (m *mockMqttClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

// --- Test Cases ---

func testConfig() *mqttsource.Config {
	return &mqttsource.Config{
		BrokerURL:      "tcp://localhost:1883",
		Topics:         []string{"sensors/#", "gauges/+"},
		ConnectTimeout: 2 * time.Second,
	}
}

func TestConsumer_ValidatesConfig(t *testing.T) {
	_, err := mqttsource.NewConsumer(newMockMqttClient(), &mqttsource.Config{Topics: []string{"a"}}, zerolog.Nop())
	require.Error(t, err, "a broker URL is required")

	_, err = mqttsource.NewConsumer(newMockMqttClient(), &mqttsource.Config{BrokerURL: "tcp://localhost:1883"}, zerolog.Nop())
	require.Error(t, err, "at least one topic filter is required")
}

func TestConsumer_StartAndReceive(t *testing.T) {
	cfg := testConfig()
	mockClient := newMockMqttClient()
	consumer, err := mqttsource.NewConsumer(mockClient, cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, consumer.Start(ctx))

	require.Len(t, mockClient.subscribed, 2, "Start should subscribe every configured filter")
	handler := mockClient.subscribed["sensors/#"]
	require.NotNil(t, handler)

	expectedPayload := []byte("temp=21.5,ph=7.1")
	handler(mockClient, &mockMqttMessage{
		topic:     "sensors/dummy1",
		payload:   expectedPayload,
		messageID: 123,
	})

	select {
	case receivedMsg := <-consumer.Messages():
		assert.Equal(t, expectedPayload, receivedMsg.Payload)
		assert.Equal(t, "123", receivedMsg.ID)
		assert.Equal(t, "sensors/dummy1", receivedMsg.Attributes[pipeline.TopicAttribute])
		assert.False(t, receivedMsg.ReceivedAt.IsZero())
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for message from consumer")
	}
}

func TestConsumer_AckReleasesBrokerAcknowledgment(t *testing.T) {
	mockClient := newMockMqttClient()
	consumer, err := mqttsource.NewConsumer(mockClient, testConfig(), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, consumer.Start(ctx))

	brokerMsg := &mockMqttMessage{topic: "sensors/dummy1", payload: []byte("temp=20"), messageID: 7}
	mockClient.subscribed["sensors/#"](mockClient, brokerMsg)

	receivedMsg := <-consumer.Messages()
	assert.False(t, brokerMsg.acked, "the broker ack must wait for the pipeline")

	receivedMsg.Ack()
	assert.True(t, brokerMsg.acked, "Ack should release the broker-level acknowledgment")

	// Nack leaves the broker ack withheld so the broker redelivers.
	other := &mockMqttMessage{topic: "sensors/dummy2", payload: []byte("temp=20"), messageID: 8}
	mockClient.subscribed["sensors/#"](mockClient, other)
	nackedMsg := <-consumer.Messages()
	nackedMsg.Nack()
	assert.False(t, other.acked)
}

func TestConsumer_PayloadIsCopied(t *testing.T) {
	mockClient := newMockMqttClient()
	consumer, err := mqttsource.NewConsumer(mockClient, testConfig(), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, consumer.Start(ctx))

	raw := []byte("temp=21.5")
	mockClient.subscribed["sensors/#"](mockClient, &mockMqttMessage{topic: "sensors/dummy1", payload: raw, messageID: 1})
	raw[0] = 'X'

	receivedMsg := <-consumer.Messages()
	assert.Equal(t, []byte("temp=21.5"), receivedMsg.Payload, "the consumer must not alias the client's buffer")
}

func TestConsumer_Stop(t *testing.T) {
	cfg := testConfig()
	mockClient := newMockMqttClient()
	consumer, err := mqttsource.NewConsumer(mockClient, cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, consumer.Start(ctx))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(stopCancel)
	require.NoError(t, consumer.Stop(stopCtx))

	assert.True(t, mockClient.disconnectCalled, "Disconnect should have been called on the client")
	assert.ElementsMatch(t, cfg.Topics, mockClient.unsubscribed)
	select {
	case <-consumer.Done():
		// Success, channel is closed.
	default:
		t.Fatal("Done() channel should be closed after Stop()")
	}

	// Stop is idempotent.
	require.NoError(t, consumer.Stop(stopCtx))
}
