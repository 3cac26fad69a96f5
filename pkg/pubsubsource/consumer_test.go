package pubsubsource_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/riverwatch/go-ingest/pkg/pipeline"
	"github.com/riverwatch/go-ingest/pkg/pubsubsource"
)

// setupConsumerTest creates an in-process Pub/Sub environment with one topic
// and one subscription.
func setupConsumerTest(t *testing.T, projectID, topicID, subID string) (*pubsub.Client, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, projectID, option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, topicID)
	require.NoError(t, err)

	_, err = client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	return client, topic
}

func TestConsumer_ReceiveMessage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	client, topic := setupConsumerTest(t, "test-project", "telemetry", "telemetry-sub")

	consumer, err := pubsubsource.NewConsumer(pubsubsource.NewConfigDefaults("telemetry-sub"), client, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, consumer.Start(ctx))
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = consumer.Stop(stopCtx)
	})

	payload := []byte("temp=21.5,ph=7.1")
	res := topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{pipeline.TopicAttribute: "sensors/dummy1"},
	})
	_, err = res.Get(ctx)
	require.NoError(t, err)

	select {
	case msg := <-consumer.Messages():
		assert.Equal(t, payload, msg.Payload)
		assert.Equal(t, "sensors/dummy1", msg.Attributes[pipeline.TopicAttribute])
		assert.False(t, msg.ReceivedAt.IsZero())
		msg.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message from consumer")
	}
}

func TestConsumer_FallbackTopicAttribute(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	client, topic := setupConsumerTest(t, "test-project", "telemetry-fb", "telemetry-fb-sub")

	cfg := pubsubsource.NewConfigDefaults("telemetry-fb-sub")
	cfg.FallbackTopic = "sensors/unrouted"
	consumer, err := pubsubsource.NewConsumer(cfg, client, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, consumer.Start(ctx))
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = consumer.Stop(stopCtx)
	})

	res := topic.Publish(ctx, &pubsub.Message{Data: []byte("temp=20")})
	_, err = res.Get(ctx)
	require.NoError(t, err)

	select {
	case msg := <-consumer.Messages():
		assert.Equal(t, "sensors/unrouted", msg.Attributes[pipeline.TopicAttribute])
		msg.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message from consumer")
	}
}

func TestConsumer_MissingSubscription(t *testing.T) {
	client, _ := setupConsumerTest(t, "test-project", "telemetry-m", "telemetry-m-sub")

	_, err := pubsubsource.NewConsumer(pubsubsource.NewConfigDefaults("no-such-sub"), client, zerolog.Nop())
	require.Error(t, err)

	_, err = pubsubsource.NewConsumer(&pubsubsource.Config{}, client, zerolog.Nop())
	require.Error(t, err, "a subscription ID is required")
}

func TestConsumer_Stop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	client, _ := setupConsumerTest(t, "test-project", "telemetry-s", "telemetry-s-sub")

	consumer, err := pubsubsource.NewConsumer(pubsubsource.NewConfigDefaults("telemetry-s-sub"), client, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, consumer.Start(ctx))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, consumer.Stop(stopCtx))

	select {
	case <-consumer.Done():
		// Success
	case <-time.After(1 * time.Second):
		t.Fatal("consumer.Done() channel was not closed after stop")
	}

	_, ok := <-consumer.Messages()
	assert.False(t, ok, "consumer.Messages() channel should be closed")
}
