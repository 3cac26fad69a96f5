package pipeline_test

import (
	"context"
	"sync"

	"github.com/riverwatch/go-ingest/pkg/pipeline"
)

// mockConsumer is a channel-backed MessageConsumer for unit tests.
type mockConsumer struct {
	msgChan  chan pipeline.Message
	doneChan chan struct{}
	stopOnce sync.Once
}

func newMockConsumer(bufferSize int) *mockConsumer {
	return &mockConsumer{
		msgChan:  make(chan pipeline.Message, bufferSize),
		doneChan: make(chan struct{}),
	}
}

func (m *mockConsumer) Messages() <-chan pipeline.Message { return m.msgChan }

func (m *mockConsumer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = m.Stop(context.Background())
	}()
	return nil
}

func (m *mockConsumer) Stop(_ context.Context) error {
	m.stopOnce.Do(func() {
		close(m.msgChan)
		close(m.doneChan)
	})
	return nil
}

func (m *mockConsumer) Done() <-chan struct{} { return m.doneChan }

func (m *mockConsumer) Push(msg pipeline.Message) { m.msgChan <- msg }

// ackState tracks Ack/Nack calls for one message.
type ackState struct {
	mu     sync.Mutex
	acks   int
	nacks  int
}

func (a *ackState) Ack()  { a.mu.Lock(); a.acks++; a.mu.Unlock() }
func (a *ackState) Nack() { a.mu.Lock(); a.nacks++; a.mu.Unlock() }

func (a *ackState) AckCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks
}

func (a *ackState) NackCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nacks
}
