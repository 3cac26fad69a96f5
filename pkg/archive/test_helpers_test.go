package archive_test

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/riverwatch/go-ingest/pkg/archive"
	"github.com/riverwatch/go-ingest/pkg/pipeline"
)

// --- In-memory storage client ---

type mockObjectWriter struct {
	buf     bytes.Buffer
	closed  bool
	failure error
}

func (m *mockObjectWriter) Write(p []byte) (int, error) {
	if m.failure != nil {
		return 0, m.failure
	}
	if m.closed {
		return 0, errors.New("write on closed writer")
	}
	return m.buf.Write(p)
}

func (m *mockObjectWriter) Close() error {
	if m.closed {
		return errors.New("already closed")
	}
	m.closed = true
	return nil
}

type mockObjectHandle struct {
	writer *mockObjectWriter
}

func (m *mockObjectHandle) NewWriter(_ context.Context) archive.ObjectWriter {
	return m.writer
}

type mockBucketHandle struct {
	mu          sync.Mutex
	objects     map[string]*mockObjectHandle
	writeFailed error
}

func (m *mockBucketHandle) Object(name string) archive.ObjectHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]*mockObjectHandle)
	}
	if _, ok := m.objects[name]; !ok {
		m.objects[name] = &mockObjectHandle{writer: &mockObjectWriter{failure: m.writeFailed}}
	}
	return m.objects[name]
}

func (m *mockBucketHandle) ObjectNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		names = append(names, name)
	}
	return names
}

type mockStorageClient struct {
	bucket *mockBucketHandle
}

func newMockStorageClient() *mockStorageClient {
	return &mockStorageClient{bucket: &mockBucketHandle{}}
}

func (m *mockStorageClient) Bucket(_ string) archive.BucketHandle {
	return m.bucket
}

// --- Source-side mocks ---

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

type ackState struct {
	mu    sync.Mutex
	acks  int
	nacks int
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
