package mock

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/jetstream"
)

// ClientMock is a mock implementation of the NATS client
type ClientMock struct {
	mock.Mock
}

var _ jetstream.ClientInterface = (*ClientMock)(nil)

// SetupStream mocks the SetupStream method
func (m *ClientMock) SetupStream(ctx context.Context, streamConfig *nats.StreamConfig) error {
	args := m.Called(ctx, streamConfig)
	return args.Error(0)
}

// QueueSubscribe mocks the QueueSubscribe method
func (m *ClientMock) QueueSubscribe(subject, group string, handler nats.MsgHandler) (*nats.Subscription, error) {
	args := m.Called(subject, group, handler)
	sub, _ := args.Get(0).(*nats.Subscription)
	return sub, args.Error(1)
}

// Publish mocks the Publish method
func (m *ClientMock) Publish(subject string, data []byte, headers map[string]string) error {
	args := m.Called(subject, data, headers)
	return args.Error(0)
}

// Drain mocks the Drain method
func (m *ClientMock) Drain() error {
	args := m.Called()
	return args.Error(0)
}

// NatsConn returns the mocked *nats.Conn, usually nil
func (m *ClientMock) NatsConn() *nats.Conn {
	args := m.Called()
	conn, _ := args.Get(0).(*nats.Conn)
	return conn
}

// Close mocks the Close method
func (m *ClientMock) Close() {
	m.Called()
}
