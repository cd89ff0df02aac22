package mqtt

import (
	"context"
	"sync"

	"github.com/kilianp07/curtaild/core/dispatch"
	"github.com/kilianp07/curtaild/infra/logger"
)

// MockSink records dispatch requests instead of sending them. It backs the
// "mock" dispatch mode and is handy in tests.
type MockSink struct {
	mu   sync.Mutex
	sent []dispatch.Request
	log  logger.Logger

	// Err, when set, is returned by every Send call.
	Err error
}

// NewMockSink returns an empty recording sink.
func NewMockSink() *MockSink {
	return &MockSink{log: logger.New("mock-sink")}
}

// Send records the request.
func (m *MockSink) Send(_ context.Context, req dispatch.Request) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	m.sent = append(m.sent, req)
	m.mu.Unlock()
	m.log.Infof("mock dispatch: microgrid %d reduction %.0f W", req.MicrogridID, req.Payload[dispatch.PayloadPowerReduction])
	return nil
}

// Sent returns a copy of the recorded requests.
func (m *MockSink) Sent() []dispatch.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]dispatch.Request, len(m.sent))
	copy(out, m.sent)
	return out
}

// Reset clears the recorded requests.
func (m *MockSink) Reset() {
	m.mu.Lock()
	m.sent = nil
	m.mu.Unlock()
}
