package testutils

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"market-stream/internal/models"
)

// MockClock returns a fixed time and fires timers immediately.
type MockClock struct {
	Time time.Time
}

func (m *MockClock) Now() time.Time { return m.Time }

func (m *MockClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- m.Time
	return ch
}

// MockRand cycles through a fixed sequence of values.
type MockRand struct {
	Values []float64
	pos    int
}

func (m *MockRand) Float64() float64 {
	if len(m.Values) == 0 {
		return 0.5
	}
	v := m.Values[m.pos%len(m.Values)]
	m.pos++
	return v
}

func (m *MockRand) Intn(n int) int { return 0 }

// MockKafkaWriter records every message instead of producing it.
type MockKafkaWriter struct {
	Mu       sync.Mutex
	Messages []kafka.Message
	Err      error
	Closed   bool
}

func (m *MockKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}

// MockPeer simulates a connected chat peer and records queued frames.
type MockPeer struct {
	IDVal       int64
	IdentityVal models.Identity

	Mu     sync.Mutex
	Frames [][]byte
	Closed bool
}

func NewMockPeer(id int64, email, name string) *MockPeer {
	return &MockPeer{IDVal: id, IdentityVal: models.Identity{Email: email, Name: name}}
}

func (m *MockPeer) ID() int64                 { return m.IDVal }
func (m *MockPeer) Identity() models.Identity { return m.IdentityVal }

func (m *MockPeer) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Frames = append(m.Frames, b)
}

func (m *MockPeer) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

type decodedFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// FramesByEvent decodes the recorded frames and returns the raw data of
// those matching the event name, in order.
func (m *MockPeer) FramesByEvent(event string) []json.RawMessage {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	var out []json.RawMessage
	for _, raw := range m.Frames {
		var frame decodedFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		if frame.Event == event {
			out = append(out, frame.Data)
		}
	}
	return out
}

func (m *MockPeer) FrameCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Frames)
}
