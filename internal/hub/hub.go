// Package hub owns the registry of push-channel subscribers and fans
// update events out to them with per-subscriber filtering.
package hub

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"market-stream/internal/models"
)

// ErrDuplicateClient is returned when a client id is already registered and
// active. The same id may reconnect only after its disconnect is observed.
var ErrDuplicateClient = errors.New("client id already registered")

// Subscriber is one registered push-channel connection plus its symbol
// filter. It is owned by the Hub; consumers only read the frame channel.
type Subscriber struct {
	id           string
	connectedAt  time.Time
	lastActivity time.Time
	symbols      map[string]struct{}
	active       bool
	frames       chan models.UpdateEvent
}

func (s *Subscriber) ID() string { return s.id }

// Frames is the subscriber's delivery queue. It is closed on unregister,
// which is how the stream handler learns the connection is done.
func (s *Subscriber) Frames() <-chan models.UpdateEvent { return s.frames }

// Hub is the single owner of the subscriber table. Registration, filter
// mutation and delivery all go through it; delivery never blocks on a slow
// consumer (frames are dropped for that subscriber instead).
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	logger    *zap.Logger
	queueSize int
	startTime time.Time

	totalConnections atomic.Int64
	messagesSent     atomic.Int64
	latencyNanos     atomic.Int64
}

func NewHub(queueSize int, logger *zap.Logger) *Hub {
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		logger:      logger,
		queueSize:   queueSize,
		startTime:   time.Now(),
	}
}

// Register creates subscriber state for id with an empty filter set.
func (h *Hub) Register(id string) (*Subscriber, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.subscribers[id]; ok && existing.active {
		return nil, ErrDuplicateClient
	}

	now := time.Now()
	sub := &Subscriber{
		id:           id,
		connectedAt:  now,
		lastActivity: now,
		symbols:      make(map[string]struct{}),
		active:       true,
		frames:       make(chan models.UpdateEvent, h.queueSize),
	}
	h.subscribers[id] = sub
	h.totalConnections.Add(1)

	h.logger.Info("Client connected", zap.String("client_id", id), zap.Int("active", len(h.subscribers)))
	return sub, nil
}

// Unregister removes the subscriber and closes its frame channel. Safe to
// call multiple times; later calls are no-ops.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		sub.active = false
		delete(h.subscribers, id)
	}
	active := len(h.subscribers)
	h.mu.Unlock()

	if ok {
		close(sub.frames)
		h.logger.Info("Client disconnected", zap.String("client_id", id), zap.Int("active", active))
	}
}

// Subscribe adds symbols to the client's filter set. Adding an already
// present symbol is a no-op. Returns false for unknown or inactive ids.
func (h *Hub) Subscribe(id string, symbols []string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[id]
	if !ok || !sub.active {
		return false
	}
	for _, symbol := range symbols {
		sub.symbols[symbol] = struct{}{}
	}
	sub.lastActivity = time.Now()
	return true
}

// Unsubscribe removes symbols from the client's filter set. Removing an
// absent symbol is a no-op. Returns false for unknown or inactive ids.
func (h *Hub) Unsubscribe(id string, symbols []string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[id]
	if !ok || !sub.active {
		return false
	}
	for _, symbol := range symbols {
		delete(sub.symbols, symbol)
	}
	sub.lastActivity = time.Now()
	return true
}

// Heartbeat refreshes the client's activity timestamp.
func (h *Hub) Heartbeat(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[id]
	if !ok || !sub.active {
		return false
	}
	sub.lastActivity = time.Now()
	return true
}

// Publish delivers the event to every subscriber after filtering. The send
// is non-blocking: a subscriber whose queue is full loses this frame, and
// only this subscriber does.
func (h *Hub) Publish(event models.UpdateEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		select {
		case sub.frames <- filterFor(sub, event):
			h.messagesSent.Add(1)
			h.latencyNanos.Add(int64(time.Since(event.Timestamp)))
		default:
			h.logger.Warn("Dropping frame for slow subscriber", zap.String("client_id", sub.id))
		}
	}
}

// filterFor narrows the event payload to the subscriber's symbol set. An
// empty set means everything; market open/close events always carry the
// full set. An empty narrowed payload is still delivered so the client's
// read loop sees regular traffic.
func filterFor(sub *Subscriber, event models.UpdateEvent) models.UpdateEvent {
	if len(sub.symbols) == 0 {
		return event
	}
	if event.Type == models.UpdateMarketOpen || event.Type == models.UpdateMarketClose {
		return event
	}

	data := make([]models.Quote, 0, len(sub.symbols))
	for _, quote := range event.Data {
		if _, ok := sub.symbols[quote.Symbol]; ok {
			data = append(data, quote)
		}
	}
	event.Data = data
	return event
}

// Stats reports aggregate counters. Uptime and averageLatency are in
// milliseconds.
func (h *Hub) Stats() models.Stats {
	h.mu.RLock()
	active := len(h.subscribers)
	h.mu.RUnlock()

	sent := h.messagesSent.Load()
	var avgLatency float64
	if sent > 0 {
		avgLatency = float64(h.latencyNanos.Load()) / float64(sent) / float64(time.Millisecond)
	}

	return models.Stats{
		TotalConnections:  h.totalConnections.Load(),
		ActiveConnections: active,
		TotalMessagesSent: sent,
		AverageLatency:    avgLatency,
		Uptime:            time.Since(h.startTime).Milliseconds(),
	}
}

// Clients lists the registered subscribers, sorted by id.
func (h *Hub) Clients() []models.ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]models.ClientInfo, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs := make([]string, 0, len(sub.symbols))
		for symbol := range sub.symbols {
			subs = append(subs, symbol)
		}
		sort.Strings(subs)
		out = append(out, models.ClientInfo{
			ID:            sub.id,
			ConnectedAt:   sub.connectedAt,
			LastActivity:  sub.lastActivity,
			Subscriptions: subs,
			IsActive:      sub.active,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
