package market_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"market-stream/internal/market"
	"market-stream/internal/models"
	"market-stream/internal/testutils"
)

type collectSink struct {
	mu     sync.Mutex
	events []models.UpdateEvent
	cancel context.CancelFunc
	limit  int
}

func (c *collectSink) Publish(event models.UpdateEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	if len(c.events) == c.limit {
		c.cancel()
	}
}

func (c *collectSink) types() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range c.events {
		counts[e.Type]++
	}
	return counts
}

func TestRunner_DrivesFullSession(t *testing.T) {
	clock := &testutils.MockClock{Time: time.Now()}
	sim := market.NewSimulator(&testutils.MockRand{Values: []float64{0.6}}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	sink := &collectSink{cancel: cancel, limit: 30}

	schedule := market.Schedule{
		TickInterval:   time.Millisecond,
		VolumeInterval: 2 * time.Millisecond, // volume every 2nd tick
		SessionLength:  4 * time.Millisecond, // 4 ticks per session
		SessionBreak:   time.Millisecond,
	}
	runner := market.NewRunner(sim, clock, zap.NewNop(), schedule, sink)

	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Runner did not stop after cancellation")
	}

	counts := sink.types()
	if counts[models.UpdateMarketOpen] == 0 {
		t.Error("No market_open events published")
	}
	if counts[models.UpdateMarketClose] == 0 {
		t.Error("No market_close events published")
	}
	if counts[models.UpdatePrice] == 0 {
		t.Error("No price_update events published")
	}
	if counts[models.UpdateVolume] == 0 {
		t.Error("No volume_update events published")
	}
}

func TestRunner_SessionStartsWithOpeningBell(t *testing.T) {
	clock := &testutils.MockClock{Time: time.Now()}
	sim := market.NewSimulator(&testutils.MockRand{Values: []float64{0.5}}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	sink := &collectSink{cancel: cancel, limit: 5}

	runner := market.NewRunner(sim, clock, zap.NewNop(), market.Schedule{
		TickInterval:   time.Millisecond,
		VolumeInterval: 10 * time.Millisecond,
		SessionLength:  time.Hour,
		SessionBreak:   time.Millisecond,
	}, sink)

	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Runner did not stop after cancellation")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) == 0 || sink.events[0].Type != models.UpdateMarketOpen {
		t.Fatalf("First event should be market_open, got %+v", sink.events)
	}
}

// A session shorter than one tick still runs one tick and closes instead of
// spinning forever without a closing bell.
func TestRunner_ShortSessionStillCloses(t *testing.T) {
	clock := &testutils.MockClock{Time: time.Now()}
	sim := market.NewSimulator(&testutils.MockRand{Values: []float64{0.5}}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	sink := &collectSink{cancel: cancel, limit: 8}

	runner := market.NewRunner(sim, clock, zap.NewNop(), market.Schedule{
		TickInterval:   10 * time.Millisecond,
		VolumeInterval: 10 * time.Millisecond,
		SessionLength:  time.Millisecond, // shorter than one tick
		SessionBreak:   time.Millisecond,
	}, sink)

	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Runner did not stop after cancellation")
	}

	counts := sink.types()
	if counts[models.UpdateMarketClose] == 0 {
		t.Error("No market_close events published")
	}
	if counts[models.UpdateMarketOpen] < 2 {
		t.Error("Expected the next session to open after the short one closed")
	}
}
