package market

import (
	"context"
	"time"

	"go.uber.org/zap"

	"market-stream/internal/models"
)

// Publisher receives every update event the runner produces. The broadcast
// hub is always one; the kafka exporter is another when enabled.
type Publisher interface {
	Publish(event models.UpdateEvent)
}

// Schedule holds the cadences the runner drives the simulator on.
type Schedule struct {
	TickInterval   time.Duration
	VolumeInterval time.Duration
	SessionLength  time.Duration
	SessionBreak   time.Duration
}

// Runner drives the simulator through trading sessions: opening bell, price
// ticks with periodic volume updates, closing bell, pause, repeat.
type Runner struct {
	sim      *Simulator
	clock    Clock
	logger   *zap.Logger
	schedule Schedule
	sinks    []Publisher
}

func NewRunner(sim *Simulator, clock Clock, logger *zap.Logger, schedule Schedule, sinks ...Publisher) *Runner {
	return &Runner{
		sim:      sim,
		clock:    clock,
		logger:   logger,
		schedule: schedule,
		sinks:    sinks,
	}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticksPerVolume := int(r.schedule.VolumeInterval / r.schedule.TickInterval)
	if ticksPerVolume < 1 {
		ticksPerVolume = 1
	}
	// A session always spans at least one tick, so the closing bell is
	// reachable even when SessionLength < TickInterval.
	ticksPerSession := int(r.schedule.SessionLength / r.schedule.TickInterval)
	if ticksPerSession < 1 {
		ticksPerSession = 1
	}

	r.logger.Info("Market runner started",
		zap.Duration("tick_interval", r.schedule.TickInterval),
		zap.Int("symbols", len(r.sim.Symbols())))

	for {
		if ctx.Err() != nil {
			return
		}

		r.publish(r.sim.OpeningBell())
		r.logger.Info("Market opened")

		for tick := 1; ; tick++ {
			select {
			case <-ctx.Done():
				return
			case <-r.clock.After(r.schedule.TickInterval):
			}

			r.publish(r.sim.Tick())
			if tick%ticksPerVolume == 0 {
				r.publish(r.sim.VolumeTick())
			}
			if tick >= ticksPerSession {
				break
			}
		}

		r.publish(r.sim.ClosingBell())
		r.logger.Info("Market closed")

		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(r.schedule.SessionBreak):
		}
	}
}

func (r *Runner) publish(event models.UpdateEvent) {
	for _, sink := range r.sinks {
		sink.Publish(event)
	}
}
