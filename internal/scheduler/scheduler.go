// Package scheduler runs the service's periodic background tasks:
// counter snapshot publication and history pruning.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/outpost-project/rendezvous/internal/config"
	"github.com/outpost-project/rendezvous/internal/db"
	"github.com/outpost-project/rendezvous/internal/events"
	"github.com/outpost-project/rendezvous/internal/lobby"
)

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     *config.Config
	bus     *events.Bus
	lobby   *lobby.Lobby
	history *db.History

	// last published counters; a tick with no change is suppressed,
	// matching the console counter printer.
	lastCounters *lobby.CountersSnapshot
}

// NewScheduler creates a new task scheduler. history may be nil when the
// history log is disabled.
func NewScheduler(cfg *config.Config, bus *events.Bus, lb *lobby.Lobby, history *db.History) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		bus:     bus,
		lobby:   lb,
		history: history,
	}
}

// Start runs all scheduled tasks until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	timers := s.cfg.GetApplicationData().Timers

	go s.runCountersTickLoop(ctx, intervalOrDefault(timers.CountersTickInterval, 60))

	if s.history != nil {
		go s.runHistoryPruneLoop(ctx, intervalOrDefault(timers.HistoryPruneInterval, 3600))
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func intervalOrDefault(seconds, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}

// runCountersTickLoop periodically snapshots the lobby and publishes the
// counters on the bus when they changed since the previous tick.
func (s *Scheduler) runCountersTickLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := s.lobby.Snapshot(ctx)
			if err != nil {
				continue
			}
			if s.lastCounters != nil && *s.lastCounters == snap.Counters {
				continue
			}
			counters := snap.Counters
			s.lastCounters = &counters

			s.bus.Emit(ctx, events.Event{
				Type:   events.EventCountersTick,
				Source: "scheduler",
				Payload: events.CountersPayload{
					Counters: snap.Counters.Map(),
					Games:    len(snap.Games),
				},
			})

			log.Debug().
				Uint64("packets_received", counters.PacketsReceived).
				Uint64("packets_sent", counters.PacketsSent).
				Int("games", len(snap.Games)).
				Msg("counters tick")
		}
	}
}

// runHistoryPruneLoop removes history rows past the retention window.
func (s *Scheduler) runHistoryPruneLoop(ctx context.Context, interval time.Duration) {
	retention := s.cfg.GetApplicationData().History.RetentionDays

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.history.Prune(retention)
			if err != nil {
				log.Warn().Err(err).Msg("history prune failed")
				continue
			}
			if removed > 0 {
				log.Info().Int64("removed", removed).Msg("pruned history entries")
			}
		}
	}
}
