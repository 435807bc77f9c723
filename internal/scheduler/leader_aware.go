package scheduler

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/catchup/internal/events"
)

// Elector reports leadership of this instance.
type Elector interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
}

// LeaderAwareScheduler activates the hook only while this instance is the leader
type LeaderAwareScheduler struct {
	service  *Service
	election Elector
	bus      *events.Bus
	logger   zerolog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLeaderAware creates a leader-aware scheduler wrapper
func NewLeaderAware(service *Service, election Elector, logger zerolog.Logger) *LeaderAwareScheduler {
	return &LeaderAwareScheduler{
		service:  service,
		election: election,
		logger:   logger.With().Str("component", "leader_aware_scheduler").Logger(),
	}
}

// SetBus publishes leadership changes on bus.
func (las *LeaderAwareScheduler) SetBus(bus *events.Bus) {
	las.bus = bus
}

// Start begins monitoring leadership status and manages the timer lifecycle
func (las *LeaderAwareScheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	las.mu.Lock()
	las.ctx = ctx
	las.cancel = cancel
	las.done = done
	las.mu.Unlock()

	las.logger.Info().Msg("starting leader-aware scheduler")

	if err := las.election.Start(ctx); err != nil {
		cancel()
		// Nothing will close done; Stop must not wait on it.
		las.mu.Lock()
		las.cancel = nil
		las.done = nil
		las.mu.Unlock()
		return err
	}

	go las.monitorLeadership(ctx, done)
	return nil
}

// Stop deactivates the hook and releases leadership
func (las *LeaderAwareScheduler) Stop() error {
	las.logger.Info().Msg("stopping leader-aware scheduler")

	las.mu.Lock()
	cancel, done := las.cancel, las.done
	las.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	las.service.Deactivate()
	return las.election.Stop()
}

// monitorLeadership watches for leadership changes and activates or
// deactivates the hook accordingly
func (las *LeaderAwareScheduler) monitorLeadership(ctx context.Context, done chan struct{}) {
	defer close(done)
	leaderCh := las.election.LeaderCh()

	las.apply(ctx, las.election.IsLeader())

	for {
		select {
		case <-ctx.Done():
			return
		case isLeader := <-leaderCh:
			las.apply(ctx, isLeader)
		}
	}
}

func (las *LeaderAwareScheduler) apply(ctx context.Context, isLeader bool) {
	if isLeader == las.service.Active() {
		return
	}
	if las.bus != nil {
		las.bus.Publish(events.EventLeadershipChanged, events.Payload{
			"event":  string(events.EventLeadershipChanged),
			"hook":   las.service.Hook(),
			"leader": isLeader,
		})
	}
	if isLeader {
		las.logger.Info().Msg("became leader, activating catch-up sweeps")
		if err := las.service.Activate(ctx); err != nil {
			las.logger.Error().Err(err).Msg("failed to activate catch-up sweeps")
		}
		return
	}
	las.logger.Warn().Msg("lost leadership, deactivating catch-up sweeps")
	las.service.Deactivate()
}

// IsLeader returns whether this instance is the leader
func (las *LeaderAwareScheduler) IsLeader() bool {
	return las.election.IsLeader()
}
