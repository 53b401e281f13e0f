/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/events"
)

// Elector reports whether this instance may write the schedule.
type Elector interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
}

// Runner is a blocking loop such as *Service.
type Runner interface {
	Run(ctx context.Context) error
}

// LeaderAwareScheduler runs the poller only while this instance holds the lease.
type LeaderAwareScheduler struct {
	runner   Runner
	election Elector
	events   events.Publisher
	logger   zerolog.Logger
}

// NewLeaderAware creates a leader-aware scheduler wrapper.
func NewLeaderAware(runner Runner, election Elector, pub events.Publisher, logger zerolog.Logger) *LeaderAwareScheduler {
	if pub == nil {
		pub = discard{}
	}
	return &LeaderAwareScheduler{
		runner:   runner,
		election: election,
		events:   pub,
		logger:   logger.With().Str("component", "leader_aware_scheduler").Logger(),
	}
}

// Run campaigns for leadership and starts or stops the poller as it is won
// or lost. It returns when ctx is done or the poller fails; the lease is
// released either way.
func (las *LeaderAwareScheduler) Run(ctx context.Context) (err error) {
	if err := las.election.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if stopErr := las.election.Stop(); stopErr != nil {
			las.logger.Warn().Err(stopErr).Msg("stop leader election")
		}
	}()

	var (
		cancel  context.CancelFunc
		running chan error
	)
	start := func() {
		if running != nil {
			return
		}
		var runCtx context.Context
		runCtx, cancel = context.WithCancel(ctx)
		running = make(chan error, 1)
		go func(done chan<- error) {
			done <- las.runner.Run(runCtx)
		}(running)
		las.logger.Info().Msg("became leader, poller started")
	}
	stop := func() error {
		if running == nil {
			return nil
		}
		cancel()
		err := <-running
		running, cancel = nil, nil
		return err
	}
	defer func() {
		if stopErr := stop(); err == nil && stopErr != nil && !errors.Is(stopErr, context.Canceled) {
			err = stopErr
		}
	}()

	if las.election.IsLeader() {
		start()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case leader := <-las.election.LeaderCh():
			las.events.Publish(events.EventLeaderChanged, events.Payload{"leader": leader})
			if leader {
				start()
				continue
			}
			las.logger.Warn().Msg("lost leadership, stopping poller")
			if err := stop(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

		case err := <-running:
			cancel()
			running, cancel = nil, nil
			if err == nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return err
		}
	}
}

// IsLeader returns whether this instance is the leader.
func (las *LeaderAwareScheduler) IsLeader() bool {
	return las.election.IsLeader()
}
