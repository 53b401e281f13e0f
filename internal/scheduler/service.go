/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/grimnir_playout/internal/analyzer"
	"github.com/friendsincode/grimnir_playout/internal/events"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/queue"
	"github.com/friendsincode/grimnir_playout/internal/schedule"
	"github.com/friendsincode/grimnir_playout/internal/store"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

const (
	tracerName = "playout/scheduler"
	ackTimeout = 5 * time.Second
)

// State is the poller's position in its two-state machine.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
)

// Queue is the pending-work source.
type Queue interface {
	Pop(ctx context.Context) (queue.Entry, error)
	Ack(ctx context.Context, entry queue.Entry) error
	Recover(ctx context.Context) (queue.Entry, bool, error)
	Wait(ctx context.Context, timeout time.Duration) (bool, error)
	Len(ctx context.Context) (int, error)
}

// DeadLetter receives entries that could not be scheduled.
type DeadLetter interface {
	Append(ctx context.Context, path string) error
}

// Extractor reads an item's playable duration.
type Extractor interface {
	Extract(ctx context.Context, path string) (analyzer.Info, error)
}

// Store is the append-only schedule.
type Store interface {
	LastRecord(ctx context.Context) (*models.ScheduleRecord, error)
	InsertAfter(ctx context.Context, prevID int64, draft schedule.Draft) (models.ScheduleRecord, error)
}

// Options tunes the poller.
type Options struct {
	Channel      int
	PollInterval time.Duration
	Location     *time.Location
	// MaxConflicts bounds re-slotting after losing an insert race.
	MaxConflicts int
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Service is the poller: it drains the queue one item at a time and appends
// each item to the schedule.
type Service struct {
	queue     Queue
	dead      DeadLetter
	extractor Extractor
	store     Store
	events    events.Publisher
	opts      Options
	logger    zerolog.Logger

	state atomic.Value // State
}

// New constructs the poller. A nil publisher discards events.
func New(q Queue, dead DeadLetter, ex Extractor, st Store, pub events.Publisher, opts Options, logger zerolog.Logger) *Service {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MaxConflicts <= 0 {
		opts.MaxConflicts = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if pub == nil {
		pub = discard{}
	}

	s := &Service{
		queue:     q,
		dead:      dead,
		extractor: ex,
		store:     st,
		events:    pub,
		opts:      opts,
		logger:    logger.With().Str("component", "poller").Logger(),
	}
	s.setState(StateIdle)
	return s
}

// State returns the current poller state.
func (s *Service) State() State {
	return s.state.Load().(State)
}

// Run drives the poller until ctx is cancelled or the store fails for good.
// An entry left in flight by a previous run is finished first.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info().Dur("poll_interval", s.opts.PollInterval).Msg("poller started")
	defer s.setState(StateIdle)

	entry, ok, err := s.queue.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover in-flight entry: %w", err)
	}
	if ok {
		s.events.Publish(events.EventItemRecovered, events.Payload{"item_path": entry.Path})
		s.setState(StateProcessing)
		if err := s.process(ctx, entry, true); err != nil {
			return err
		}
	}

	announcedIdle := false
	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info().Msg("poller stopped")
			return err
		}

		err := s.ProcessNext(ctx)
		switch {
		case err == nil:
			announcedIdle = false
			continue
		case errors.Is(err, queue.ErrEmpty):
			if !announcedIdle {
				s.logger.Debug().Msg("queue empty, waiting")
				s.events.Publish(events.EventQueueIdle, events.Payload{})
				announcedIdle = true
			}
		case errors.Is(err, errQueueIO):
			s.logger.Error().Err(err).Msg("queue unavailable, retrying after poll interval")
		case ctx.Err() != nil:
			s.logger.Info().Msg("poller stopped")
			return ctx.Err()
		case errors.Is(err, ErrCorruptSchedule):
			s.logger.Error().Err(err).Str("reason", FailureReason(err)).Msg("poller stopping, last schedule record needs repair")
			return err
		default:
			s.logger.Error().Err(err).Str("reason", FailureReason(err)).Msg("poller stopping on store failure")
			return err
		}

		if _, err := s.queue.Wait(ctx, s.opts.PollInterval); err != nil {
			s.logger.Info().Msg("poller stopped")
			return err
		}
	}
}

var errQueueIO = errors.New("queue i/o")

// ErrCorruptSchedule means the newest stored record could not be read back,
// so no slot can follow it. Restarting does not help until the row is fixed.
var ErrCorruptSchedule = errors.New("last schedule record unreadable")

// FailureReason classifies an error returned by Run for operators.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrCorruptSchedule):
		return "corrupt_schedule"
	case errors.Is(err, store.ErrWriteConflict):
		return "write_conflict"
	case errors.Is(err, store.ErrTimeout):
		return "store_timeout"
	case errors.Is(err, store.ErrUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}

// ProcessNext handles exactly one queue entry. It returns queue.ErrEmpty when
// nothing is pending. Item-local failures are dead-lettered and reported as
// success; only store failures and cancellation are returned.
func (s *Service) ProcessNext(ctx context.Context) error {
	entry, err := s.queue.Pop(ctx)
	if errors.Is(err, queue.ErrEmpty) {
		s.setState(StateIdle)
		telemetry.QueueDepth.Set(0)
		return err
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", errQueueIO, err)
	}

	s.setState(StateProcessing)
	defer s.setState(StateIdle)
	if err := s.process(ctx, entry, false); err != nil {
		return err
	}

	if n, err := s.queue.Len(ctx); err == nil {
		telemetry.QueueDepth.Set(float64(n))
	}
	return nil
}

func (s *Service) process(ctx context.Context, entry queue.Entry, recovered bool) error {
	runID := uuid.NewString()
	logger := s.logger.With().Str("item_path", entry.Path).Str("run_id", runID).Logger()

	ctx, span := telemetry.StartSpan(ctx, tracerName, "poller.process",
		attribute.String("item_path", entry.Path),
		attribute.Bool("recovered", recovered),
	)
	defer span.End()

	info, err := s.extractor.Extract(ctx, entry.Path)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		telemetry.RecordError(span, err)
		return s.fail(ctx, logger, entry, err)
	}

	for attempt := 1; attempt <= s.opts.MaxConflicts; attempt++ {
		last, err := s.store.LastRecord(ctx)
		if err != nil {
			telemetry.RecordError(span, err)
			return fmt.Errorf("read last record: %w", err)
		}

		if recovered && attempt == 1 && last != nil && last.ItemPath == entry.Path {
			logger.Info().Int64("id", last.ID).Msg("recovered entry already scheduled, skipping")
			s.ack(ctx, logger, entry)
			return nil
		}

		now := s.opts.Now()
		slot, err := schedule.NextSlot(last, now, s.opts.Location)
		if err != nil {
			telemetry.RecordError(span, err)
			return fmt.Errorf("%w: compute next slot: %w", ErrCorruptSchedule, err)
		}

		var prevID int64
		if last != nil {
			prevID = last.ID
		}
		draft := schedule.NewDraft(entry.Path, slot.Start, info.Duration, s.opts.Channel)

		rec, err := s.store.InsertAfter(ctx, prevID, draft)
		if errors.Is(err, store.ErrWriteConflict) {
			telemetry.WriteConflictsTotal.Inc()
			logger.Warn().Err(err).Int("attempt", attempt).Msg("schedule changed underneath us, re-slotting")
			continue
		}
		if err != nil {
			telemetry.RecordError(span, err)
			return fmt.Errorf("insert record: %w", err)
		}

		s.ack(ctx, logger, entry)
		s.scheduled(logger, rec, slot, info, now)
		span.SetAttributes(attribute.Int64("record_id", rec.ID), attribute.String("slot_mode", string(slot.Mode)))
		return nil
	}

	err = fmt.Errorf("insert record: %w after %d attempts", store.ErrWriteConflict, s.opts.MaxConflicts)
	telemetry.RecordError(span, err)
	return err
}

// fail dead-letters an entry whose metadata could not be used.
func (s *Service) fail(ctx context.Context, logger zerolog.Logger, entry queue.Entry, cause error) error {
	kind := "unknown"
	var xerr *analyzer.ExtractionError
	if errors.As(cause, &xerr) {
		kind = xerr.ErrorKind()
	}

	logger.Error().Err(cause).Str("kind", kind).Msg("item not scheduled, moving to dead-letter queue")

	if s.dead != nil {
		if err := s.dead.Append(ctx, entry.Path); err != nil {
			return fmt.Errorf("dead-letter %s: %w", entry.Path, err)
		}
	}
	s.ack(ctx, logger, entry)

	telemetry.ItemsFailedTotal.WithLabelValues(kind).Inc()
	s.events.Publish(events.EventItemFailed, events.Payload{
		"item_path": entry.Path,
		"kind":      kind,
		"error":     cause.Error(),
	})
	return nil
}

func (s *Service) ack(ctx context.Context, logger zerolog.Logger, entry queue.Entry) {
	// The outcome is already committed; finish the ack even during shutdown.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	if err := s.queue.Ack(ctx, entry); err != nil {
		// The next Pop overwrites the journal; a restart before that
		// de-duplicates against the schedule.
		logger.Warn().Err(err).Msg("ack in-flight entry")
	}
}

func (s *Service) scheduled(logger zerolog.Logger, rec models.ScheduleRecord, slot schedule.Slot, info analyzer.Info, now time.Time) {
	logger.Info().
		Int64("id", rec.ID).
		Str("start_date", rec.StartDate).
		Str("start_time", rec.StartTime).
		Str("duration", rec.Duration).
		Str("slot_mode", string(slot.Mode)).
		Str("encoding", info.Encoding).
		Msg("item scheduled")

	telemetry.ItemsScheduledTotal.WithLabelValues(string(slot.Mode)).Inc()
	telemetry.PollerLastSuccess.Set(float64(now.Unix()))
	telemetry.ScheduleLeadSeconds.Set(slot.Start.Add(info.Duration).Sub(now).Seconds())

	s.events.Publish(events.EventRecordScheduled, events.Payload{
		"id":         rec.ID,
		"item_name":  rec.ItemName,
		"item_path":  rec.ItemPath,
		"start_date": rec.StartDate,
		"start_time": rec.StartTime,
		"duration":   rec.Duration,
		"channel":    rec.Channel,
		"slot_mode":  string(slot.Mode),
	})
}

func (s *Service) setState(state State) {
	prev, _ := s.state.Swap(state).(State)
	if prev == state {
		return
	}
	telemetry.SetPollerState(string(state), string(StateIdle), string(StateProcessing))
}

type discard struct{}

func (discard) Publish(events.EventType, events.Payload) {}
