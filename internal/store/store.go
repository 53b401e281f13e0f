/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/schedule"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
)

var (
	// ErrUnavailable means the store could not be reached after all retries.
	ErrUnavailable = errors.New("schedule store unavailable")
	// ErrTimeout means the last attempt ran out of time.
	ErrTimeout = errors.New("schedule store timeout")
	// ErrWriteConflict means another writer appended first.
	ErrWriteConflict = errors.New("schedule write conflict")
)

// Options configures a Store.
type Options struct {
	Table         string
	Timeout       time.Duration // per attempt
	RetryAttempts int
	RetryBackoff  time.Duration // initial backoff interval
	Location      *time.Location
}

// Store is the append-only broadcast schedule.
type Store struct {
	db     *gorm.DB
	opts   Options
	logger zerolog.Logger
}

// New wraps db. Zero options fall back to sane defaults.
func New(db *gorm.DB, opts Options, logger zerolog.Logger) *Store {
	if opts.Table == "" {
		opts.Table = models.DefaultScheduleTable
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Store{
		db:     db,
		opts:   opts,
		logger: logger.With().Str("component", "store").Str("table", opts.Table).Logger(),
	}
}

// Location is the zone start dates and times are written in.
func (s *Store) Location() *time.Location {
	return s.opts.Location
}

// LastRecord returns the record with the highest id, or nil for an empty schedule.
func (s *Store) LastRecord(ctx context.Context) (*models.ScheduleRecord, error) {
	var last *models.ScheduleRecord
	err := s.retry(ctx, "last_record", func(ctx context.Context) error {
		rec, err := lastRecord(s.table(ctx))
		if err != nil {
			return err
		}
		last = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return last, nil
}

// Insert appends draft with id max+1 (or 1 on an empty schedule).
func (s *Store) Insert(ctx context.Context, draft schedule.Draft) (models.ScheduleRecord, error) {
	return s.insert(ctx, "insert", draft, func(int64) error { return nil })
}

// InsertAfter appends draft only if the highest id is still prevID (0 for an
// empty schedule). Otherwise it returns ErrWriteConflict and writes nothing.
func (s *Store) InsertAfter(ctx context.Context, prevID int64, draft schedule.Draft) (models.ScheduleRecord, error) {
	return s.insert(ctx, "insert_after", draft, func(maxID int64) error {
		if maxID != prevID {
			return fmt.Errorf("%w: expected last id %d, found %d", ErrWriteConflict, prevID, maxID)
		}
		return nil
	})
}

func (s *Store) insert(ctx context.Context, op string, draft schedule.Draft, check func(maxID int64) error) (models.ScheduleRecord, error) {
	var rec models.ScheduleRecord
	err := s.retry(ctx, op, func(ctx context.Context) error {
		return s.table(ctx).Transaction(func(tx *gorm.DB) error {
			var maxID int64
			if err := tx.Select("COALESCE(MAX(id), 0)").Row().Scan(&maxID); err != nil {
				return fmt.Errorf("read max id: %w", err)
			}
			if err := check(maxID); err != nil {
				return err
			}

			rec = draft.Record(maxID+1, s.opts.Location)
			if err := tx.Create(&rec).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return fmt.Errorf("%w: id %d already taken", ErrWriteConflict, rec.ID)
				}
				return fmt.Errorf("create record: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return models.ScheduleRecord{}, err
	}

	s.logger.Debug().
		Int64("id", rec.ID).
		Str("item_path", rec.ItemPath).
		Str("start", rec.StartDate+" "+rec.StartTime).
		Str("duration", rec.Duration).
		Msg("schedule record inserted")
	return rec, nil
}

// Recent returns up to limit records ordered newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.ScheduleRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	var recs []models.ScheduleRecord
	err := s.retry(ctx, "recent", func(ctx context.Context) error {
		recs = recs[:0]
		return s.table(ctx).Order("id DESC").Limit(limit).Find(&recs).Error
	})
	return recs, err
}

func (s *Store) table(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.opts.Table)
}

func lastRecord(tx *gorm.DB) (*models.ScheduleRecord, error) {
	var recs []models.ScheduleRecord
	if err := tx.Order("id DESC").Limit(1).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("read last record: %w", err)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// retry runs fn with a per-attempt timeout and exponential backoff between
// attempts. Conflicts and caller cancellation are returned immediately.
func (s *Store) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	attempt := 0

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.RetryBackoff
	policy.MaxInterval = 30 * s.opts.RetryBackoff
	policy.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.opts.RetryAttempts-1)), ctx)

	var lastErr error
	err := backoff.Retry(func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrWriteConflict) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}

		lastErr = err
		telemetry.StoreRetriesTotal.WithLabelValues(op).Inc()
		s.logger.Warn().Err(err).Str("operation", op).Int("attempt", attempt).Msg("store attempt failed")
		return err
	}, bo)

	result := "ok"
	defer func() {
		telemetry.StoreOperationDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
	}()

	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrWriteConflict):
		result = "conflict"
		return err
	case ctx.Err() != nil:
		result = "canceled"
		if lastErr != nil {
			return fmt.Errorf("%s: %w (last error: %v)", op, ctx.Err(), lastErr)
		}
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case errors.Is(err, ErrTimeout):
		result = "timeout"
		return fmt.Errorf("%s after %d attempts: %w", op, attempt, err)
	default:
		result = "unavailable"
		return fmt.Errorf("%s after %d attempts: %w: %w", op, attempt, ErrUnavailable, err)
	}
}
