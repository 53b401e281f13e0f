package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/grimnir_playout/internal/db"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/schedule"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Migrate(database, "schedule"))
	return database
}

func newTestStore(t *testing.T, database *gorm.DB) *Store {
	t.Helper()
	return New(database, Options{
		Table:         "schedule",
		Timeout:       time.Second,
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
		Location:      time.UTC,
	}, zerolog.Nop())
}

func draftAt(path string, start time.Time, d time.Duration) schedule.Draft {
	return schedule.NewDraft(path, start, d, 1)
}

func TestLastRecordEmpty(t *testing.T) {
	s := newTestStore(t, newTestDB(t))

	last, err := s.LastRecord(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestInsertAssignsSequentialIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newTestDB(t))
	start := time.Date(2025, time.June, 16, 18, 0, 0, 0, time.UTC)

	first, err := s.Insert(ctx, draftAt("/media/a.xml", start, 125*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, "06:00:00 PM", first.StartTime)
	assert.Equal(t, "16 Jun 2025", first.StartDate)
	assert.Equal(t, "00:02:05", first.Duration)
	assert.Equal(t, "a", first.ItemName)

	second, err := s.InsertAfter(ctx, first.ID, draftAt("/media/b.xml", start.Add(125*time.Second), time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.ID)

	last, err := s.LastRecord(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, second, *last)

	recent, err := s.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(2), recent[0].ID)
	assert.Equal(t, int64(1), recent[1].ID)
}

func TestInsertContinuesFromExistingMax(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	require.NoError(t, database.Table("schedule").Create(&models.ScheduleRecord{
		ID: 41, StartDate: "16 Jun 2025", StartTime: "05:15:00 PM", Duration: "0:45:00", Channel: 1,
	}).Error)
	s := newTestStore(t, database)

	rec, err := s.InsertAfter(ctx, 41, draftAt("/media/a.xml", time.Date(2025, time.June, 16, 18, 0, 0, 0, time.UTC), time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.ID)
}

func TestInsertAfterDetectsConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, newTestDB(t))
	start := time.Date(2025, time.June, 16, 18, 0, 0, 0, time.UTC)

	first, err := s.Insert(ctx, draftAt("/media/a.xml", start, time.Minute))
	require.NoError(t, err)

	// Another writer appended after we read the last record.
	_, err = s.Insert(ctx, draftAt("/media/x.xml", start.Add(time.Minute), time.Minute))
	require.NoError(t, err)

	_, err = s.InsertAfter(ctx, first.ID, draftAt("/media/b.xml", start.Add(time.Minute), time.Minute))
	require.ErrorIs(t, err, ErrWriteConflict)

	_, err = s.InsertAfter(ctx, 0, draftAt("/media/b.xml", start, time.Minute))
	require.ErrorIs(t, err, ErrWriteConflict)

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestInsertDuplicateKeyIsConflict(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, database.Callback().Create().Before("gorm:create").Register("test:duplicate", func(tx *gorm.DB) {
		_ = tx.AddError(gorm.ErrDuplicatedKey)
	}))
	s := newTestStore(t, database)

	_, err := s.Insert(context.Background(), draftAt("/media/a.xml", time.Now(), time.Second))
	require.ErrorIs(t, err, ErrWriteConflict)
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	database := newTestDB(t)
	var calls atomic.Int32
	require.NoError(t, database.Callback().Query().Before("gorm:query").Register("test:flaky", func(tx *gorm.DB) {
		if calls.Add(1) <= 2 {
			_ = tx.AddError(errors.New("database is locked"))
		}
	}))
	s := newTestStore(t, database)

	last, err := s.LastRecord(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryExhaustionIsUnavailable(t *testing.T) {
	database := newTestDB(t)
	var calls atomic.Int32
	require.NoError(t, database.Callback().Query().Before("gorm:query").Register("test:down", func(tx *gorm.DB) {
		calls.Add(1)
		_ = tx.AddError(errors.New("connection refused"))
	}))
	s := newTestStore(t, database)

	_, err := s.LastRecord(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAttemptTimeout(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, database.Callback().Query().Before("gorm:query").Register("test:slow", func(tx *gorm.DB) {
		<-tx.Statement.Context.Done()
		_ = tx.AddError(tx.Statement.Context.Err())
	}))
	s := New(database, Options{
		Table:         "schedule",
		Timeout:       10 * time.Millisecond,
		RetryAttempts: 2,
		RetryBackoff:  time.Millisecond,
		Location:      time.UTC,
	}, zerolog.Nop())

	_, err := s.LastRecord(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
}

func TestCallerCancellationIsNotRetried(t *testing.T) {
	database := newTestDB(t)
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, database.Callback().Query().Before("gorm:query").Register("test:cancel", func(tx *gorm.DB) {
		calls.Add(1)
		cancel()
		_ = tx.AddError(context.Canceled)
	}))
	s := newTestStore(t, database)

	_, err := s.LastRecord(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}
