package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, content string) *FileQueue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playitems.txt")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return New(path, zerolog.Nop())
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestPopReturnsEntriesInOrderExactlyOnce(t *testing.T) {
	ctx := context.Background()
	want := []string{"/media/a.xml", "/media/b.xml", `D:\clips\c.xml`, "/media/d e.xml"}
	q := newTestQueue(t, "/media/a.xml\n/media/b.xml\r\nD:\\clips\\c.xml\n/media/d e.xml")

	var got []string
	for range want {
		entry, err := q.Pop(ctx)
		require.NoError(t, err)
		got = append(got, entry.Path)
		require.NoError(t, q.Ack(ctx, entry))
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("popped entries mismatch (-want +got):\n%s", diff)
	}

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Empty(t, readFile(t, q.Path()))
}

func TestPopMissingFileIsEmpty(t *testing.T) {
	q := newTestQueue(t, "")

	_, err := q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestPopSkipsLeadingBlankLines(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, "\n   \n/media/a.xml\n\n/media/b.xml\n")

	entry, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/media/a.xml", entry.Path)
	assert.Equal(t, "\n/media/b.xml\n", readFile(t, q.Path()))
}

func TestPopBlankOnlyFileIsTruncated(t *testing.T) {
	q := newTestQueue(t, "\n\n  \n")

	_, err := q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Empty(t, readFile(t, q.Path()))
}

func TestPopJournalsUntilAck(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, "/media/a.xml\n/media/b.xml\n")

	entry, err := q.Pop(ctx)
	require.NoError(t, err)
	journal, ok, err := q.readJournal()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/media/a.xml", journal.Path)
	assert.Equal(t, stateCommitted, journal.state)
	assert.Equal(t, fingerprintOf([]byte("/media/a.xml\n/media/b.xml\n")), journal.before)

	require.Error(t, q.Ack(ctx, Entry{Path: "/media/other.xml"}))
	require.NoError(t, q.Ack(ctx, entry))
	_, err = os.Stat(q.Path() + inflightSuffix)
	assert.True(t, os.IsNotExist(err))

	// Acking twice is harmless.
	require.NoError(t, q.Ack(ctx, entry))
}

func TestRecover(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing in flight", func(t *testing.T) {
		q := newTestQueue(t, "/media/a.xml\n")
		_, ok, err := q.Recover(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("popped but not acked", func(t *testing.T) {
		q := newTestQueue(t, "/media/a.xml\n/media/b.xml\n")
		_, err := q.Pop(ctx)
		require.NoError(t, err)

		restarted := New(q.Path(), zerolog.Nop())
		entry, ok, err := restarted.Recover(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "/media/a.xml", entry.Path)

		next, err := restarted.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, "/media/b.xml", next.Path)
	})

	t.Run("repeated path popped but not acked", func(t *testing.T) {
		q := newTestQueue(t, "/media/a.xml\n/media/a.xml\n")
		_, err := q.Pop(ctx)
		require.NoError(t, err)

		restarted := New(q.Path(), zerolog.Nop())
		entry, ok, err := restarted.Recover(ctx)
		require.NoError(t, err)
		require.True(t, ok, "first copy must not be dropped")
		assert.Equal(t, "/media/a.xml", entry.Path)

		pending, err := restarted.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []Entry{{Path: "/media/a.xml"}}, pending)
	})

	t.Run("repeated path appended again after the crash", func(t *testing.T) {
		q := newTestQueue(t, "/media/a.xml\n/media/a.xml\n")
		_, err := q.Pop(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Append(ctx, "/media/a.xml"))

		entry, ok, err := New(q.Path(), zerolog.Nop()).Recover(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "/media/a.xml", entry.Path)
	})

	t.Run("crash between journal and rewrite", func(t *testing.T) {
		content := "/media/a.xml\n/media/b.xml\n"
		q := newTestQueue(t, content)
		require.NoError(t, q.writeJournal(inflight{
			Entry:  Entry{Path: "/media/a.xml"},
			state:  statePending,
			before: fingerprintOf([]byte(content)),
		}))
		require.NoError(t, q.Append(ctx, "/media/c.xml"))

		_, ok, err := q.Recover(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		_, err = os.Stat(q.Path() + inflightSuffix)
		assert.True(t, os.IsNotExist(err))

		entry, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, "/media/a.xml", entry.Path)
	})

	t.Run("rewrite done but not marked committed", func(t *testing.T) {
		content := "/media/a.xml\n/media/b.xml\n"
		q := newTestQueue(t, "/media/b.xml\n")
		require.NoError(t, q.writeJournal(inflight{
			Entry:  Entry{Path: "/media/a.xml"},
			state:  statePending,
			before: fingerprintOf([]byte(content)),
		}))

		entry, ok, err := q.Recover(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "/media/a.xml", entry.Path)
	})

	t.Run("path-only journal with entry still queued", func(t *testing.T) {
		q := newTestQueue(t, "/media/a.xml\n/media/b.xml\n")
		require.NoError(t, os.WriteFile(q.Path()+inflightSuffix, []byte("/media/a.xml\n"), 0o644))

		_, ok, err := q.Recover(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		_, err = os.Stat(q.Path() + inflightSuffix)
		assert.True(t, os.IsNotExist(err))

		entry, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, "/media/a.xml", entry.Path)
	})
}

func TestAppend(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, "/media/a.xml")

	require.NoError(t, q.Append(ctx, "/media/b.xml"))
	require.NoError(t, q.Append(ctx, "  /media/c.xml  "))
	assert.Equal(t, "/media/a.xml\n/media/b.xml\n/media/c.xml\n", readFile(t, q.Path()))

	for _, bad := range []string{"", "   ", "/media/a.xml\n/media/b.xml", "/media/\x00.xml"} {
		assert.ErrorIs(t, q.Append(ctx, bad), ErrInvalidEntry, "%q", bad)
	}

	entries, err := q.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Path: "/media/a.xml"}, {Path: "/media/b.xml"}, {Path: "/media/c.xml"}}, entries)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestConcurrentProducersAndConsumer(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, "")

	const producers, perProducer = 4, 25
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, q.Append(ctx, fmt.Sprintf("/media/p%d-%03d.xml", p, i)))
			}
		}(p)
	}

	seen := make(map[string]int)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	drain := func() {
		for {
			entry, err := q.Pop(ctx)
			if err != nil {
				require.ErrorIs(t, err, ErrEmpty)
				return
			}
			seen[entry.Path]++
			require.NoError(t, q.Ack(ctx, entry))
		}
	}
	for {
		select {
		case <-done:
			drain()
			assert.Len(t, seen, producers*perProducer)
			for path, n := range seen {
				assert.Equal(t, 1, n, path)
			}
			return
		default:
			drain()
		}
	}
}

func TestEntryName(t *testing.T) {
	assert.Equal(t, "a", Entry{Path: "/media/a.xml"}.Name())
}

func TestWait(t *testing.T) {
	t.Run("returns immediately with data", func(t *testing.T) {
		q := newTestQueue(t, "/media/a.xml\n")
		ok, err := q.Wait(context.Background(), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("times out on empty queue", func(t *testing.T) {
		q := newTestQueue(t, "")
		start := time.Now()
		ok, err := q.Wait(context.Background(), 50*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("wakes on append", func(t *testing.T) {
		q := newTestQueue(t, "")
		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = q.Append(context.Background(), "/media/a.xml")
		}()
		ok, err := q.Wait(context.Background(), 5*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("honours cancellation", func(t *testing.T) {
		q := newTestQueue(t, "")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := q.Wait(ctx, time.Minute)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
