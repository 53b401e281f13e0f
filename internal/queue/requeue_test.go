package queue

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paths(t *testing.T, q *FileQueue) []string {
	t.Helper()
	entries, err := q.List(context.Background())
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path)
	}
	return out
}

func TestRequeueMovesDeadLettersInOrder(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	primary := New(filepath.Join(dir, "playitems.txt"), zerolog.Nop())
	dead := New(filepath.Join(dir, "playitems.txt.failed"), zerolog.Nop())

	require.NoError(t, primary.Append(ctx, "/media/live.xml"))
	require.NoError(t, dead.Append(ctx, "/media/x.xml"))
	require.NoError(t, dead.Append(ctx, "/media/y.xml"))

	moved, err := Requeue(ctx, dead, primary)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	if diff := cmp.Diff([]string{"/media/live.xml", "/media/x.xml", "/media/y.xml"}, paths(t, primary)); diff != "" {
		t.Fatalf("main queue mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, paths(t, dead))
	_, err = os.Stat(dead.journal)
	assert.True(t, os.IsNotExist(err), "dead-letter journal must be cleared")
}

func TestRequeueMovesInterruptedEntryFirst(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	primary := New(filepath.Join(dir, "playitems.txt"), zerolog.Nop())
	dead := New(filepath.Join(dir, "playitems.txt.failed"), zerolog.Nop())

	require.NoError(t, dead.Append(ctx, "/media/x.xml"))
	require.NoError(t, dead.Append(ctx, "/media/y.xml"))
	_, err := dead.Pop(ctx)
	require.NoError(t, err)

	moved, err := Requeue(ctx, dead, primary)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)
	if diff := cmp.Diff([]string{"/media/x.xml", "/media/y.xml"}, paths(t, primary)); diff != "" {
		t.Fatalf("main queue mismatch (-want +got):\n%s", diff)
	}
}

func TestRequeueEmpty(t *testing.T) {
	dir := t.TempDir()
	primary := New(filepath.Join(dir, "playitems.txt"), zerolog.Nop())
	dead := New(filepath.Join(dir, "playitems.txt.failed"), zerolog.Nop())

	moved, err := Requeue(context.Background(), dead, primary)
	require.NoError(t, err)
	assert.Zero(t, moved)
}
