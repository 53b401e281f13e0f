package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friendsincode/grimnir_playout/internal/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { queueFailed = false })
	err := rootCmd.Execute()
	return out.String(), err
}

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PLAYOUT_ENV", "production")
	t.Setenv("PLAYOUT_DB_DSN", "file:"+filepath.Join(dir, "schedule.db"))
	t.Setenv("PLAYOUT_QUEUE_FILE", filepath.Join(dir, "playitems.txt"))
	t.Setenv("PLAYOUT_TIMEZONE", "UTC")
	return dir
}

func TestEnqueueListAndRequeue(t *testing.T) {
	dir := setupEnv(t)

	out, err := execute(t, "enqueue", "/media/a.xml", "/media/b.xml")
	require.NoError(t, err)
	assert.Contains(t, out, "enqueued 2 item(s)")

	out, err = execute(t, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "/media/a.xml")
	assert.Contains(t, out, "2 pending")

	failed := filepath.Join(dir, "playitems.txt.failed")
	require.NoError(t, os.WriteFile(failed, []byte("/media/broken.xml\n"), 0o644))

	out, err = execute(t, "queue", "list", "--failed")
	require.NoError(t, err)
	assert.Contains(t, out, "/media/broken.xml")

	out, err = execute(t, "requeue")
	require.NoError(t, err)
	assert.Contains(t, out, "moved 1 item(s)")

	data, err := os.ReadFile(filepath.Join(dir, "playitems.txt"))
	require.NoError(t, err)
	assert.Equal(t, "/media/a.xml\n/media/b.xml\n/media/broken.xml\n", string(data))
}

func TestEnqueueRejectsMultiLinePath(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "enqueue", "/media/a.xml\n/media/b.xml")
	require.Error(t, err)
}

func TestMigrateAndScheduleLast(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "migrate")
	require.NoError(t, err)

	out, err := execute(t, "schedule", "last")
	require.NoError(t, err)
	assert.Contains(t, out, "schedule is empty")
}

func TestTokenRequiresSecret(t *testing.T) {
	setupEnv(t)
	_, err := execute(t, "token", "--producer", "chatbot")
	require.Error(t, err)

	secret := "0123456789abcdef"
	t.Setenv("PLAYOUT_API_JWT_SECRET", secret)
	out, err := execute(t, "token", "--producer", "chatbot")
	require.NoError(t, err)

	claims, err := auth.Parse([]byte(secret), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "chatbot", claims.Producer)
	assert.True(t, claims.HasScope(auth.ScopeQueueWrite))
}
