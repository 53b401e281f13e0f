/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/schedule"
)

const (
	lockSuffix     = ".lock"
	inflightSuffix = ".inflight"

	lockRetryDelay = 25 * time.Millisecond
	filePerm       = 0o644
)

var (
	// ErrEmpty is returned by Pop when no entry is pending.
	ErrEmpty = errors.New("queue empty")
	// ErrInvalidEntry is returned by Append for paths that cannot be stored as one line.
	ErrInvalidEntry = errors.New("invalid queue entry")
)

// Entry is one pending media descriptor reference.
type Entry struct {
	Path string `json:"path"`
}

// Name is the item name recorded in the schedule for this entry.
func (e Entry) Name() string {
	return schedule.ItemName(e.Path)
}

// FileQueue is a line-delimited FIFO stored in a plain text file.
//
// Every mutation holds an exclusive advisory lock on <path>.lock so that
// producers appending lines and the consumer popping them never interleave.
// A popped entry is journalled to <path>.inflight until it is acked. The
// journal also records the queue file as it was before the pop and whether
// the rewrite that removed the entry has completed.
type FileQueue struct {
	path     string
	lockPath string
	journal  string
	logger   zerolog.Logger
}

// New returns a queue backed by the file at path. The file need not exist yet.
func New(path string, logger zerolog.Logger) *FileQueue {
	return &FileQueue{
		path:     path,
		lockPath: path + lockSuffix,
		journal:  path + inflightSuffix,
		logger:   logger.With().Str("component", "queue").Str("queue_file", path).Logger(),
	}
}

// Path returns the queue file location.
func (q *FileQueue) Path() string {
	return q.path
}

// Pop removes and returns the oldest entry. Blank lines ahead of it are
// discarded. The entry stays journalled until Ack is called.
func (q *FileQueue) Pop(ctx context.Context) (Entry, error) {
	var entry Entry
	err := q.withLock(ctx, func() error {
		data, err := q.readFile()
		if err != nil {
			return err
		}
		lines, err := splitLines(data)
		if err != nil {
			return err
		}

		head := -1
		for i, line := range lines {
			if strings.TrimSpace(line) != "" {
				head = i
				break
			}
		}
		if head < 0 {
			if len(lines) > 0 {
				// Only blank lines left; drop them.
				if err := q.rewrite(nil); err != nil {
					return err
				}
			}
			return ErrEmpty
		}

		entry = Entry{Path: strings.TrimSpace(lines[head])}
		j := inflight{Entry: entry, state: statePending, before: fingerprintOf(data)}
		if err := q.writeJournal(j); err != nil {
			return fmt.Errorf("journal in-flight entry: %w", err)
		}
		if err := q.rewrite(lines[head+1:]); err != nil {
			return err
		}

		j.state = stateCommitted
		if err := q.writeJournal(j); err != nil {
			// Recover still detects the completed rewrite from the fingerprint.
			q.logger.Warn().Err(err).Str("item_path", entry.Path).Msg("mark in-flight entry committed")
		}
		return nil
	})
	if err != nil {
		return Entry{}, err
	}

	q.logger.Debug().Str("item_path", entry.Path).Msg("entry popped")
	return entry, nil
}

// Ack marks the in-flight entry as finished.
func (q *FileQueue) Ack(ctx context.Context, entry Entry) error {
	return q.withLock(ctx, func() error {
		current, ok, err := q.readJournal()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if current.Path != entry.Path {
			return fmt.Errorf("ack %q: in-flight entry is %q", entry.Path, current.Path)
		}
		if err := os.Remove(q.journal); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("clear in-flight journal: %w", err)
		}
		return nil
	})
}

// Recover returns an entry that was popped but never acked, typically
// because the process stopped mid-item. If the pop never got as far as
// rewriting the queue file, the entry is still queued, so the journal is
// cleared and nothing is returned.
func (q *FileQueue) Recover(ctx context.Context) (Entry, bool, error) {
	var (
		entry Entry
		found bool
	)
	err := q.withLock(ctx, func() error {
		current, ok, err := q.readJournal()
		if err != nil || !ok {
			return err
		}

		data, err := q.readFile()
		if err != nil {
			return err
		}
		if !current.rewritten(data) {
			q.logger.Info().Str("item_path", current.Path).Msg("in-flight entry still queued, clearing journal")
			if err := os.Remove(q.journal); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("clear in-flight journal: %w", err)
			}
			return nil
		}

		entry, found = current.Entry, true
		return nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	if found {
		q.logger.Warn().Str("item_path", entry.Path).Msg("recovered un-acked entry")
	}
	return entry, found, nil
}

// Append adds path to the tail of the queue.
func (q *FileQueue) Append(ctx context.Context, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidEntry)
	}
	if strings.ContainsAny(path, "\r\n\x00") {
		return fmt.Errorf("%w: path must be a single line", ErrInvalidEntry)
	}

	return q.withLock(ctx, func() error {
		f, err := os.OpenFile(q.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, filePerm)
		if err != nil {
			return fmt.Errorf("open queue file: %w", err)
		}
		defer f.Close()

		prefix, err := needsNewline(f)
		if err != nil {
			return err
		}
		if _, err := f.WriteString(prefix + path + "\n"); err != nil {
			return fmt.Errorf("append to queue file: %w", err)
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("sync queue file: %w", err)
		}
		q.logger.Debug().Str("item_path", path).Msg("entry appended")
		return nil
	})
}

// List returns a snapshot of the pending entries in queue order.
func (q *FileQueue) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := q.withLock(ctx, func() error {
		lines, err := q.readLines()
		if err != nil {
			return err
		}
		for _, line := range lines {
			if line = strings.TrimSpace(line); line != "" {
				entries = append(entries, Entry{Path: line})
			}
		}
		return nil
	})
	return entries, err
}

// Len returns the number of pending entries.
func (q *FileQueue) Len(ctx context.Context) (int, error) {
	entries, err := q.List(ctx)
	return len(entries), err
}

// withLock runs fn while holding the queue's exclusive file lock.
func (q *FileQueue) withLock(ctx context.Context, fn func() error) error {
	lock := flock.New(q.lockPath)
	ok, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock queue: %w", err)
	}
	if !ok {
		return fmt.Errorf("lock queue: %s busy", q.lockPath)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			q.logger.Warn().Err(err).Msg("release queue lock")
		}
	}()
	return fn()
}

func (q *FileQueue) readLines() ([]string, error) {
	data, err := q.readFile()
	if err != nil {
		return nil, err
	}
	return splitLines(data)
}

func (q *FileQueue) readFile() ([]byte, error) {
	data, err := os.ReadFile(q.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue file: %w", err)
	}
	return data, nil
}

func splitLines(data []byte) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimSuffix(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan queue file: %w", err)
	}
	return lines, nil
}

const (
	statePending   = "pending"
	stateCommitted = "committed"
)

// fingerprint identifies queue file content by length and SHA-256.
type fingerprint struct {
	size int
	sum  string
}

func fingerprintOf(data []byte) fingerprint {
	sum := sha256.Sum256(data)
	return fingerprint{size: len(data), sum: hex.EncodeToString(sum[:])}
}

// inflight is the journal record: the entry, the pop's progress and the
// queue file content it was popped from.
//
// On disk it is "<path>\n<state> <size> <sha256>\n". A journal holding only
// the path line carries no progress.
type inflight struct {
	Entry
	state  string
	before fingerprint
}

// rewritten reports whether the pop that produced j removed its entry from
// the queue file, given the file's current content. Producers only append,
// so an unrewritten file still starts with the content the pop saw.
func (j inflight) rewritten(data []byte) bool {
	switch j.state {
	case stateCommitted:
		return true
	case statePending:
		if len(data) < j.before.size {
			return true
		}
		return fingerprintOf(data[:j.before.size]) != j.before
	}

	// No progress recorded: the entry still heading the queue means the
	// rewrite never happened.
	lines, err := splitLines(data)
	if err != nil {
		return true
	}
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			return line != j.Path
		}
	}
	return true
}

func (q *FileQueue) writeJournal(j inflight) error {
	body := fmt.Sprintf("%s\n%s %d %s\n", j.Path, j.state, j.before.size, j.before.sum)
	return writeAtomic(q.journal, []byte(body))
}

func (q *FileQueue) readJournal() (inflight, bool, error) {
	data, err := os.ReadFile(q.journal)
	if errors.Is(err, fs.ErrNotExist) {
		return inflight{}, false, nil
	}
	if err != nil {
		return inflight{}, false, fmt.Errorf("read in-flight journal: %w", err)
	}

	path, meta, _ := strings.Cut(strings.TrimRight(string(data), "\r\n"), "\n")
	path = strings.TrimSpace(path)
	if path == "" {
		return inflight{}, false, nil
	}
	j := inflight{Entry: Entry{Path: path}}

	var (
		state string
		size  int
		sum   string
	)
	if n, _ := fmt.Sscanf(strings.TrimSpace(meta), "%s %d %s", &state, &size, &sum); n == 3 &&
		(state == statePending || state == stateCommitted) && size >= 0 {
		j.state = state
		j.before = fingerprint{size: size, sum: sum}
	}
	return j, true, nil
}

func (q *FileQueue) rewrite(lines []string) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if err := writeAtomic(q.path, buf.Bytes()); err != nil {
		return fmt.Errorf("rewrite queue file: %w", err)
	}
	return nil
}

// writeAtomic replaces path with data: temp file, fsync, rename.
func writeAtomic(path string, data []byte) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(filePerm))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write pending file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// needsNewline reports the separator required before appending to f, which
// a hand-edited queue file may lack on its last line.
func needsNewline(f *os.File) (string, error) {
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat queue file: %w", err)
	}
	if info.Size() == 0 {
		return "", nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return "", fmt.Errorf("read queue file tail: %w", err)
	}
	if last[0] == '\n' {
		return "", nil
	}
	return "\n", nil
}
