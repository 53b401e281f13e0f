/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Wait blocks until the queue file holds data, timeout elapses or ctx is done.
// It returns true when data is present. Only ctx errors are returned; a
// watcher that cannot be set up degrades to a plain timed sleep.
func (q *FileQueue) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	if q.hasData() {
		return true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		q.logger.Debug().Err(err).Msg("fsnotify unavailable, falling back to timed wait")
		return q.sleep(ctx, timer)
	}
	defer func() {
		_ = watcher.Close()
	}()

	// Watch the directory: the file is replaced by rename on every pop.
	dir := filepath.Dir(q.path)
	if err := watcher.Add(dir); err != nil {
		q.logger.Debug().Err(err).Str("dir", dir).Msg("cannot watch queue directory, falling back to timed wait")
		return q.sleep(ctx, timer)
	}

	// Double check after adding the watch to close the race with a writer.
	if q.hasData() {
		return true, nil
	}

	target := filepath.Base(q.path)
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return q.hasData(), nil
		case event, ok := <-watcher.Events:
			if !ok {
				return q.sleep(ctx, timer)
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				if q.hasData() {
					return true, nil
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return q.sleep(ctx, timer)
			}
			q.logger.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}

func (q *FileQueue) sleep(ctx context.Context, timer *time.Timer) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return q.hasData(), nil
	}
}

// hasData is a cheap size probe. A file holding only blank lines counts as
// data; Pop will clean it up and report ErrEmpty.
func (q *FileQueue) hasData() bool {
	info, err := os.Stat(q.path)
	return err == nil && info.Size() > 0
}
