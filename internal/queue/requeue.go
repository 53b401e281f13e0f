/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"context"
	"errors"
	"fmt"
)

// Requeue moves every entry of from onto the tail of to, oldest first, and
// returns how many entries moved. An entry left in flight on from by an
// interrupted earlier call is moved first.
func Requeue(ctx context.Context, from, to *FileQueue) (int, error) {
	moved := 0
	move := func(entry Entry) error {
		if err := to.Append(ctx, entry.Path); err != nil {
			return fmt.Errorf("requeue %q: %w", entry.Path, err)
		}
		if err := from.Ack(ctx, entry); err != nil {
			return fmt.Errorf("requeue %q: %w", entry.Path, err)
		}
		moved++
		return nil
	}

	entry, ok, err := from.Recover(ctx)
	if err != nil {
		return 0, err
	}
	if ok {
		if err := move(entry); err != nil {
			return moved, err
		}
	}

	for {
		entry, err := from.Pop(ctx)
		if errors.Is(err, ErrEmpty) {
			break
		}
		if err != nil {
			return moved, err
		}
		if err := move(entry); err != nil {
			return moved, err
		}
	}

	if moved > 0 {
		from.logger.Info().Int("moved", moved).Str("target", to.path).Msg("entries requeued")
	}
	return moved, nil
}
