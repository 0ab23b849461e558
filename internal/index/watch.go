package index

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	verrors "github.com/Aman-CERP/vgrep/internal/errors"
	"github.com/Aman-CERP/vgrep/internal/watcher"
)

// lockedRetryDelay is how long Watch waits before retrying a batch that
// found the index locked by another writer.
var lockedRetryDelay = 2 * time.Second

// SyncReport receives the outcome of each sync Watch performs.
type SyncReport func(stats *Stats, err error)

// Watch consumes event batches one at a time, syncing the paths each batch
// names. A change to an ignore file triggers a full sync. Batches that
// arrive while the index is locked elsewhere are merged and retried. Watch
// returns nil when ctx is cancelled or events is closed.
func (r *Runner) Watch(ctx context.Context, events <-chan []watcher.FileEvent, report SyncReport) error {
	pending := make(map[string]bool)
	full := false

	var retry <-chan time.Time

	flush := func() {
		if !full && len(pending) == 0 {
			return
		}
		opts := RunOptions{}
		if full {
			r.files.Invalidate()
		} else {
			for p := range pending {
				opts.Paths = append(opts.Paths, p)
			}
			sort.Strings(opts.Paths)
		}

		stats, err := r.Run(ctx, opts)
		switch {
		case err == nil:
			if stats.Published {
				slog.Info("watch_sync",
					slog.String("run_id", stats.RunID),
					slog.Uint64("generation", stats.Generation),
					slog.Int("added", stats.Added),
					slog.Int("modified", stats.Modified),
					slog.Int("removed", stats.Removed))
			}
		case errors.Is(err, ErrLocked):
			slog.Warn("watch_sync_deferred", slog.Int("paths", len(pending)), slog.Bool("full", full))
			retry = time.After(lockedRetryDelay)
			return
		case ctx.Err() != nil:
			return
		default:
			slog.Error("watch_sync_failed", verrors.LogAttrs(err)...)
		}
		clear(pending)
		full = false
		if report != nil {
			report(stats, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			for _, ev := range batch {
				if ev.Operation == watcher.OpIgnoreChange {
					full = true
					continue
				}
				pending[ev.Path] = true
			}
			flush()
		case <-retry:
			retry = nil
			flush()
		}
	}
}
