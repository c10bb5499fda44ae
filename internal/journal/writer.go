package journal

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/commcore/internal/log"
)

// Recorder persists one entry.
type Recorder interface {
	Record(ctx context.Context, e Entry) (string, error)
}

// Writer moves entries from callers that must not block onto a Recorder.
type Writer struct {
	rec     Recorder
	in      chan Entry
	logger  *slog.Logger
	dropped atomic.Int64
}

func NewWriter(rec Recorder, buffer int) *Writer {
	if buffer <= 0 {
		buffer = 256
	}
	return &Writer{
		rec:    rec,
		in:     make(chan Entry, buffer),
		logger: log.WithComponent("journal"),
	}
}

// Append queues e without blocking. It reports false if the buffer is full
// and the entry was dropped.
func (w *Writer) Append(e Entry) bool {
	select {
	case w.in <- e:
		return true
	default:
		n := w.dropped.Add(1)
		w.logger.Warn("journal buffer full, entry dropped", "slot", e.Slot, "outcome", e.Outcome, "dropped_total", n)
		return false
	}
}

// Dropped returns the number of entries lost to a full buffer.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// Run records queued entries until ctx is done, then flushes what is left.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.flush(ctx)
			return nil
		case e := <-w.in:
			w.write(ctx, e)
		}
	}
}

func (w *Writer) flush(ctx context.Context) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for {
		select {
		case e := <-w.in:
			w.write(fctx, e)
		default:
			return
		}
	}
}

func (w *Writer) write(ctx context.Context, e Entry) {
	if _, err := w.rec.Record(ctx, e); err != nil {
		w.logger.Error("failed to record journal entry", "slot", e.Slot, "outcome", e.Outcome, "error", err)
	}
}

// Pruner is the retention side of the journal.
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// RunPruner prunes once immediately and then every interval until ctx is done.
func RunPruner(ctx context.Context, p Pruner, retention, interval time.Duration) error {
	logger := log.WithComponent("journal")
	prune := func() {
		n, err := p.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("journal prune failed", "error", err)
			}
			return
		}
		if n > 0 {
			logger.Info("journal pruned", "deleted", n, "retention", retention)
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			prune()
		}
	}
}
