package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/tuyalink-core/internal/infrastructure/logging"
)

// BatchResult is the complete result of one batch: per-operation outcomes
// in the same order the operations were submitted, plus rollup counts.
// A batch never fails as a whole; partial failure is the normal case.
type BatchResult struct {
	BatchID   string        `json:"batch_id"`
	Outcomes  []Outcome     `json:"outcomes"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Batcher fans a batch of operations out across devices. Operations for
// distinct devices run concurrently up to the fan-out limit; operations
// for the same device run sequentially in submission order, so a batch
// like [lamp on, lamp brightness 50] behaves as written.
type Batcher struct {
	dispatcher *Dispatcher
	fanout     int
	logger     *logging.Logger
}

// NewBatcher wires a batcher over the dispatcher. fanout bounds how many
// devices are worked concurrently.
func NewBatcher(dispatcher *Dispatcher, fanout int, logger *logging.Logger) *Batcher {
	if fanout < 1 {
		fanout = 1
	}
	return &Batcher{
		dispatcher: dispatcher,
		fanout:     fanout,
		logger:     logger.With("component", "batch"),
	}
}

// Run dispatches every operation in the batch and waits for all of them.
// Each operation reaches its own terminal outcome independently; one
// device failing never aborts work on the others.
func (b *Batcher) Run(ctx context.Context, ops []Operation) BatchResult {
	start := time.Now()
	result := BatchResult{
		BatchID:  uuid.NewString(),
		Outcomes: make([]Outcome, len(ops)),
	}
	if len(ops) == 0 {
		return result
	}

	// Index operations by device, preserving submission order within each
	// device so same-device commands are dispatched one after another.
	type indexed struct {
		pos int
		op  Operation
	}
	byDevice := make(map[string][]indexed)
	order := make([]string, 0, len(ops))
	for i, op := range ops {
		if _, seen := byDevice[op.DeviceID]; !seen {
			order = append(order, op.DeviceID)
		}
		byDevice[op.DeviceID] = append(byDevice[op.DeviceID], indexed{pos: i, op: op})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.fanout)
	for _, deviceID := range order {
		group := byDevice[deviceID]
		g.Go(func() error {
			for _, item := range group {
				result.Outcomes[item.pos] = b.dispatcher.Dispatch(gctx, item.op)
			}
			return nil
		})
	}
	// Workers never return errors; outcomes carry all failure detail.
	g.Wait() //nolint:errcheck

	for _, out := range result.Outcomes {
		if out.OK {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	result.Elapsed = time.Since(start)

	b.logger.Info("batch complete",
		"batch_id", result.BatchID,
		"operations", len(ops),
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"elapsed", result.Elapsed)
	return result
}
