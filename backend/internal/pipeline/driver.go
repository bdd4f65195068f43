package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"oliver-os/backend/internal/capture"
	"oliver-os/backend/internal/graph"
	"oliver-os/backend/pkg/logger"
)

// Processor organizes one memory. Satisfied by organizer.Organizer.
type Processor interface {
	Process(ctx context.Context, memoryID string) (*graph.Node, error)
}

// Driver polls the capture queue and feeds pending tickets to the processor.
// Tickets are worked one at a time in queue order; a failed ticket is marked
// failed and left alone, retries come from a fresh enqueue.
type Driver struct {
	captures  *capture.Store
	processor Processor
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

// NewDriver builds a queue driver.
func NewDriver(captures *capture.Store, processor Processor, interval time.Duration, batchSize int) *Driver {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Driver{
		captures:  captures,
		processor: processor,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger.Named("pipeline"),
	}
}

// Run polls until the context is cancelled. It drains one batch immediately
// on start so queued work does not wait out the first tick.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.Info("queue driver started",
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize))

	d.drain(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("queue driver stopped")
			return ctx.Err()
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

// drain pulls one batch of pending tickets and processes them in order.
func (d *Driver) drain(ctx context.Context) {
	items, err := d.captures.PullPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("failed to pull pending tickets", zap.Error(err))
		return
	}
	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		d.work(ctx, item)
	}
}

func (d *Driver) work(ctx context.Context, item *capture.QueueItem) {
	if err := d.captures.MarkProcessing(ctx, item.ID); err != nil {
		d.logger.Error("failed to mark ticket processing",
			zap.String("ticket_id", item.ID), zap.Error(err))
		return
	}

	node, err := d.process(ctx, item.MemoryID)
	if err != nil {
		d.logger.Warn("memory processing failed",
			zap.String("ticket_id", item.ID),
			zap.String("memory_id", item.MemoryID),
			zap.Error(err))
		if markErr := d.captures.MarkFailed(ctx, item.ID, err); markErr != nil {
			d.logger.Error("failed to mark ticket failed",
				zap.String("ticket_id", item.ID), zap.Error(markErr))
		}
		return
	}

	if err := d.captures.MarkCompleted(ctx, item.ID); err != nil {
		d.logger.Error("failed to mark ticket completed",
			zap.String("ticket_id", item.ID), zap.Error(err))
		return
	}
	d.logger.Debug("ticket completed",
		zap.String("ticket_id", item.ID),
		zap.String("memory_id", item.MemoryID),
		zap.String("node_id", node.ID))
}

// process shields the driver loop from a panicking processor.
func (d *Driver) process(ctx context.Context, memoryID string) (node *graph.Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panicked: %v", r)
		}
	}()
	return d.processor.Process(ctx, memoryID)
}
