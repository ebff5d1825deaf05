// Package archive periodically exports the review queue as JSONL to
// durable destinations such as an S3 bucket.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Destination is the interface for an archive target.
type Destination interface {
	// Write stores the JSONL payload, replacing any previous snapshot.
	Write(ctx context.Context, data []byte) error
}

// Scheduler runs periodic exports to one or more destinations.
type Scheduler struct {
	source       Lister
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports from source to the given
// destinations at the specified interval.
func NewScheduler(source Lister, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:       source,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// Start begins periodic export. It runs an initial export immediately, then
// on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current export (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.Once(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Once(ctx)
		}
	}
}

// Once exports the queue and writes it to every destination. Destination
// failures are logged and do not stop the remaining writes.
func (s *Scheduler) Once(ctx context.Context) {
	var buf bytes.Buffer
	n, err := ExportJSONL(ctx, s.source, &buf)
	if err != nil {
		s.logger.Error("archive export failed", "err", err)
		return
	}
	data := buf.Bytes()

	failed := 0
	for i, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			failed++
			s.logger.Error("archive destination write failed", "destination", destinationName(i, dest), "err", err)
		}
	}

	s.logger.Info("archive completed",
		"items", n,
		"destinations", len(s.destinations),
		"failed", failed,
		"bytes", len(data),
	)
}

func destinationName(i int, dest Destination) string {
	if s, ok := dest.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%d", i)
}
