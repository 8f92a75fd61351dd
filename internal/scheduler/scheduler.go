// Package scheduler deduplicates background metadata collections: at most one
// in-flight collection job per URL at any time.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pcranston/metainventory/internal/metadata"
	"github.com/pcranston/metainventory/internal/metrics"
)

// collectFunc matches Collector.CollectAndStore.
type collectFunc func(ctx context.Context, url string) (metadata.Record, error)

// Scheduler tracks in-flight URLs and launches background collection jobs.
// The in-flight set is the only mutable shared state; the check-and-insert is
// a single step under the mutex, so two concurrent calls for the same URL can
// never both launch a job.
type Scheduler struct {
	mu       sync.Mutex
	inflight map[string]struct{}

	collect collectFunc
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// New constructs a Scheduler. timeout bounds each background collection;
// zero means no deadline.
func New(collect collectFunc, timeout time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		inflight: make(map[string]struct{}),
		collect:  collect,
		timeout:  timeout,
		logger:   logger,
	}
}

// TrySchedule launches a background collection for url unless one is already
// in flight. It returns true if a new job was launched and false otherwise,
// and never blocks on network I/O. The job runs to completion on a detached
// context; its failure is logged, never propagated.
func (s *Scheduler) TrySchedule(url string) bool {
	s.mu.Lock()
	if _, running := s.inflight[url]; running {
		s.mu.Unlock()
		s.logger.Debug("collection already in flight", zap.String("url", url))
		return false
	}
	s.inflight[url] = struct{}{}
	s.mu.Unlock()

	metrics.IncInflightCollections()
	s.wg.Add(1)
	go s.run(url)

	s.logger.Info("background collection scheduled", zap.String("url", url))
	return true
}

// InFlight reports whether a background collection is currently running for
// url.
func (s *Scheduler) InFlight(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, running := s.inflight[url]
	return running
}

// Wait blocks until all launched background jobs finish. Used on shutdown
// and in tests; callers that need a deadline wrap it in a goroutine.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(url string) {
	defer s.wg.Done()
	// The entry is reaped whatever the outcome, so a later request can
	// schedule a fresh attempt after a failure.
	defer s.release(url)

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	record, err := s.collect(ctx, url)
	if err != nil {
		metrics.ObserveCollection("background", "failure", time.Since(start), 0)
		s.logger.Error("background collection failed",
			zap.String("url", url),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveCollection("background", "success", time.Since(start), len(record.PageSource))
	s.logger.Info("background collection completed",
		zap.String("url", url),
		zap.Duration("duration", time.Since(start)),
	)
}

func (s *Scheduler) release(url string) {
	s.mu.Lock()
	delete(s.inflight, url)
	s.mu.Unlock()
	metrics.DecInflightCollections()
}
