// Package service exposes the metadata operations consumed by the HTTP
// handlers: synchronous collection and the read path with background
// scheduling on a miss.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pcranston/metainventory/internal/collector"
	"github.com/pcranston/metainventory/internal/metadata"
	"github.com/pcranston/metainventory/internal/metrics"
	"github.com/pcranston/metainventory/internal/scheduler"
)

// Metadata orchestrates the store, the collection unit, and the dedup
// scheduler.
type Metadata struct {
	store     metadata.Store
	collector *collector.Collector
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
}

// New constructs the service.
func New(
	store metadata.Store,
	coll *collector.Collector,
	sched *scheduler.Scheduler,
	logger *zap.Logger,
) *Metadata {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Metadata{
		store:     store,
		collector: coll,
		scheduler: sched,
		logger:    logger,
	}
}

// CreateOrRefresh collects metadata for url synchronously and returns the
// persisted record. Fetch and upstream failures propagate to the caller.
func (m *Metadata) CreateOrRefresh(ctx context.Context, url string) (metadata.Record, error) {
	start := time.Now()
	record, err := m.collector.CollectAndStore(ctx, url)
	if err != nil {
		metrics.ObserveCollection("sync", "failure", time.Since(start), 0)
		return metadata.Record{}, err
	}
	metrics.ObserveCollection("sync", "success", time.Since(start), len(record.PageSource))
	return record, nil
}

// Resolve looks up url in the store. On a hit it returns the record with
// hit=true and no side effects. On a miss it schedules a background
// collection (a no-op if one is already in flight) and returns hit=false
// immediately, without waiting on the network.
func (m *Metadata) Resolve(ctx context.Context, url string) (metadata.Record, bool, error) {
	record, err := m.store.Get(ctx, url)
	if err == nil {
		return record, true, nil
	}
	if !errors.Is(err, metadata.ErrNotFound) {
		return metadata.Record{}, false, fmt.Errorf("lookup metadata for %s: %w", url, err)
	}

	scheduled := m.scheduler.TrySchedule(url)
	m.logger.Info("cache miss",
		zap.String("url", url),
		zap.Bool("scheduled", scheduled),
	)
	return metadata.Record{}, false, nil
}
