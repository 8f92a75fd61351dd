// Package collector implements the metadata collection unit: fetch a URL,
// stamp timestamps, and upsert the result.
package collector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pcranston/metainventory/internal/metadata"
)

// Collector combines the fetcher and store into one synchronous operation.
// The publisher is optional; when nil, collection events are not emitted.
type Collector struct {
	fetcher   metadata.Fetcher
	store     metadata.Store
	publisher metadata.Publisher
	clock     metadata.Clock
	logger    *zap.Logger
}

// New constructs a Collector.
func New(
	fetcher metadata.Fetcher,
	store metadata.Store,
	publisher metadata.Publisher,
	clock metadata.Clock,
	logger *zap.Logger,
) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		fetcher:   fetcher,
		store:     store,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

// CollectAndStore fetches metadata for url and persists it. Fetch failures
// abort before any write, so no partial record is ever stored. One "now" is
// captured after the fetch and used for both timestamps of the candidate
// record; the store's conditional write keeps the original CreatedAt when the
// URL was collected before. The returned record is the persisted view.
func (c *Collector) CollectAndStore(ctx context.Context, url string) (metadata.Record, error) {
	result, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return metadata.Record{}, err
	}

	now := c.clock.Now()
	candidate := metadata.Record{
		URL:        url,
		Headers:    result.Headers,
		Cookies:    result.Cookies,
		PageSource: result.Body,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	stored, err := c.store.Upsert(ctx, candidate, now)
	if err != nil {
		return metadata.Record{}, fmt.Errorf("store metadata for %s: %w", url, err)
	}

	c.logger.Info("metadata collected",
		zap.String("url", url),
		zap.Int("status", result.StatusCode),
		zap.Int("headers", len(result.Headers)),
		zap.Int("cookies", len(result.Cookies)),
		zap.Int("body_bytes", len(result.Body)),
	)

	c.publishEvent(ctx, metadata.CollectionEvent{
		URL:         url,
		StatusCode:  result.StatusCode,
		BodyBytes:   len(result.Body),
		CollectedAt: now,
	})

	return stored, nil
}

// publishEvent notifies downstream consumers of a completed collection.
// Publishing is best-effort; a failure never fails the collection.
func (c *Collector) publishEvent(ctx context.Context, event metadata.CollectionEvent) {
	if c.publisher == nil {
		return
	}
	if _, err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.Warn("publish collection event failed",
			zap.String("url", event.URL),
			zap.Error(err),
		)
	}
}
