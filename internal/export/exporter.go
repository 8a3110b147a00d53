// Package export periodically publishes bucketed event counts, the
// evaluation feed for CTA experiments, to external storage.
package export

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/ignite/fan-automation/internal/domain"
	"github.com/ignite/fan-automation/internal/pkg/logger"
)

// Counter is the event log aggregation the exporter reads.
type Counter interface {
	Counts(ctx context.Context, f domain.CountFilter) ([]domain.BucketCount, error)
}

// Sink stores one snapshot under key.
type Sink interface {
	Name() string
	SaveCounts(ctx context.Context, key string, snap domain.CountSnapshot) error
}

// Config holds exporter settings.
type Config struct {
	Interval time.Duration
	Bucket   domain.BucketSize
	Prefix   string
}

// Exporter exports the counts of each completed interval.
type Exporter struct {
	counter Counter
	sink    Sink
	cfg     Config
	now     func() time.Time
}

func NewExporter(counter Counter, sink Sink, cfg Config) *Exporter {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if !cfg.Bucket.Valid() {
		cfg.Bucket = domain.BucketHour
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "event-counts"
	}
	return &Exporter{counter: counter, sink: sink, cfg: cfg, now: time.Now}
}

// Start exports on every interval tick until ctx is cancelled.
func (e *Exporter) Start(ctx context.Context) error {
	logger.Info("export: starting", "sink", e.sink.Name(), "interval", e.cfg.Interval.String())
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			from, to := e.lastWindow()
			if _, err := e.ExportWindow(ctx, from, to); err != nil {
				logger.Error("export: failed", "error", err.Error())
			}
		}
	}
}

// lastWindow is the most recent completed interval, aligned to the bucket.
func (e *Exporter) lastWindow() (time.Time, time.Time) {
	to := e.cfg.Bucket.Truncate(e.now())
	return to.Add(-e.cfg.Interval), to
}

// ExportWindow exports counts in [from, to) and returns the object key.
func (e *Exporter) ExportWindow(ctx context.Context, from, to time.Time) (string, error) {
	counts, err := e.counter.Counts(ctx, domain.CountFilter{From: from, To: to, Bucket: e.cfg.Bucket})
	if err != nil {
		return "", fmt.Errorf("count events: %w", err)
	}
	snap := domain.CountSnapshot{
		GeneratedAt: e.now().UTC(),
		From:        from.UTC(),
		To:          to.UTC(),
		Bucket:      e.cfg.Bucket,
		Counts:      counts,
	}
	key := path.Join(e.cfg.Prefix, from.UTC().Format("2006/01/02/150405")+".json")
	if err := e.sink.SaveCounts(ctx, key, snap); err != nil {
		return "", fmt.Errorf("save to %s: %w", e.sink.Name(), err)
	}
	logger.Info("export: counts exported", "key", key, "rows", len(counts))
	return key, nil
}
