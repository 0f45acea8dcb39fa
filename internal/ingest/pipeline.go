// Package ingest pulls curated product lists from the upstream API and folds
// them into the durable price-history ledger.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jjeknow/coupang-price-sub000/internal/store"
	"github.com/jjeknow/coupang-price-sub000/internal/upstream"
)

// HistoryRetention is how long price history points are kept. Older points
// are hard deleted on every run.
const HistoryRetention = 30 * 24 * time.Hour

// Fetcher is the slice of the upstream client the pipeline needs.
type Fetcher interface {
	Goldbox(ctx context.Context) ([]upstream.Product, error)
	BestCategory(ctx context.Context, categoryID int64, limit int) ([]upstream.Product, error)
}

// Config tunes one pipeline instance.
type Config struct {
	// Categories are the fixed catalog categories swept each run.
	Categories []int64
	// CategoryLimit bounds each best-of-category list.
	CategoryLimit int
	// BatchDelay is the pause between category batches, keeping a full run
	// inside the per-minute quota.
	BatchDelay time.Duration
	Retention  time.Duration
}

// DefaultConfig sweeps the main catalog roots.
func DefaultConfig() Config {
	return Config{
		Categories:    []int64{1001, 1002, 1010, 1012, 1016},
		CategoryLimit: 20,
		BatchDelay:    5 * time.Second,
		Retention:     HistoryRetention,
	}
}

// Summary is the result of one run. The pipeline never returns an error;
// everything that went wrong is in Errors.
type Summary struct {
	RunID      string   `json:"runId"`
	Items      int      `json:"items"`
	Categories int      `json:"categories"`
	Errors     []string `json:"errors"`
	Success    bool     `json:"success"`
	DurationMS int64    `json:"durationMs"`
}

// Pipeline is the scheduled ingestion job.
type Pipeline struct {
	store   store.Store
	fetcher Fetcher
	cfg     Config
	running atomic.Bool
	now     func() time.Time
	sleep   func(time.Duration)
}

func New(s store.Store, f Fetcher, cfg Config) *Pipeline {
	return &Pipeline{
		store:   s,
		fetcher: f,
		cfg:     cfg,
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// Run performs one full ingestion pass. Runs must not overlap; a second
// caller gets a failed summary immediately.
func (p *Pipeline) Run(ctx context.Context) Summary {
	if !p.running.CompareAndSwap(false, true) {
		return Summary{
			RunID:   uuid.NewString(),
			Errors:  []string{"ingestion already running"},
			Success: false,
		}
	}
	defer p.running.Store(false)

	started := p.now()
	summary := Summary{
		RunID:  uuid.NewString(),
		Errors: []string{},
	}
	log.Printf("ingest: run %s started", summary.RunID)

	rateLimited := p.runGoldbox(ctx, &summary)

	if !rateLimited {
		p.sleep(p.cfg.BatchDelay)
		p.runCategories(ctx, &summary)
	}

	p.purgeHistory(&summary)

	summary.Success = len(summary.Errors) == 0
	summary.DurationMS = p.now().Sub(started).Milliseconds()
	log.Printf("ingest: run %s done items=%d categories=%d errors=%d success=%v duration=%dms",
		summary.RunID, summary.Items, summary.Categories, len(summary.Errors), summary.Success, summary.DurationMS)
	return summary
}

// runGoldbox ingests the daily highlights list. Returns true when the run
// was rate limited and the category sweep should be skipped.
func (p *Pipeline) runGoldbox(ctx context.Context, summary *Summary) bool {
	items, err := p.fetcher.Goldbox(ctx)
	if err != nil {
		p.recordFetchError(summary, "goldbox", err)
		var rle *upstream.RateLimitError
		return errors.As(err, &rle)
	}
	p.upsertBatch(summary, items)
	return false
}

func (p *Pipeline) runCategories(ctx context.Context, summary *Summary) {
	for _, categoryID := range p.cfg.Categories {
		items, err := p.fetcher.BestCategory(ctx, categoryID, p.cfg.CategoryLimit)
		if err != nil {
			p.recordFetchError(summary, fmt.Sprintf("category %d", categoryID), err)
			var rle *upstream.RateLimitError
			if errors.As(err, &rle) {
				// Quota is gone; no point sweeping the remaining categories.
				return
			}
			continue
		}
		p.upsertBatch(summary, items)
		summary.Categories++
		p.sleep(p.cfg.BatchDelay)
	}
}

// upsertBatch persists one fetched list. A single bad item is logged and
// skipped, never aborting the batch.
func (p *Pipeline) upsertBatch(summary *Summary, items []upstream.Product) {
	now := p.now()
	for _, item := range items {
		if err := upsertObservation(p.store, item, now); err != nil {
			log.Printf("ingest: %v", err)
			summary.Errors = append(summary.Errors, err.Error())
			continue
		}
		summary.Items++
	}
}

func (p *Pipeline) purgeHistory(summary *Summary) {
	retention := p.cfg.Retention
	if retention == 0 {
		retention = HistoryRetention
	}
	cutoff := p.now().Add(-retention)
	removed, err := p.store.PurgeHistoryBefore(cutoff)
	if err != nil {
		log.Printf("ingest: purge history: %v", err)
		summary.Errors = append(summary.Errors, fmt.Sprintf("purge history: %v", err))
		return
	}
	if removed > 0 {
		log.Printf("ingest: purged %d history points older than %s", removed, cutoff.Format("2006-01-02"))
	}
}

func (p *Pipeline) recordFetchError(summary *Summary, stage string, err error) {
	log.Printf("ingest: fetch %s: %v", stage, err)
	summary.Errors = append(summary.Errors, fmt.Sprintf("fetch %s: %v", stage, err))
}
