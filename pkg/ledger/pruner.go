package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/lmserver/pkg/config"
)

// Pruner enforces the retention policy on a Store, on demand or on a cron
// schedule.
type Pruner struct {
	store  Store
	config config.RetentionConfig
	logger *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	running bool
}

// NewPruner creates a pruner. Nothing runs until Prune or Start.
func NewPruner(store Store, cfg config.RetentionConfig) *Pruner {
	return &Pruner{
		store:  store,
		config: cfg,
		logger: slog.Default().With("component", "ledger.retention"),
	}
}

// Prune deletes entries older than the retention period, then the oldest
// entries beyond MaxRecords. It returns the number of entries deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	var total int64

	if p.config.Days > 0 {
		cutoff := time.Now().AddDate(0, 0, -p.config.Days)
		deleted, err := p.store.Delete(ctx, &Query{Until: &cutoff})
		if err != nil {
			return total, fmt.Errorf("prune by age failed: %w", err)
		}
		total += deleted
	}

	if p.config.MaxRecords > 0 {
		deleted, err := p.pruneByCount(ctx)
		if err != nil {
			return total, fmt.Errorf("prune by count failed: %w", err)
		}
		total += deleted
	}

	if total > 0 {
		p.logger.Info("ledger pruned",
			"deleted", total,
			"retention_days", p.config.Days,
			"max_records", p.config.MaxRecords,
		)
	}
	return total, nil
}

func (p *Pruner) pruneByCount(ctx context.Context) (int64, error) {
	count, err := p.store.Count(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	excess := count - p.config.MaxRecords
	if excess <= 0 {
		return 0, nil
	}

	oldest, err := p.store.Query(ctx, &Query{Oldest: true, Limit: int(excess)})
	if err != nil {
		return 0, fmt.Errorf("failed to query entries: %w", err)
	}
	if len(oldest) == 0 {
		return 0, nil
	}

	// Entries sharing the cutoff timestamp are removed together.
	cutoff := oldest[len(oldest)-1].Time
	return p.store.Delete(ctx, &Query{Until: &cutoff})
}

// Start schedules Prune on the configured cron spec until ctx is done or
// Stop is called. An empty schedule disables scheduling.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	if p.config.Schedule == "" {
		p.logger.Info("retention schedule not configured, skipping scheduler")
		return nil
	}

	c := cron.New()
	id, err := c.AddFunc(p.config.Schedule, func() {
		if _, err := p.Prune(ctx); err != nil {
			p.logger.Error("scheduled pruning failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", p.config.Schedule, err)
	}
	c.Start()
	p.cron = c
	p.entryID = id
	p.running = true

	p.logger.Info("retention scheduler started",
		"schedule", p.config.Schedule,
		"retention_days", p.config.Days,
		"max_records", p.config.MaxRecords,
	)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running prune to finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	<-p.cron.Stop().Done()
	p.running = false
	p.logger.Info("retention scheduler stopped")
}

// NextRun returns the next scheduled prune, or nil when not scheduled.
func (p *Pruner) NextRun() *time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	next := p.cron.Entry(p.entryID).Next
	if next.IsZero() {
		return nil
	}
	return &next
}
