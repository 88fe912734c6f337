package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/lmserver/pkg/telemetry/metrics"
)

// Drop reasons reported to metrics.
const (
	DropQueueFull = "queue_full"
	DropClosed    = "closed"
	DropWrite     = "write_error"
)

// RecorderConfig configures the async recorder.
type RecorderConfig struct {
	// AsyncBuffer is the queue length. Entries beyond it are dropped.
	AsyncBuffer int

	// WriteTimeout bounds a single store write.
	WriteTimeout time.Duration
}

// Recorder writes entries to a Store from a background goroutine so that
// request handlers never wait on storage.
type Recorder struct {
	store   Store
	config  RecorderConfig
	metrics *metrics.Collector
	logger  *slog.Logger

	queue chan *Entry
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts a recorder for store.
func NewRecorder(store Store, cfg RecorderConfig, collector *metrics.Collector) *Recorder {
	if cfg.AsyncBuffer <= 0 {
		cfg.AsyncBuffer = 1000
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	r := &Recorder{
		store:   store,
		config:  cfg,
		metrics: collector,
		logger:  slog.Default().With("component", "ledger.recorder"),
		queue:   make(chan *Entry, cfg.AsyncBuffer),
	}
	r.wg.Add(1)
	go r.worker()

	r.logger.Debug("ledger recorder started",
		"async_buffer", cfg.AsyncBuffer,
		"write_timeout", cfg.WriteTimeout,
	)
	return r
}

// Record enqueues entry without blocking. Missing ID and Time are filled
// in. It reports false when the entry was dropped.
func (r *Recorder) Record(entry *Entry) bool {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop(entry, DropClosed)
		return false
	}
	select {
	case r.queue <- entry:
		return true
	default:
		r.drop(entry, DropQueueFull)
		return false
	}
}

func (r *Recorder) drop(entry *Entry, reason string) {
	r.metrics.RecordLedgerDrop(reason)
	r.logger.Warn("dropping ledger entry",
		"reason", reason,
		"request_id", entry.RequestID,
		"queue_capacity", cap(r.queue),
	)
}

// Close stops accepting entries, writes everything queued and returns.
// It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Debug("ledger recorder stopped")
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for entry := range r.queue {
		r.write(entry)
	}
}

func (r *Recorder) write(entry *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	if err := r.store.Record(ctx, entry); err != nil {
		r.metrics.RecordLedgerDrop(DropWrite)
		r.logger.Error("failed to store ledger entry",
			"entry_id", entry.ID,
			"request_id", entry.RequestID,
			"error", err,
		)
		return
	}

	if d := time.Since(start); d > r.config.WriteTimeout/2 {
		r.logger.Warn("slow ledger write",
			"entry_id", entry.ID,
			"duration_ms", d.Milliseconds(),
		)
	}
}
