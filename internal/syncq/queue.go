// Package syncq propagates resonance milestones to the external ledger.
//
// It is a durable-in-memory queue with a single consumer. Every
// submission runs under one global lock: the ledger requires strictly
// monotonic per-signer sequence numbers, and two concurrent submissions
// would corrupt that sequence. Everything else in this package exists
// to feed that one serialized call safely.
package syncq

import (
	"context"
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"resogate/internal/ledger"
)

// Job is one pending ledger update.
type Job struct {
	ID          string
	Address     string
	TargetScore int
	EnqueuedAt  time.Time
	Retries     int
}

// Config tunes the queue.
type Config struct {
	// QueueSize bounds the number of queued jobs.
	QueueSize int

	// MaxRetries is the retry ceiling; a job failing more often is
	// abandoned and surfaced through metrics, never retried again.
	MaxRetries int

	// RetryDelay is the fixed wait before a failed job re-enters the
	// queue.
	RetryDelay time.Duration

	// PullTimeout bounds the consumer's blocking wait so it can run
	// liveness checks; it is not a retry signal.
	PullTimeout time.Duration

	// SubmitTimeout bounds one ledger submission including
	// confirmation; past it the attempt counts as failed.
	SubmitTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:     1024,
		MaxRetries:    3,
		RetryDelay:    5 * time.Minute,
		PullTimeout:   10 * time.Second,
		SubmitTimeout: 120 * time.Second,
	}
}

// CommitFunc is invoked after the ledger confirms a submission.
type CommitFunc func(ctx context.Context, address string, targetScore int, txID string)

// Queue is the sync queue plus its single consumer loop.
type Queue struct {
	log *slog.Logger
	cfg Config

	client   ledger.Client
	onCommit CommitFunc

	jobs chan Job

	// submitMu is the global submission lock. Nothing may call
	// client.SubmitUpdate without holding it.
	submitMu sync.Mutex

	mu        sync.Mutex
	queued    map[string]int // address -> queued target, for dedup
	committed map[string]int // address -> last confirmed ledger value

	retryWG sync.WaitGroup

	depth     prometheus.Gauge
	inFlight  prometheus.Gauge
	commits   prometheus.Counter
	retries   prometheus.Counter
	abandoned prometheus.Counter
}

// Option configures the queue.
type Option func(*Queue)

// WithConfig overrides the default configuration.
func WithConfig(cfg Config) Option {
	return func(q *Queue) { q.cfg = cfg }
}

// WithCommitHook installs a callback run after each confirmed
// submission (e.g. to mark the account row synced).
func WithCommitHook(fn CommitFunc) Option {
	return func(q *Queue) { q.onCommit = fn }
}

// WithMetrics registers the queue's collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(q *Queue) { q.registerMetrics(reg) }
}

// New constructs a queue. The consumer does not run until Run is
// called.
func New(log *slog.Logger, client ledger.Client, opts ...Option) (*Queue, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	q := &Queue{
		log:       log,
		cfg:       DefaultConfig(),
		client:    client,
		queued:    make(map[string]int),
		committed: make(map[string]int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	if q.cfg.QueueSize <= 0 || q.cfg.MaxRetries < 0 || q.cfg.PullTimeout <= 0 || q.cfg.SubmitTimeout <= 0 {
		return nil, ErrConfig
	}
	q.jobs = make(chan Job, q.cfg.QueueSize)
	return q, nil
}

func (q *Queue) registerMetrics(reg prometheus.Registerer) {
	q.depth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "resogate", Subsystem: "syncq", Name: "depth",
		Help: "Jobs currently queued for ledger submission.",
	})
	q.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "resogate", Subsystem: "syncq", Name: "in_flight",
		Help: "Submissions currently in flight (0 or 1).",
	})
	q.commits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "resogate", Subsystem: "syncq", Name: "committed_total",
		Help: "Ledger submissions confirmed.",
	})
	q.retries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "resogate", Subsystem: "syncq", Name: "retried_total",
		Help: "Failed submissions re-queued for retry.",
	})
	q.abandoned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "resogate", Subsystem: "syncq", Name: "abandoned_total",
		Help: "Jobs dropped after exceeding the retry ceiling. Alert on this.",
	})
	if reg != nil {
		reg.MustRegister(q.depth, q.inFlight, q.commits, q.retries, q.abandoned)
	}
}

// Enqueue queues a ledger update. Enqueueing an address that is already
// queued with the same target is a no-op; a different target replaces
// the dedup slot so the newest value wins once the older job drains.
func (q *Queue) Enqueue(address string, targetScore int) error {
	q.mu.Lock()
	if t, ok := q.queued[address]; ok && t == targetScore {
		q.mu.Unlock()
		return nil
	}
	q.queued[address] = targetScore
	q.mu.Unlock()

	job := Job{
		ID:          newJobID(),
		Address:     address,
		TargetScore: targetScore,
		EnqueuedAt:  time.Now().UTC(),
	}
	return q.push(job)
}

func (q *Queue) push(job Job) error {
	select {
	case q.jobs <- job:
		if q.depth != nil {
			q.depth.Set(float64(len(q.jobs)))
		}
		q.log.Info("syncq.enqueue", "job_id", job.ID, "address", shortAddr(job.Address), "target", job.TargetScore, "retries", job.Retries)
		return nil
	default:
		q.clearQueued(job.Address)
		return ErrQueueFull
	}
}

func (q *Queue) clearQueued(address string) {
	q.mu.Lock()
	delete(q.queued, address)
	q.mu.Unlock()
}

// Depth returns the number of queued jobs (operational visibility).
func (q *Queue) Depth() int { return len(q.jobs) }

// LastCommitted returns the last value confirmed for an address, if
// any. The aggregator's downward-sync guard reads this cache.
func (q *Queue) LastCommitted(address string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	v, ok := q.committed[address]
	return v, ok
}

// Run is the consumer loop. It exits when ctx is cancelled, after
// waiting for any scheduled retries to resolve (they observe the same
// ctx and give up promptly).
func (q *Queue) Run(ctx context.Context) {
	q.log.Info("syncq.start", "max_retries", q.cfg.MaxRetries, "retry_delay", q.cfg.RetryDelay)
	timer := time.NewTimer(q.cfg.PullTimeout)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(q.cfg.PullTimeout)

		select {
		case <-ctx.Done():
			q.retryWG.Wait()
			q.log.Info("syncq.stop", "queued", len(q.jobs))
			return
		case job := <-q.jobs:
			if q.depth != nil {
				q.depth.Set(float64(len(q.jobs)))
			}
			q.process(ctx, job)
		case <-timer.C:
			// Liveness tick only; the pull timeout is not a retry
			// signal.
			q.log.Debug("syncq.idle", "depth", len(q.jobs))
		}
	}
}

func (q *Queue) process(ctx context.Context, job Job) {
	q.clearQueued(job.Address)

	submitCtx, cancel := context.WithTimeout(ctx, q.cfg.SubmitTimeout)
	defer cancel()

	// Global submission lock: per-signer sequence numbers on the
	// ledger are only safe under strict serialization.
	q.submitMu.Lock()
	if q.inFlight != nil {
		q.inFlight.Set(1)
	}
	txID, err := q.client.SubmitUpdate(submitCtx, job.Address, job.TargetScore)
	if q.inFlight != nil {
		q.inFlight.Set(0)
	}
	q.submitMu.Unlock()

	if err == nil {
		q.mu.Lock()
		q.committed[job.Address] = job.TargetScore
		q.mu.Unlock()
		if q.commits != nil {
			q.commits.Inc()
		}
		q.log.Info("syncq.commit", "job_id", job.ID, "address", shortAddr(job.Address), "target", job.TargetScore, "tx_id", txID)
		if q.onCommit != nil {
			q.onCommit(ctx, job.Address, job.TargetScore, txID)
		}
		return
	}

	if ctx.Err() != nil {
		// Shutdown mid-submission: drop cleanly, the milestone will be
		// recomputed after restart from persisted score state.
		q.log.Warn("syncq.abort_shutdown", "job_id", job.ID, "err", err)
		return
	}

	job.Retries++
	if job.Retries > q.cfg.MaxRetries {
		if q.abandoned != nil {
			q.abandoned.Inc()
		}
		q.log.Error("syncq.abandon", "job_id", job.ID, "address", shortAddr(job.Address), "target", job.TargetScore, "retries", job.Retries-1, "err", err)
		return
	}

	if q.retries != nil {
		q.retries.Inc()
	}
	q.log.Warn("syncq.retry_scheduled", "job_id", job.ID, "attempt", job.Retries, "delay", q.cfg.RetryDelay, "err", err)

	q.retryWG.Add(1)
	go func(job Job) {
		defer q.retryWG.Done()
		select {
		case <-ctx.Done():
		case <-time.After(q.cfg.RetryDelay):
			q.mu.Lock()
			q.queued[job.Address] = job.TargetScore
			q.mu.Unlock()
			if err := q.push(job); err != nil {
				q.log.Error("syncq.requeue_fail", "job_id", job.ID, "err", err)
			}
		}
	}(job)
}

func newJobID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// shortAddr is the log-friendly address prefix.
func shortAddr(address string) string {
	if len(address) <= 10 {
		return address
	}
	return address[:10]
}
