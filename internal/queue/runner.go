package queue

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"sync"
	"time"

	"github.com/lsxsync/queue-service/internal/configstore"
	"github.com/lsxsync/queue-service/internal/platform/apperrors"
	"github.com/lsxsync/queue-service/internal/platform/logger"
	"github.com/lsxsync/queue-service/internal/platform/metrics"
)

// HandlerFunc processes one claimed job. A returned error is classified via
// apperrors and fed to Repository.Fail; a nil error completes the job.
type HandlerFunc func(ctx context.Context, job *Job) error

// lockKey is the advisory-lock key name. Runner instances across replicas
// singleflight on this name so at most one runner drains the queue at a
// time unless vend_queue_disable_singleflight is set (spec.md §4.2, §9).
const lockKey = "ls_runner:all"

// Runner drains the jobs table through a per-type handler catalogue,
// respecting kill switches, per-type concurrency caps, and the advisory
// lock singleflight.
type Runner struct {
	db     *sql.DB
	repo   *Repository
	config *configstore.Store
	logger *logger.Logger

	mu       sync.RWMutex
	handlers map[JobType]HandlerFunc
}

func NewRunner(db *sql.DB, repo *Repository, config *configstore.Store, log *logger.Logger) *Runner {
	return &Runner{
		db:       db,
		repo:     repo,
		config:   config,
		logger:   log,
		handlers: make(map[JobType]HandlerFunc),
	}
}

// RegisterHandler binds a handler to a job type. Called once per type during
// startup wiring before RunContinuous/Run is invoked.
func (rn *Runner) RegisterHandler(jobType JobType, fn HandlerFunc) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	rn.handlers[jobType] = fn
}

func (rn *Runner) handlerFor(jobType JobType) (HandlerFunc, bool) {
	rn.mu.RLock()
	defer rn.mu.RUnlock()
	fn, ok := rn.handlers[jobType]
	return fn, ok
}

// RunContinuous drives Run every tick until ctx is cancelled. The tick is
// fixed for the loop's lifetime; the continuous flag and the batch limit are
// re-read from the config store each tick, and a tick is skipped while the
// flag is false.
func (rn *Runner) RunContinuous(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !rn.config.GetBool(ctx, configstore.FlagVendQueueContinuous, true) {
				continue
			}
			limit := rn.config.GetInt(ctx, configstore.FlagVendQueueBatchLimit, configstore.DefaultRunnerBatchLimit)
			if _, err := rn.Run(ctx, limit, ""); err != nil {
				rn.logger.Error("runner: tick failed", "event", "runner.tick_failed", "error", err)
			}
		}
	}
}

// Run performs one claim-and-dispatch pass across up to limit jobs, optionally
// restricted to a single jobType (spec.md §4.2 run()). It returns a summary
// even on partial failure so callers (the /runner.kick handler) can report it.
func (rn *Runner) Run(ctx context.Context, limit int, jobType JobType) (*ClaimResult, error) {
	if rn.config.GetBool(ctx, configstore.FlagQueueKillAll, false) {
		return &ClaimResult{}, apperrors.New(apperrors.KindInternal, "QUEUE_KILLED", "queue.kill_all is set", nil)
	}
	if !rn.config.GetBool(ctx, configstore.FlagRunnerEnabled, true) {
		return &ClaimResult{}, apperrors.New(apperrors.KindInternal, "RUNNER_DISABLED", "queue.runner.enabled is false", nil)
	}

	singleflightDisabled := rn.config.GetBool(ctx, configstore.FlagVendQueueDisableSingleFl, false)
	var unlock func()
	if !singleflightDisabled {
		acquired, release, err := rn.tryAdvisoryLock(ctx)
		if err != nil {
			return &ClaimResult{}, err
		}
		if !acquired {
			rn.logger.Debug("runner: advisory lock held elsewhere, skipping pass", "event", "runner.lock_busy")
			return &ClaimResult{}, nil
		}
		unlock = release
		defer unlock()
	}

	if limit <= 0 {
		limit = configstore.DefaultRunnerBatchLimit
	}

	jobs, err := rn.claimEligible(ctx, limit, jobType)
	if err != nil {
		return &ClaimResult{}, err
	}

	result := &ClaimResult{Claimed: len(jobs)}
	if len(jobs) == 0 {
		return result, nil
	}

	caps := rn.concurrencyCaps(ctx, jobs)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, job := range jobs {
		sem := caps[job.Type]
		wg.Add(1)
		go func(job *Job) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			metrics.JobClaimedTotal.WithLabelValues(string(job.Type)).Inc()
			outcome := rn.dispatch(ctx, job)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeCompleted:
				result.Completed++
			case outcomeRequeued:
				result.Requeued++
			case outcomeDLQd:
				result.DLQd++
			case outcomeFailed:
				result.Failed++
			}
		}(job)
	}
	wg.Wait()

	return result, nil
}

// claimEligible claims up to limit jobs, excluding any job type currently
// paused via vend_queue_pause.<type> and capping how many of each type are
// claimed by that type's remaining room under
// vend.queue.max_concurrency.<type> (current working count subtracted from
// the configured cap), per spec.md §4.2: "Paused types are excluded" and
// caps apply to "current working count per type" before claiming.
func (rn *Runner) claimEligible(ctx context.Context, limit int, jobType JobType) ([]*Job, error) {
	working, err := rn.repo.WorkingCountsByType(ctx)
	if err != nil {
		return nil, err
	}

	candidates := AllJobTypes
	if jobType != "" {
		candidates = []JobType{jobType}
	}

	var claimed []*Job
	remaining := limit
	for _, t := range candidates {
		if remaining <= 0 {
			break
		}
		if rn.config.GetBool(ctx, configstore.FlagVendQueuePause+string(t), false) {
			continue
		}

		maxConcurrency := rn.config.GetInt(ctx, configstore.FlagVendQueueMaxConcurrency+string(t), configstore.DefaultMaxConcurrencyPerType)
		if maxConcurrency <= 0 {
			maxConcurrency = 1
		}
		room := maxConcurrency - working[t]
		if room <= 0 {
			continue
		}

		batchLimit := room
		if batchLimit > remaining {
			batchLimit = remaining
		}

		jobs, err := rn.repo.ClaimBatch(ctx, batchLimit, t, DefaultLeaseTTL)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, jobs...)
		remaining -= len(jobs)
	}
	return claimed, nil
}

type dispatchOutcome int

const (
	outcomeCompleted dispatchOutcome = iota
	outcomeRequeued
	outcomeDLQd
	outcomeFailed
)

// dispatch runs the registered handler for job.Type, heartbeating while it
// runs, and resolves the terminal Repository call for its outcome.
func (rn *Runner) dispatch(ctx context.Context, job *Job) dispatchOutcome {
	handler, ok := rn.handlerFor(job.Type)
	if !ok {
		rn.logger.Error("runner: no handler registered", "event", "runner.no_handler", "job_id", job.ID, "type", job.Type)
		_ = rn.repo.Fail(ctx, job.ID, FailInternal, "no handler registered for job type "+string(job.Type), job.Attempts < 2)
		return outcomeFailed
	}

	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	go rn.heartbeatLoop(hbCtx, job.ID)

	err := handler(ctx, job)
	cancelHB()

	if err == nil {
		if completeErr := rn.repo.Complete(ctx, job.ID); completeErr != nil {
			rn.logger.Error("runner: complete failed", "event", "runner.complete_failed", "job_id", job.ID, "error", completeErr)
		}
		metrics.JobCompletedTotal.WithLabelValues(string(job.Type)).Inc()
		return outcomeCompleted
	}

	failCode := classifyFailCode(err)
	retryable := apperrors.IsRetryable(err)
	if failCode == FailInternal && job.Attempts >= 2 {
		// internal errors get a single retry; the second failure goes to the DLQ.
		retryable = false
	}
	willDLQ := !retryable || job.Attempts >= job.MaxAttempts
	if failErr := rn.repo.Fail(ctx, job.ID, failCode, err.Error(), retryable); failErr != nil {
		rn.logger.Error("runner: fail() failed", "event", "runner.fail_failed", "job_id", job.ID, "error", failErr)
	}
	outcome := outcomeRequeued
	if willDLQ {
		outcome = outcomeDLQd
		metrics.JobFailedTotal.WithLabelValues(string(job.Type), "dlq").Inc()
	} else {
		metrics.JobFailedTotal.WithLabelValues(string(job.Type), "retry").Inc()
	}
	return outcome
}

func classifyFailCode(err error) FailCode {
	switch apperrors.KindOf(err) {
	case apperrors.KindInvalidInput:
		return FailInvalidInput
	case apperrors.KindUnauthorized:
		return FailUnauthorized
	case apperrors.KindRateLimited:
		return FailRateLimited
	case apperrors.KindBreakerOpen:
		return FailBreakerOpen
	case apperrors.KindTransientVendor:
		return FailTransientVendor
	case apperrors.KindDuplicate:
		return FailDuplicate
	case apperrors.KindValidation:
		return FailValidation
	default:
		return FailInternal
	}
}

// heartbeatLoop extends the job's lease every third of the lease TTL until
// ctx is cancelled by the handler returning.
func (rn *Runner) heartbeatLoop(ctx context.Context, jobID int64) {
	interval := DefaultLeaseTTL / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rn.repo.Heartbeat(ctx, jobID, DefaultLeaseTTL); err != nil {
				rn.logger.Warn("runner: heartbeat failed", "event", "runner.heartbeat_failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// concurrencyCaps builds one bounded semaphore channel per distinct job type
// present in the batch, sized from vend.queue.max_concurrency.<type>. This is
// an in-process execution backstop for the goroutines dispatching an already
// claimed batch; claimEligible is what keeps claims themselves within the
// same cap beforehand.
func (rn *Runner) concurrencyCaps(ctx context.Context, jobs []*Job) map[JobType]chan struct{} {
	caps := make(map[JobType]chan struct{})
	for _, job := range jobs {
		if _, ok := caps[job.Type]; ok {
			continue
		}
		n := rn.config.GetInt(ctx, configstore.FlagVendQueueMaxConcurrency+string(job.Type), configstore.DefaultMaxConcurrencyPerType)
		if n <= 0 {
			n = 1
		}
		caps[job.Type] = make(chan struct{}, n)
	}
	return caps
}

// tryAdvisoryLock attempts pg_try_advisory_lock on a deterministic 64-bit
// key derived from lockKey. The returned release func must be deferred by
// the caller; it is a no-op once already released.
func (rn *Runner) tryAdvisoryLock(ctx context.Context) (bool, func(), error) {
	key := advisoryLockID(lockKey)

	var acquired bool
	if err := rn.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		return false, nil, err
	}
	if !acquired {
		return false, nil, nil
	}

	var released bool
	var mu sync.Mutex
	release := func() {
		mu.Lock()
		defer mu.Unlock()
		if released {
			return
		}
		released = true
		if _, err := rn.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, key); err != nil {
			rn.logger.Warn("runner: failed to release advisory lock", "event", "runner.unlock_failed", "error", err)
		}
	}
	return true, release, nil
}

func advisoryLockID(name string) int64 {
	sum := sha256.Sum256([]byte(name))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}
