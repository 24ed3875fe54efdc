// Package worker implements the dispatch loop that pops job ids off the Redis queue and hands
// each to the Job Controller, reclaiming crashed-worker leases and extending the lease on a job
// that runs longer than the default visibility timeout. Grounded on the teacher's
// internal/worker/processor.go main loop (PromoteScheduled/RequeueExpired/DequeueWithLease poll
// shape, backoffWithJitter for its own dequeue-error backoff), generalized from per-job-type
// handler dispatch to a single call into internal/controller.Controller.Run, since the
// reconstruction pipeline has exactly one kind of job.
package worker

import (
	"context"
	"math"
	"math/rand"
	"time"

	"coherentrecon/internal/config"
	"coherentrecon/internal/queue"
	"coherentrecon/internal/telemetry"
)

// Runner executes one job to completion (or terminal failure), resuming from wherever the job's
// persisted state left off. Satisfied by *controller.Controller.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// Dispatcher drives the worker execution loop: lease a job id, run it, ack it.
type Dispatcher struct {
	cfg   config.Config
	queue *queue.RedisQueue
	ctrl  Runner
}

// NewDispatcher builds a worker loop over q, handing each leased job id to ctrl.
func NewDispatcher(cfg config.Config, q *queue.RedisQueue, ctrl Runner) *Dispatcher {
	return &Dispatcher{cfg: cfg, queue: q, ctrl: ctrl}
}

// Run starts the main worker loop until context cancellation.
func (d *Dispatcher) Run(ctx context.Context) error {
	dequeueErrors := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, _ = d.queue.PromoteScheduled(ctx, time.Now(), int64(d.cfg.ScheduledBatchSize))
		if reclaimed, _ := d.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			telemetry.InFlight.Sub(float64(len(reclaimed)))
		}
		if depth, err := d.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepth.Set(float64(depth))
		}

		jobID, err := d.queue.DequeueWithLease(ctx)
		if err != nil {
			dequeueErrors++
			time.Sleep(backoffWithJitter(d.cfg.BackoffInitial, d.cfg.BackoffMax, dequeueErrors))
			continue
		}
		dequeueErrors = 0
		if jobID == "" {
			time.Sleep(d.cfg.WorkerPollInterval)
			continue
		}

		d.runOne(ctx, jobID)
	}
}

// runOne leases and executes a single job, extending its lease periodically so a long-running
// reconstruction (potentially many chunks, each taking minutes) never falls past the queue's
// visibility timeout and gets reclaimed by another worker mid-run.
func (d *Dispatcher) runOne(ctx context.Context, jobID string) {
	telemetry.InFlight.Inc()
	defer telemetry.InFlight.Dec()

	extendCtx, stopExtending := context.WithCancel(ctx)
	defer stopExtending()
	go d.keepLeaseAlive(extendCtx, jobID)

	_ = d.ctrl.Run(ctx, jobID)
	_ = d.queue.Ack(ctx, jobID)
}

func (d *Dispatcher) keepLeaseAlive(ctx context.Context, jobID string) {
	interval := d.cfg.VisibilityTimeout / 2
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = d.queue.ExtendLease(ctx, jobID, d.cfg.VisibilityTimeout)
		}
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}
