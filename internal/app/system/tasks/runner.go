// internal/app/system/tasks/runner.go

// Package tasks runs the engine's periodic background jobs. Each job ticks
// on its own interval and takes a named lock before running, so a ticker
// firing while an operator-triggered run is in flight skips that round
// instead of overlapping it.
package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/memberhub-app/memberhub/internal/app/system/joblock"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned by RunNow when the job's lock is held.
var ErrAlreadyRunning = errors.New("job is already running")

// Job is one periodic background task.
type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds one run. The lock TTL is derived from it, so a
	// crashed holder frees the lock shortly after its run would have been
	// cut off anyway.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Runner drives a set of jobs until stopped.
type Runner struct {
	jobs   []Job
	locks  joblock.Locker
	log    *zap.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewRunner(locks joblock.Locker, log *zap.Logger, jobs ...Job) *Runner {
	return &Runner{
		jobs:   jobs,
		locks:  locks,
		log:    log,
		stopCh: make(chan struct{}),
	}
}

// Start launches one goroutine per job.
func (r *Runner) Start() {
	for _, job := range r.jobs {
		r.wg.Add(1)
		go r.loop(job)
		r.log.Info("background job started",
			zap.String("job", job.Name),
			zap.Duration("interval", job.Interval))
	}
}

// Stop signals every job loop to exit and waits for in-flight runs.
func (r *Runner) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.log.Info("background jobs stopped")
}

// RunNow executes one job immediately under its lock. Used by the operator
// endpoints; returns ErrAlreadyRunning when a ticker run or another trigger
// holds the lock.
func (r *Runner) RunNow(ctx context.Context, name string) error {
	for _, job := range r.jobs {
		if job.Name == name {
			return r.runLocked(ctx, job, true)
		}
	}
	return errors.New("unknown job " + name)
}

func (r *Runner) loop(job Job) {
	defer r.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			if err := r.runLocked(context.Background(), job, false); err != nil && err != ErrAlreadyRunning {
				r.log.Error("background job failed",
					zap.String("job", job.Name),
					zap.Error(err))
			}
		}
	}
}

func (r *Runner) runLocked(ctx context.Context, job Job, manual bool) error {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = job.Interval
	}

	token, ok, err := r.locks.Acquire(ctx, job.Name, timeout+30*time.Second)
	if err != nil {
		return err
	}
	if !ok {
		if !manual {
			r.log.Debug("job round skipped, lock held", zap.String("job", job.Name))
		}
		return ErrAlreadyRunning
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.locks.Release(releaseCtx, job.Name, token); err != nil {
			r.log.Warn("failed to release job lock",
				zap.String("job", job.Name),
				zap.Error(err))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err = job.Run(runCtx)
	if err != nil {
		return err
	}
	r.log.Debug("job round finished",
		zap.String("job", job.Name),
		zap.Duration("took", time.Since(start)))
	return nil
}
