package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	log "github.com/sirupsen/logrus"
)

// Processor runs the full translation pipeline for one job.
type Processor interface {
	Process(ctx context.Context, job Job) error
}

type ProcessorFunc func(ctx context.Context, job Job) error

func (f ProcessorFunc) Process(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// Worker is the single consumer of the store's queue. Jobs never overlap, which bounds
// peak memory held by the layout models.
type Worker struct {
	store        *Store
	processor    Processor
	pollInterval time.Duration
}

func NewWorker(store *Store, processor Processor, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Worker{store: store, processor: processor, pollInterval: pollInterval}
}

// Run drains the queue until ctx is done. A failing job never stops the loop.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	log.WithField("poll_interval", w.pollInterval).Info("worker started")
	for {
		w.drain(ctx)

		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-w.store.wake:
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		name, jobCtx, ok := w.store.pop(ctx)
		if !ok {
			return
		}
		w.runOne(ctx, jobCtx, name)
		w.store.finish(name)
	}
}

func (w *Worker) runOne(ctx context.Context, jobCtx context.Context, name string) {
	logger := log.WithField("job", name)
	registry := w.store.registry

	started, err := registry.Transition(ctx, name, StatusTranslating, "")
	if err != nil {
		logger.WithError(err).Error("failed to mark job as translating")
		return
	}
	if !started {
		// Pruned or cancelled while waiting in the queue.
		logger.Info("skipping job that is no longer pending")
		return
	}

	job, err := registry.Get(ctx, name)
	if err != nil {
		logger.WithError(err).Error("failed to load job")
		w.settle(ctx, name, StatusFailed, err.Error())
		return
	}

	startedAt := time.Now()
	logger.Info("job started")
	err = w.process(jobCtx, job)
	switch {
	case err == nil:
		logger.WithField("elapsed", time.Since(startedAt)).Info("job translated")
		w.settle(ctx, name, StatusTranslated, "")
	case jobCtx.Err() != nil && ctx.Err() == nil:
		logger.Info("job cancelled")
		w.settle(ctx, name, StatusCancelled, "cancelled")
	case ctx.Err() != nil:
		// Shutting down: leave the row Translating so the next start re-enqueues it.
		logger.Warn("job interrupted by shutdown")
	default:
		logger.WithError(err).Error("job failed")
		w.settle(ctx, name, StatusFailed, err.Error())
	}
}

// process converts panics into errors so one bad document cannot kill the worker.
func (w *Worker) process(ctx context.Context, job Job) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			log.WithField("job", job.Name).Errorf("panic while processing job: %v\n%s", recovered, debug.Stack())
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	err = w.processor.Process(ctx, job)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return err
}

func (w *Worker) settle(ctx context.Context, name string, status Status, message string) {
	changed, err := w.store.registry.Transition(ctx, name, status, message)
	if err != nil {
		log.WithField("job", name).WithError(err).Errorf("failed to mark job as %s", status)
		return
	}
	if !changed {
		log.WithField("job", name).Warnf("job was no longer translating when marked as %s", status)
	}
}
