package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/visionex-project/pagetrans/pkg/apperr"
)

// DefaultOutputName is the artifact name used when a submission gives no output path.
const DefaultOutputName = "translated.pdf"

// ParamsValidator checks submission parameters the registry knows nothing about, such as the render mode.
type ParamsValidator func(params Params) error

// Store couples the durable registry with the in-memory FIFO the worker drains.
type Store struct {
	registry Registry
	workDir  string
	validate ParamsValidator

	mu      sync.Mutex
	queue   []string
	queued  map[string]bool
	running string
	cancel  context.CancelFunc

	wake chan struct{}
}

type StoreOption func(*Store)

func WithValidator(validate ParamsValidator) StoreOption {
	return func(s *Store) { s.validate = validate }
}

// NewStore recovers state left by a previous process: interrupted jobs are reset and every
// pending job is queued again in submission order.
func NewStore(ctx context.Context, registry Registry, workDir string, options ...StoreOption) (*Store, error) {
	s := &Store{
		registry: registry,
		workDir:  workDir,
		queued:   map[string]bool{},
		wake:     make(chan struct{}, 1),
	}
	for _, option := range options {
		option(s)
	}

	reset, err := registry.ResetInterrupted(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "jobs.NewStore", err)
	}
	if reset > 0 {
		log.WithField("count", reset).Info("reset interrupted jobs")
	}

	status := StatusNotTranslated
	pending, err := registry.List(ctx, &status)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "jobs.NewStore", err)
	}
	for _, job := range pending {
		s.enqueueLocked(job.Name)
	}
	if len(pending) > 0 {
		log.WithField("count", len(pending)).Info("re-enqueued pending jobs")
		s.notify()
	}
	return s, nil
}

func (s *Store) WorkDir() string {
	return s.workDir
}

// JobDir is the job-scoped temporary area holding per-page artifacts.
func (s *Store) JobDir(name string) string {
	return filepath.Join(s.workDir, strings.TrimSuffix(name, filepath.Ext(name)))
}

// Submit validates and records a job, then queues it. It returns the 1-based queue position.
func (s *Store) Submit(ctx context.Context, sourcePath string, outputPath string, params Params) (Job, int, error) {
	if !params.TranslateAll {
		if params.PageFrom < 0 {
			return Job{}, 0, apperr.Input("jobs.Submit", "page_from must not be negative, got %d", params.PageFrom)
		}
		if params.PageTo <= params.PageFrom {
			return Job{}, 0, apperr.Input("jobs.Submit", "invalid page range [%d, %d): page_to must be greater than page_from", params.PageFrom, params.PageTo)
		}
	}
	if s.validate != nil {
		if err := s.validate(params); err != nil {
			return Job{}, 0, apperr.Wrap(apperr.KindInput, "jobs.Submit", err)
		}
	}
	if err := checkReadable(sourcePath); err != nil {
		return Job{}, 0, apperr.Wrap(apperr.KindInput, "jobs.Submit", err)
	}

	name := filepath.Base(sourcePath)
	job, err := s.registry.Insert(ctx, Job{
		Name:       name,
		SourcePath: sourcePath,
		OutputPath: s.resolveOutputPath(name, outputPath),
		Params:     params,
	})
	if errors.Is(err, ErrActiveJob) {
		return Job{}, 0, apperr.Wrap(apperr.KindInput, "jobs.Submit", err)
	}
	if err != nil {
		return Job{}, 0, err
	}

	s.mu.Lock()
	s.enqueueLocked(job.Name)
	position := len(s.queue)
	s.mu.Unlock()
	s.notify()

	log.WithFields(log.Fields{"job": job.Name, "position": position}).Info("job submitted")
	return job, position, nil
}

func (s *Store) resolveOutputPath(name string, outputPath string) string {
	if outputPath == "" {
		return filepath.Join(s.JobDir(name), DefaultOutputName)
	}
	if info, err := os.Stat(outputPath); err == nil && info.IsDir() {
		return filepath.Join(outputPath, DefaultOutputName)
	}
	return outputPath
}

func checkReadable(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.New(path + " is a directory")
	}
	return nil
}

// List returns jobs in submission order. Rows whose backing file disappeared are deleted
// instead of returned.
func (s *Store) List(ctx context.Context, filter *Status) ([]Job, error) {
	jobs, err := s.registry.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	alive := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		backing := job.BackingFile()
		if backing == "" || fileExists(backing) {
			alive = append(alive, job)
			continue
		}
		if err := s.registry.Delete(ctx, job.Name); err != nil {
			return nil, err
		}
		s.dequeue(job.Name)
		log.WithFields(log.Fields{"job": job.Name, "missing": backing}).Warn("pruned job with missing file")
	}
	return alive, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (s *Store) Get(ctx context.Context, name string) (Job, error) {
	return s.registry.Get(ctx, name)
}

// Artifact returns the translated job that produced outputPath.
func (s *Store) Artifact(ctx context.Context, outputPath string) (Job, error) {
	status := StatusTranslated
	jobs, err := s.List(ctx, &status)
	if err != nil {
		return Job{}, err
	}
	cleaned := filepath.Clean(outputPath)
	for _, job := range jobs {
		if filepath.Clean(job.OutputPath) == cleaned {
			return job, nil
		}
	}
	return Job{}, apperr.NotFound("jobs.Artifact", "no translated job produced %s", outputPath)
}

// Cancel stops a queued or running job. Queued jobs are cancelled immediately; a running job
// is cancelled by the worker once its pipeline observes the cancelled context.
func (s *Store) Cancel(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == name && s.cancel != nil {
		s.cancel()
		log.WithField("job", name).Info("cancellation requested")
		return nil
	}

	// The queue entry and the row change together under s.mu, so a resubmission that
	// replaces the cancelled row is queued after this entry is gone.
	job, err := s.registry.Get(ctx, name)
	if err != nil {
		return err
	}
	if job.Status != StatusNotTranslated {
		return apperr.Input("jobs.Cancel", "job %q is %s and cannot be cancelled", name, job.Status)
	}
	changed, err := s.registry.Transition(ctx, name, StatusCancelled, "cancelled before start")
	if err != nil {
		return err
	}
	if !changed {
		return apperr.Input("jobs.Cancel", "job %q already started", name)
	}
	s.dequeueLocked(name)
	return nil
}

// Active reports whether name is queued or running.
func (s *Store) Active(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued[name] || s.running == name
}

func (s *Store) enqueueLocked(name string) {
	if s.queued[name] {
		return
	}
	s.queued[name] = true
	s.queue = append(s.queue, name)
}

func (s *Store) dequeue(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dequeueLocked(name)
}

func (s *Store) dequeueLocked(name string) {
	if !s.queued[name] {
		return
	}
	delete(s.queued, name)
	for i, queued := range s.queue {
		if queued == name {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
}

// pop removes the head of the queue and marks it running with its own cancellable context.
func (s *Store) pop(ctx context.Context) (string, context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return "", nil, false
	}
	name := s.queue[0]
	s.queue = s.queue[1:]
	delete(s.queued, name)

	jobCtx, cancel := context.WithCancel(ctx)
	s.running = name
	s.cancel = cancel
	return name, jobCtx, true
}

func (s *Store) finish(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == name {
		if s.cancel != nil {
			s.cancel()
		}
		s.running = ""
		s.cancel = nil
	}
}

// QueueLength returns the number of jobs waiting to start.
func (s *Store) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Store) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
