package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visionex-project/pagetrans/pkg/apperr"
)

type fixture struct {
	dir      string
	registry *SQLiteRegistry
	store    *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	registry, err := OpenSQLite(context.Background(), filepath.Join(dir, "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	store, err := NewStore(context.Background(), registry, filepath.Join(dir, "work"))
	require.NoError(t, err)
	return &fixture{dir: dir, registry: registry, store: store}
}

func (f *fixture) source(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))
	return path
}

func allPages() Params {
	return Params{FromLang: "English", ToLang: "Japanese", TranslateAll: true, RenderMode: "translation_only"}
}

// runWorker starts a worker and returns a function that stops it and waits for it to exit.
func runWorker(t *testing.T, store *Store, processor Processor) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewWorker(store, processor, 10*time.Millisecond).Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func waitForStatus(t *testing.T, store *Store, name string, status Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := store.Get(context.Background(), name)
		return err == nil && job.Status == status
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", name, status)
}

// TestSubmitRejectsInvalidRange verifies an empty page range is refused before anything is queued.
func TestSubmitRejectsInvalidRange(t *testing.T) {
	f := newFixture(t)
	source := f.source(t, "paper.pdf")

	_, _, err := f.store.Submit(context.Background(), source, "", Params{PageFrom: 5, PageTo: 3})

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInput))
	assert.Equal(t, 0, f.store.QueueLength())
	jobs, err := f.registry.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSubmitRejectsEqualBoundsAndNegativeStart(t *testing.T) {
	f := newFixture(t)
	source := f.source(t, "paper.pdf")

	_, _, err := f.store.Submit(context.Background(), source, "", Params{PageFrom: 2, PageTo: 2})
	assert.True(t, apperr.Is(err, apperr.KindInput))

	_, _, err = f.store.Submit(context.Background(), source, "", Params{PageFrom: -1, PageTo: 2})
	assert.True(t, apperr.Is(err, apperr.KindInput))
}

func TestSubmitRejectsMissingSource(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.store.Submit(context.Background(), filepath.Join(f.dir, "missing.pdf"), "", allPages())

	assert.True(t, apperr.Is(err, apperr.KindInput))
	assert.Equal(t, 0, f.store.QueueLength())
}

func TestSubmitRunsValidator(t *testing.T) {
	f := newFixture(t)
	store, err := NewStore(context.Background(), f.registry, f.dir, WithValidator(func(params Params) error {
		return errors.New("unknown render mode")
	}))
	require.NoError(t, err)

	_, _, err = store.Submit(context.Background(), f.source(t, "paper.pdf"), "", allPages())

	assert.True(t, apperr.Is(err, apperr.KindInput))
}

func TestSubmitAssignsPositionsAndOutputPaths(t *testing.T) {
	f := newFixture(t)
	outputDir := t.TempDir()

	first, position, err := f.store.Submit(context.Background(), f.source(t, "a.pdf"), "", allPages())
	require.NoError(t, err)
	assert.Equal(t, 1, position)
	assert.Equal(t, filepath.Join(f.dir, "work", "a", DefaultOutputName), first.OutputPath)
	assert.Equal(t, StatusNotTranslated, first.Status)

	second, position, err := f.store.Submit(context.Background(), f.source(t, "b.pdf"), outputDir, Params{PageFrom: 0, PageTo: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, position)
	assert.Equal(t, filepath.Join(outputDir, DefaultOutputName), second.OutputPath)
	assert.Greater(t, second.Seq, first.Seq)

	explicit := filepath.Join(outputDir, "c-out.pdf")
	third, _, err := f.store.Submit(context.Background(), f.source(t, "c.pdf"), explicit, allPages())
	require.NoError(t, err)
	assert.Equal(t, explicit, third.OutputPath)
}

func TestSubmitRejectsDuplicateActiveJob(t *testing.T) {
	f := newFixture(t)
	source := f.source(t, "paper.pdf")

	_, _, err := f.store.Submit(context.Background(), source, "", allPages())
	require.NoError(t, err)
	_, _, err = f.store.Submit(context.Background(), source, "", allPages())

	assert.True(t, apperr.Is(err, apperr.KindInput))
	assert.ErrorIs(t, err, ErrActiveJob)
	assert.Equal(t, 1, f.store.QueueLength())
}

// TestWorkerProcessesInSubmissionOrder verifies jobs finish in FIFO order regardless of their duration.
func TestWorkerProcessesInSubmissionOrder(t *testing.T) {
	f := newFixture(t)
	durations := map[string]time.Duration{
		"a.pdf": 40 * time.Millisecond,
		"b.pdf": time.Millisecond,
		"c.pdf": 15 * time.Millisecond,
	}

	var mu sync.Mutex
	var completed []string
	var active, maxActive int32
	processor := ProcessorFunc(func(ctx context.Context, job Job) error {
		current := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			seen := atomic.LoadInt32(&maxActive)
			if current <= seen || atomic.CompareAndSwapInt32(&maxActive, seen, current) {
				break
			}
		}
		time.Sleep(durations[job.Name])
		mu.Lock()
		completed = append(completed, job.Name)
		mu.Unlock()
		return nil
	})

	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		_, _, err := f.store.Submit(context.Background(), f.source(t, name), "", allPages())
		require.NoError(t, err)
	}

	stop := runWorker(t, f.store, processor)
	defer stop()
	waitForStatus(t, f.store, "c.pdf", StatusTranslated)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf"}, completed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

// TestRecoveryRequeuesInterruptedJobsOnce verifies a restart picks up interrupted and pending work exactly once.
func TestRecoveryRequeuesInterruptedJobsOnce(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "jobs.db")
	ctx := context.Background()

	registry, err := OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	for _, name := range []string{"interrupted.pdf", "pending.pdf"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))
		_, err := registry.Insert(ctx, Job{Name: name, SourcePath: path, OutputPath: path + ".out", Params: allPages()})
		require.NoError(t, err)
	}
	changed, err := registry.Transition(ctx, "interrupted.pdf", StatusTranslating, "")
	require.NoError(t, err)
	require.True(t, changed)
	require.NoError(t, registry.Close())

	// Simulated restart.
	registry, err = OpenSQLite(ctx, dbPath)
	require.NoError(t, err)
	defer registry.Close()
	store, err := NewStore(ctx, registry, dir)
	require.NoError(t, err)

	job, err := store.Get(ctx, "interrupted.pdf")
	require.NoError(t, err)
	assert.Equal(t, StatusNotTranslated, job.Status)
	assert.Equal(t, 2, store.QueueLength())

	var mu sync.Mutex
	runs := map[string]int{}
	var order []string
	stop := runWorker(t, store, ProcessorFunc(func(ctx context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		runs[job.Name]++
		order = append(order, job.Name)
		return nil
	}))
	defer stop()

	waitForStatus(t, store, "interrupted.pdf", StatusTranslated)
	waitForStatus(t, store, "pending.pdf", StatusTranslated)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"interrupted.pdf": 1, "pending.pdf": 1}, runs)
	assert.Equal(t, []string{"interrupted.pdf", "pending.pdf"}, order)
}

// TestWorkerSurvivesFailingJobs verifies errors and panics fail only their own job.
func TestWorkerSurvivesFailingJobs(t *testing.T) {
	f := newFixture(t)
	processor := ProcessorFunc(func(ctx context.Context, job Job) error {
		switch job.Name {
		case "panics.pdf":
			panic("detector crashed")
		case "errors.pdf":
			return apperr.Processing("pipeline.Process", "translator unavailable")
		}
		return nil
	})

	for _, name := range []string{"panics.pdf", "errors.pdf", "fine.pdf"} {
		_, _, err := f.store.Submit(context.Background(), f.source(t, name), "", allPages())
		require.NoError(t, err)
	}

	stop := runWorker(t, f.store, processor)
	defer stop()
	waitForStatus(t, f.store, "fine.pdf", StatusTranslated)
	waitForStatus(t, f.store, "panics.pdf", StatusFailed)
	waitForStatus(t, f.store, "errors.pdf", StatusFailed)

	failed, err := f.store.Get(context.Background(), "errors.pdf")
	require.NoError(t, err)
	assert.Contains(t, failed.Error, "translator unavailable")
	panicked, err := f.store.Get(context.Background(), "panics.pdf")
	require.NoError(t, err)
	assert.Contains(t, panicked.Error, "detector crashed")
}

// TestListPrunesRowsWithMissingFiles verifies rows disappear once their backing file is deleted out of band.
func TestListPrunesRowsWithMissingFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	kept := f.source(t, "kept.pdf")
	removed := f.source(t, "removed.pdf")
	translated := f.source(t, "translated.pdf")

	_, _, err := f.store.Submit(ctx, kept, "", allPages())
	require.NoError(t, err)
	_, _, err = f.store.Submit(ctx, removed, "", allPages())
	require.NoError(t, err)
	done, _, err := f.store.Submit(ctx, translated, filepath.Join(f.dir, "translated-out.pdf"), allPages())
	require.NoError(t, err)
	_, err = f.registry.Transition(ctx, done.Name, StatusTranslating, "")
	require.NoError(t, err)
	_, err = f.registry.Transition(ctx, done.Name, StatusTranslated, "")
	require.NoError(t, err)

	require.NoError(t, os.Remove(removed))

	jobs, err := f.store.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "kept.pdf", jobs[0].Name)
	assert.Equal(t, 1, f.store.QueueLength())

	_, err = f.store.Get(ctx, "removed.pdf")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = f.store.Get(ctx, "translated.pdf")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestListFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.store.Submit(ctx, f.source(t, "a.pdf"), "", allPages())
	require.NoError(t, err)

	failed := StatusFailed
	jobs, err := f.store.List(ctx, &failed)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	pending := StatusNotTranslated
	jobs, err = f.store.List(ctx, &pending)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestArtifactOnlyResolvesTranslatedJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	output := filepath.Join(f.dir, "out.pdf")
	require.NoError(t, os.WriteFile(output, []byte("%PDF-1.4"), 0o644))

	job, _, err := f.store.Submit(ctx, f.source(t, "a.pdf"), output, allPages())
	require.NoError(t, err)

	_, err = f.store.Artifact(ctx, output)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.registry.Transition(ctx, job.Name, StatusTranslating, "")
	require.NoError(t, err)
	_, err = f.registry.Transition(ctx, job.Name, StatusTranslated, "")
	require.NoError(t, err)

	found, err := f.store.Artifact(ctx, output)
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", found.Name)
}

// TestCancelQueuedJob verifies a cancelled job is never handed to the processor.
func TestCancelQueuedJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.store.Submit(ctx, f.source(t, "a.pdf"), "", allPages())
	require.NoError(t, err)

	require.NoError(t, f.store.Cancel(ctx, "a.pdf"))

	job, err := f.store.Get(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.Equal(t, 0, f.store.QueueLength())
	assert.False(t, f.store.Active("a.pdf"))

	err = f.store.Cancel(ctx, "a.pdf")
	assert.True(t, apperr.Is(err, apperr.KindInput))

	// A cancelled job may be submitted again.
	_, _, err = f.store.Submit(ctx, job.SourcePath, "", allPages())
	assert.NoError(t, err)
}

// hookedRegistry runs onCancel right after a row is moved to Cancelled.
type hookedRegistry struct {
	Registry
	onCancel func()
	inserted chan struct{}
}

func (r *hookedRegistry) Insert(ctx context.Context, job Job) (Job, error) {
	job, err := r.Registry.Insert(ctx, job)
	if r.inserted != nil {
		r.inserted <- struct{}{}
	}
	return job, err
}

func (r *hookedRegistry) Transition(ctx context.Context, name string, to Status, message string) (bool, error) {
	changed, err := r.Registry.Transition(ctx, name, to, message)
	if to == StatusCancelled && r.onCancel != nil {
		hook := r.onCancel
		r.onCancel = nil
		hook()
	}
	return changed, err
}

func TestResubmitDuringCancelStaysQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registry := &hookedRegistry{Registry: f.registry}
	store, err := NewStore(ctx, registry, filepath.Join(f.dir, "work"))
	require.NoError(t, err)
	path := f.source(t, "a.pdf")
	_, _, err = store.Submit(ctx, path, "", allPages())
	require.NoError(t, err)

	resubmitted := make(chan error, 1)
	registry.inserted = make(chan struct{}, 1)
	registry.onCancel = func() {
		go func() {
			_, _, err := store.Submit(ctx, path, "", allPages())
			resubmitted <- err
		}()
		<-registry.inserted
	}

	require.NoError(t, store.Cancel(ctx, "a.pdf"))
	require.NoError(t, <-resubmitted)

	job, err := store.Get(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, StatusNotTranslated, job.Status)
	assert.Equal(t, 1, store.QueueLength())
	assert.True(t, store.Active("a.pdf"))
}

// TestCancelRunningJob verifies the running job observes cancellation and ends as Cancelled.
func TestCancelRunningJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	started := make(chan struct{})
	processor := ProcessorFunc(func(ctx context.Context, job Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	_, _, err := f.store.Submit(ctx, f.source(t, "slow.pdf"), "", allPages())
	require.NoError(t, err)
	stop := runWorker(t, f.store, processor)
	defer stop()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}
	assert.True(t, f.store.Active("slow.pdf"))
	require.NoError(t, f.store.Cancel(ctx, "slow.pdf"))

	waitForStatus(t, f.store, "slow.pdf", StatusCancelled)
}

func TestCancelUnknownJob(t *testing.T) {
	f := newFixture(t)

	err := f.store.Cancel(context.Background(), "missing.pdf")

	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestTransitionRejectsInvalidEdges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.store.Submit(ctx, f.source(t, "a.pdf"), "", allPages())
	require.NoError(t, err)

	changed, err := f.registry.Transition(ctx, "a.pdf", StatusTranslated, "")
	require.NoError(t, err)
	assert.False(t, changed, "NotTranslated -> Translated must go through Translating")

	changed, err = f.registry.Transition(ctx, "a.pdf", StatusTranslating, "")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.registry.Transition(ctx, "a.pdf", StatusTranslating, "")
	require.NoError(t, err)
	assert.False(t, changed, "a job cannot start twice")
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusNotTranslated, StatusTranslating, true},
		{StatusNotTranslated, StatusCancelled, true},
		{StatusNotTranslated, StatusTranslated, false},
		{StatusTranslating, StatusTranslated, true},
		{StatusTranslating, StatusFailed, true},
		{StatusTranslating, StatusNotTranslated, true},
		{StatusTranslated, StatusFailed, false},
		{StatusFailed, StatusNotTranslated, true},
	}
	for _, tt := range tests {
		if got := isValidTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("isValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	status, err := ParseStatus("Not-Translated")
	require.NoError(t, err)
	assert.Equal(t, StatusNotTranslated, status)

	_, err = ParseStatus("done")
	assert.Error(t, err)
}
