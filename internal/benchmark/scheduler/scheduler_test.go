package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
)

type fakeRunner struct {
	mu   sync.Mutex
	jobs []benchmark.Job
	fail func(job benchmark.Job) error
	hook func(job benchmark.Job)
}

func (f *fakeRunner) Run(ctx context.Context, job benchmark.Job) (benchmark.Timings, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()

	if f.hook != nil {
		f.hook(job)
	}
	if f.fail != nil {
		if err := f.fail(job); err != nil {
			return benchmark.Timings{}, err
		}
	}
	return benchmark.Timings{Startup: float64(1000 + job.Round), ServerStart: 200, FCP: 900}, nil
}

type recorder struct {
	samples  []benchmark.RawSample
	failures []benchmark.SampleFailure
}

func (r *recorder) ObserveSample(s benchmark.RawSample, _ time.Duration) {
	r.samples = append(r.samples, s)
}

func (r *recorder) ObserveFailure(f benchmark.SampleFailure, _ time.Duration) {
	r.failures = append(r.failures, f)
}

var (
	caseA = benchmark.WorkloadCase{ID: "A", Port: 5173, Script: "dev"}
	caseB = benchmark.WorkloadCase{ID: "B", Port: 5173, Script: "start:vite"}
	varX  = benchmark.Variant{Owner: "vitejs", Repo: "vite", SHA: "063d93bf5ed487bf89b74526d838711ed5e125eb"}
	varY  = benchmark.Variant{Owner: "sun0day", Repo: "vite", SHA: "999ad63afc4271aa37a960fba9d0aef4132efe61"}
)

func quietScheduler(r benchmark.CaseRunner) *Scheduler {
	return New(r, "/cases", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type pair struct{ caseID, variantKey string }

func TestRunAllInterleavesVariantsWithinRounds(t *testing.T) {
	runner := &fakeRunner{}
	rec := &recorder{}
	s := quietScheduler(runner)
	s.Observer = rec

	run, err := s.RunAll(context.Background(), []benchmark.WorkloadCase{caseA, caseB}, []benchmark.Variant{varX, varY}, 2)
	require.NoError(t, err)

	x, y := varX.UniqueKey(), varY.UniqueKey()
	want := []pair{{"A", x}, {"A", y}, {"B", x}, {"B", y}, {"A", x}, {"A", y}, {"B", x}, {"B", y}}

	got := make([]pair, len(run.Samples))
	for i, smp := range run.Samples {
		got[i] = pair{smp.CaseID, smp.VariantKey}
	}
	assert.Equal(t, want, got)

	for i, smp := range run.Samples {
		assert.Equal(t, i/4, smp.Round)
		assert.Equal(t, float64(1000+smp.Round), smp.Startup)
	}

	assert.Equal(t, run.Samples, rec.samples)
	assert.Empty(t, run.Failures)
	assert.Equal(t, 2, run.Repeats)
	assert.Len(t, run.ID, 26)
}

func TestRunAllResolvesVariantCaseDirectory(t *testing.T) {
	runner := &fakeRunner{}
	s := quietScheduler(runner)

	_, err := s.RunAll(context.Background(), []benchmark.WorkloadCase{caseA}, []benchmark.Variant{varX}, 1)
	require.NoError(t, err)

	require.Len(t, runner.jobs, 1)
	assert.Equal(t, filepath.Join("/cases", "vitejs___vite___063d93b"), runner.jobs[0].CasesDir)
	assert.Equal(t, caseA, runner.jobs[0].Case)
}

func TestRunAllFailFast(t *testing.T) {
	boom := errors.New("boom")
	runner := &fakeRunner{fail: func(job benchmark.Job) error {
		if job.Case.ID == "B" && job.Variant == varX {
			return boom
		}
		return nil
	}}
	rec := &recorder{}
	s := quietScheduler(runner)
	s.Observer = rec

	run, err := s.RunAll(context.Background(), []benchmark.WorkloadCase{caseA, caseB}, []benchmark.Variant{varX, varY}, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var sampleErr *benchmark.SampleError
	require.ErrorAs(t, err, &sampleErr)
	assert.Equal(t, 0, sampleErr.Round)
	assert.Equal(t, "B", sampleErr.CaseID)
	assert.Equal(t, varX.UniqueKey(), sampleErr.VariantKey)
	assert.Contains(t, err.Error(), "round 0, case B")

	assert.Len(t, run.Samples, 2)
	assert.Len(t, runner.jobs, 3)
	require.Len(t, rec.failures, 1)
	assert.Equal(t, "boom", rec.failures[0].Error)
}

func TestRunAllContinueRecordsGaps(t *testing.T) {
	runner := &fakeRunner{fail: func(job benchmark.Job) error {
		if job.Round == 1 && job.Case.ID == "A" && job.Variant == varY {
			return benchmark.ErrTimeout
		}
		return nil
	}}
	s := quietScheduler(runner)
	s.Policy = Continue

	run, err := s.RunAll(context.Background(), []benchmark.WorkloadCase{caseA, caseB}, []benchmark.Variant{varX, varY}, 2)
	require.NoError(t, err)

	assert.Len(t, runner.jobs, 8)
	assert.Len(t, run.Samples, 7)
	require.Len(t, run.Failures, 1)
	assert.Equal(t, benchmark.SampleFailure{
		Round:      1,
		CaseID:     "A",
		VariantKey: varY.UniqueKey(),
		Error:      benchmark.ErrTimeout.Error(),
	}, run.Failures[0])
}

func TestRunAllStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &fakeRunner{hook: func(job benchmark.Job) {
		if job.Case.ID == "A" && job.Variant == varY {
			cancel()
		}
	}}
	s := quietScheduler(runner)
	s.Policy = Continue

	run, err := s.RunAll(ctx, []benchmark.WorkloadCase{caseA, caseB}, []benchmark.Variant{varX, varY}, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, run.Samples, 2)
	assert.Len(t, runner.jobs, 2)
}

func TestRunAllRejectsEmptyInput(t *testing.T) {
	s := quietScheduler(&fakeRunner{})

	_, err := s.RunAll(context.Background(), []benchmark.WorkloadCase{caseA}, []benchmark.Variant{varX}, 0)
	assert.Error(t, err)

	_, err = s.RunAll(context.Background(), nil, []benchmark.Variant{varX}, 1)
	assert.Error(t, err)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("continue")
	require.NoError(t, err)
	assert.Equal(t, Continue, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailFast, p)

	_, err = ParsePolicy("retry")
	assert.Error(t, err)
}

func TestObserversFanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	obs := Observers{a, b}

	obs.ObserveSample(benchmark.RawSample{CaseID: "A"}, time.Second)
	obs.ObserveFailure(benchmark.SampleFailure{CaseID: "B"}, time.Second)

	assert.Len(t, a.samples, 1)
	assert.Len(t, b.failures, 1)
}
