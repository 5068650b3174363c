// Package scheduler runs every (case, variant) pairing once per round.
//
// Rounds are the outer loop, cases the middle and variants the inner one, so
// all variants of a case are measured back to back within the same round.
// Drift in the environment (thermal throttling, background load) then hits
// every variant in roughly the same time window.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
)

// Policy decides what a failed sample does to the rest of the run
type Policy string

const (
	// FailFast aborts the run on the first failed sample
	FailFast Policy = "fail-fast"
	// Continue records the failure as a gap and moves on to the next pairing
	Continue Policy = "continue"
)

// ParsePolicy validates a policy name
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case FailFast, Continue:
		return Policy(s), nil
	case "":
		return FailFast, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (want %s or %s)", s, FailFast, Continue)
	}
}

// Observer is notified after every pairing
type Observer interface {
	ObserveSample(s benchmark.RawSample, took time.Duration)
	ObserveFailure(f benchmark.SampleFailure, took time.Duration)
}

// Observers fans notifications out to several observers
type Observers []Observer

func (o Observers) ObserveSample(s benchmark.RawSample, took time.Duration) {
	for _, obs := range o {
		obs.ObserveSample(s, took)
	}
}

func (o Observers) ObserveFailure(f benchmark.SampleFailure, took time.Duration) {
	for _, obs := range o {
		obs.ObserveFailure(f, took)
	}
}

// Scheduler drives a CaseRunner over the cross product of cases and variants
type Scheduler struct {
	Runner    benchmark.CaseRunner
	Policy    Policy
	CasesRoot string // holds one <owner>___<repo>___<sha7> directory per variant
	Logger    *slog.Logger
	Observer  Observer
	RunID     string // generated when empty

	now func() time.Time
}

// New creates a fail-fast scheduler
func New(runner benchmark.CaseRunner, casesRoot string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Runner:    runner,
		Policy:    FailFast,
		CasesRoot: casesRoot,
		Logger:    logger,
	}
}

// RunAll measures every pairing repeats times. Samples are appended in
// (round, case, variant) order. On error the returned run still holds every
// sample collected so far.
func (s *Scheduler) RunAll(ctx context.Context, cases []benchmark.WorkloadCase, variants []benchmark.Variant, repeats int) (*benchmark.Run, error) {
	if repeats < 1 {
		return nil, fmt.Errorf("repeats must be positive, got %d", repeats)
	}
	if len(cases) == 0 || len(variants) == 0 {
		return nil, errors.New("need at least one case and one variant")
	}

	now := s.now
	if now == nil {
		now = time.Now
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runID := s.RunID
	if runID == "" {
		runID = ulid.Make().String()
	}

	run := &benchmark.Run{
		ID:        runID,
		StartedAt: now(),
		Repeats:   repeats,
		Samples:   make([]benchmark.RawSample, 0, repeats*len(cases)*len(variants)),
	}
	logger = logger.With("run", run.ID)
	logger.Info("benchmark started", "repeats", repeats, "cases", len(cases), "variants", len(variants))

	finish := func(err error) (*benchmark.Run, error) {
		run.Duration = now().Sub(run.StartedAt)
		return run, err
	}

	for round := 0; round < repeats; round++ {
		for _, c := range cases {
			for _, v := range variants {
				if err := ctx.Err(); err != nil {
					return finish(fmt.Errorf("benchmark interrupted before round %d, case %s, variant %s: %w", round, c.ID, v.UniqueKey(), err))
				}

				job := benchmark.Job{
					Round:    round,
					Case:     c,
					Variant:  v,
					CasesDir: filepath.Join(s.CasesRoot, v.CaseDirName()),
				}
				jobLog := logger.With("round", round, "case", c.ID, "variant", v.UniqueKey())

				started := now()
				timings, err := s.Runner.Run(ctx, job)
				took := now().Sub(started)

				if err != nil {
					sampleErr := &benchmark.SampleError{Round: round, CaseID: c.ID, VariantKey: v.UniqueKey(), Err: err}
					failure := sampleErr.Failure()
					run.Failures = append(run.Failures, failure)
					if s.Observer != nil {
						s.Observer.ObserveFailure(failure, took)
					}
					jobLog.Error("sample failed", "error", err, "took", took)

					// a cancelled run is over whatever the policy says
					if s.Policy != Continue || ctx.Err() != nil {
						return finish(sampleErr)
					}
					continue
				}

				sample := benchmark.NewRawSample(round, c.ID, v.UniqueKey(), timings)
				run.Samples = append(run.Samples, sample)
				if s.Observer != nil {
					s.Observer.ObserveSample(sample, took)
				}
				jobLog.Info("sample recorded",
					"startup", timings.Startup,
					"serverStart", timings.ServerStart,
					"fcp", timings.FCP,
					"took", took)
			}
		}
	}

	run, _ = finish(nil)
	logger.Info("benchmark finished", "samples", len(run.Samples), "failures", len(run.Failures), "duration", run.Duration)
	return run, nil
}
