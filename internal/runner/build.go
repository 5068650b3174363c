package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
)

// measureBuild times a production build from launch until the process exits.
// Only Startup is measured; a nonzero exit fails the sample.
func (s *Serve) measureBuild(ctx context.Context, job benchmark.Job, dir string, logger *slog.Logger) (benchmark.Timings, error) {
	timeout := s.BuildTimeout
	if timeout <= 0 {
		timeout = DefaultBuildTimeout
	}

	opts := s.startOptions(job.Case, dir)
	start := s.clock()

	proc, err := s.Launcher.Launch(ctx, opts)
	if err != nil {
		return benchmark.Timings{}, err
	}
	defer func() {
		proc.Terminate()
		s.writeDebugLog(job, proc.Log(), logger)
	}()
	logger.Debug("build launched", "command", opts.String(), "dir", dir)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-proc.Done():
	case <-timer.C:
		return benchmark.Timings{}, fmt.Errorf("%w: build %q still running after %s", benchmark.ErrTimeout, opts, timeout)
	case <-ctx.Done():
		return benchmark.Timings{}, ctx.Err()
	}
	elapsed := s.clock().Sub(start)

	if code := proc.ExitCode(); code != 0 {
		return benchmark.Timings{}, fmt.Errorf("%w: build %q exited with code %d", benchmark.ErrProcessStart, opts, code)
	}

	timings := benchmark.Timings{Startup: ms(elapsed)}
	logger.Debug("measured", "build", timings.Startup)
	return timings, nil
}
