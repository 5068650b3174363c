package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
	"github.com/moguls753/serve-benchmark/internal/benchmark/logsignal"
)

// measurePrebundle starts the dev server and stops it as soon as the
// dependency optimizer reports on stderr. Startup is the wall time until the
// report, ServerStart the bundling time the report states.
func (s *Serve) measurePrebundle(ctx context.Context, job benchmark.Job, dir string, logger *slog.Logger) (benchmark.Timings, error) {
	timeout := s.BundleTimeout
	if timeout <= 0 {
		timeout = DefaultBundleTimeout
	}

	opts := s.startOptions(job.Case, dir)
	opts.WatchStderr = true
	start := s.clock()

	srv, err := s.Launcher.Launch(ctx, opts)
	if err != nil {
		return benchmark.Timings{}, err
	}
	defer func() {
		srv.Terminate()
		s.writeDebugLog(job, srv.Log(), logger)
	}()
	logger.Debug("server launched", "command", opts.String(), "dir", dir)

	ex := s.Bundled
	if ex == nil {
		ex = logsignal.Prebundle()
	}
	bundled, err := srv.AwaitSignal(ctx, ex, timeout)
	if err != nil {
		return benchmark.Timings{}, fmt.Errorf("await prebundle report: %w", err)
	}
	elapsed := s.clock().Sub(start)

	timings := benchmark.Timings{Startup: ms(elapsed), ServerStart: bundled}
	logger.Debug("measured", "startup", timings.Startup, "bundled", timings.ServerStart)
	return timings, nil
}
