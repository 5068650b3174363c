package runner

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
	"github.com/moguls753/serve-benchmark/internal/benchmark/process"
)

func newBuildFixture(t *testing.T) *fixture {
	t.Helper()

	f := newFixture(t)
	f.job.Case = benchmark.WorkloadCase{ID: "perf-1-build", Kind: benchmark.KindBuild, Script: "build", OutDir: "dist"}
	f.server.exited = make(chan struct{})
	close(f.server.exited)
	return f
}

func TestBuildTimesUntilExit(t *testing.T) {
	f := newBuildFixture(t)
	dist := filepath.Join(f.job.CasesDir, "perf-1-build", "dist")
	require.NoError(t, os.MkdirAll(dist, 0o755))

	timings, err := f.serve.Run(context.Background(), f.job)
	require.NoError(t, err)

	assert.Equal(t, benchmark.Timings{Startup: 2761}, timings)
	require.Len(t, f.launcher.launched, 1)
	assert.Equal(t, []string{"run", "build"}, f.launcher.launched[0].Args)
	assert.False(t, f.launcher.launched[0].WatchStderr)

	_, err = os.Stat(dist)
	assert.True(t, os.IsNotExist(err))
	assert.True(t, f.server.terminated)
	assert.Empty(t, f.page.loaded)
	assert.Equal(t, 2, f.pauses)
}

func TestBuildNonzeroExit(t *testing.T) {
	f := newBuildFixture(t)
	f.server.exitCode = 1

	_, err := f.serve.Run(context.Background(), f.job)
	assert.ErrorIs(t, err, benchmark.ErrProcessStart)
	assert.ErrorContains(t, err, "exited with code 1")
	assert.Equal(t, 2, f.pauses)
}

func TestBuildTimeout(t *testing.T) {
	f := newBuildFixture(t)
	f.server.exited = nil
	f.serve.BuildTimeout = 20 * time.Millisecond

	_, err := f.serve.Run(context.Background(), f.job)
	assert.ErrorIs(t, err, benchmark.ErrTimeout)
	assert.True(t, f.server.terminated)
}

func TestBuildRejectsOutDirOutsideCase(t *testing.T) {
	f := newBuildFixture(t)
	f.job.Case.OutDir = "../dist"

	_, err := f.serve.Run(context.Background(), f.job)
	assert.ErrorIs(t, err, benchmark.ErrSetup)
	assert.Empty(t, f.launcher.launched)
}

func TestBuildAgainstRealProcess(t *testing.T) {
	f := newBuildFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.job.CasesDir, "perf-1-build"), 0o755))

	f.serve.Launcher = Processes(process.NewRunner(slog.New(slog.NewTextHandler(io.Discard, nil))))
	f.serve.Command = []string{"sh", "-c", "echo built in 40ms; exit 0", "sh"}

	timings, err := f.serve.Run(context.Background(), f.job)
	require.NoError(t, err)
	assert.Equal(t, 2761.0, timings.Startup)

	f.serve.Command = []string{"sh", "-c", "echo 'error during build' >&2; exit 1", "sh"}
	_, err = f.serve.Run(context.Background(), f.job)
	assert.ErrorIs(t, err, benchmark.ErrProcessStart)
}
