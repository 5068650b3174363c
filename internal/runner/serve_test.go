package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
	"github.com/moguls753/serve-benchmark/internal/benchmark/logsignal"
	"github.com/moguls753/serve-benchmark/internal/benchmark/process"
)

type fakeServer struct {
	ready      float64
	readyErr   error
	log        string
	terminated bool
	awaited    logsignal.Extractor
	exited     chan struct{} // nil never exits
	exitCode   int
}

func (f *fakeServer) AwaitSignal(ctx context.Context, ex logsignal.Extractor, timeout time.Duration) (float64, error) {
	f.awaited = ex
	return f.ready, f.readyErr
}

func (f *fakeServer) Terminate() { f.terminated = true }

func (f *fakeServer) Log() string { return f.log }

func (f *fakeServer) Done() <-chan struct{} { return f.exited }

func (f *fakeServer) ExitCode() int { return f.exitCode }

type fakeLauncher struct {
	server   *fakeServer
	err      error
	launched []process.StartOptions
}

func (f *fakeLauncher) Launch(ctx context.Context, opts process.StartOptions) (Server, error) {
	f.launched = append(f.launched, opts)
	if f.err != nil {
		return nil, f.err
	}
	return f.server, nil
}

type fakePage struct {
	markers map[string]float64
	loadErr error
	hang    bool
	loaded  []string
	closed  bool
}

func (f *fakePage) ID() string { return "page-1" }

func (f *fakePage) Load(ctx context.Context, url string) (time.Duration, error) {
	f.loaded = append(f.loaded, url)
	if f.hang {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return 10 * time.Millisecond, f.loadErr
}

func (f *fakePage) AwaitMarkers(ctx context.Context, labels ...string) (map[string]float64, error) {
	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.markers, nil
}

func (f *fakePage) Close() error {
	f.closed = true
	return nil
}

type fakePages struct {
	page *fakePage
	err  error
}

func (f *fakePages) NewPage(ctx context.Context) (Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

type fixture struct {
	serve    *Serve
	launcher *fakeLauncher
	server   *fakeServer
	page     *fakePage
	pauses   int
	job      benchmark.Job
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		server: &fakeServer{ready: 457, log: "VITE v2.7.0 ready in 457 ms\n"},
		page:   &fakePage{markers: map[string]float64{"fcp": 1632.9}},
	}
	f.launcher = &fakeLauncher{server: f.server}

	f.serve = NewServe(f.launcher, &fakePages{page: f.page}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.serve.sleep = func(ctx context.Context, d time.Duration) error {
		f.pauses++
		return ctx.Err()
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks := 0
	f.serve.now = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks-1) * 2761 * time.Millisecond)
	}

	f.job = benchmark.Job{
		Round:    3,
		Case:     benchmark.WorkloadCase{ID: "perf-1", Port: 5173, Script: "dev", CachePath: "./node_modules/.vite"},
		Variant:  benchmark.Variant{Owner: "vitejs", Repo: "vite", SHA: "063d93bf5ed487bf89b74526d838711ed5e125eb"},
		CasesDir: t.TempDir(),
	}
	return f
}

func TestServeMeasuresTimings(t *testing.T) {
	f := newFixture(t)

	timings, err := f.serve.Run(context.Background(), f.job)
	require.NoError(t, err)

	assert.Equal(t, benchmark.Timings{Startup: 2761, ServerStart: 457, FCP: 1632.9}, timings)

	require.Len(t, f.launcher.launched, 1)
	opts := f.launcher.launched[0]
	assert.Equal(t, "npm", opts.Name)
	assert.Equal(t, []string{"run", "dev"}, opts.Args)
	assert.Equal(t, filepath.Join(f.job.CasesDir, "perf-1"), opts.Dir)

	assert.Equal(t, []string{"http://localhost:5173/"}, f.page.loaded)
	assert.True(t, f.server.terminated)
	assert.True(t, f.page.closed)
	assert.Equal(t, 2, f.pauses)
}

func TestServeCleansCache(t *testing.T) {
	f := newFixture(t)
	cache := filepath.Join(f.job.CasesDir, "perf-1", "node_modules", ".vite")
	require.NoError(t, os.MkdirAll(filepath.Join(cache, "deps"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cache, "deps", "react.js"), []byte("x"), 0o644))

	_, err := f.serve.Run(context.Background(), f.job)
	require.NoError(t, err)

	_, err = os.Stat(cache)
	assert.True(t, os.IsNotExist(err))

	// absent cache is not an error
	_, err = f.serve.Run(context.Background(), f.job)
	assert.NoError(t, err)
}

func TestServeRejectsCacheOutsideCase(t *testing.T) {
	f := newFixture(t)
	f.job.Case.CachePath = "../../elsewhere"

	_, err := f.serve.Run(context.Background(), f.job)
	assert.ErrorIs(t, err, benchmark.ErrSetup)
	assert.Empty(t, f.launcher.launched)
}

func TestServeLaunchFailure(t *testing.T) {
	f := newFixture(t)
	f.launcher.err = benchmark.ErrProcessStart

	_, err := f.serve.Run(context.Background(), f.job)
	assert.ErrorIs(t, err, benchmark.ErrProcessStart)
	assert.True(t, f.page.closed)
}

func TestServeReadyFailureTearsDown(t *testing.T) {
	f := newFixture(t)
	f.server.readyErr = benchmark.ErrTimeout

	_, err := f.serve.Run(context.Background(), f.job)
	assert.ErrorIs(t, err, benchmark.ErrTimeout)
	assert.True(t, f.server.terminated)
	assert.True(t, f.page.closed)
	assert.Empty(t, f.page.loaded)
}

func TestServeSettlesAfterFailedSample(t *testing.T) {
	f := newFixture(t)
	f.launcher.err = benchmark.ErrProcessStart

	_, err := f.serve.Run(context.Background(), f.job)
	assert.ErrorIs(t, err, benchmark.ErrProcessStart)
	assert.Equal(t, 2, f.pauses)
}

func TestServeLoadTimeout(t *testing.T) {
	f := newFixture(t)
	f.page.hang = true
	f.serve.LoadTimeout = 20 * time.Millisecond

	_, err := f.serve.Run(context.Background(), f.job)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, f.server.terminated)
	assert.True(t, f.page.closed)
}

func TestServeMissingFCPMarker(t *testing.T) {
	f := newFixture(t)
	f.page.markers = map[string]float64{"startup": 10}

	_, err := f.serve.Run(context.Background(), f.job)
	assert.ErrorIs(t, err, benchmark.ErrParse)
}

func TestServePageError(t *testing.T) {
	f := newFixture(t)
	f.page.loadErr = errors.New("net::ERR_CONNECTION_REFUSED")

	_, err := f.serve.Run(context.Background(), f.job)
	assert.ErrorContains(t, err, "ERR_CONNECTION_REFUSED")
	assert.True(t, f.server.terminated)
}

func TestServeWritesDebugLog(t *testing.T) {
	f := newFixture(t)
	f.serve.LogDir = filepath.Join(t.TempDir(), "logs")

	_, err := f.serve.Run(context.Background(), f.job)
	require.NoError(t, err)

	name := DebugLogName(f.job)
	assert.Equal(t, "3-perf-1-vitejs%2Fvite%40063d93b-debug-log.txt", name)

	data, err := os.ReadFile(filepath.Join(f.serve.LogDir, name))
	require.NoError(t, err)
	assert.Equal(t, f.server.log, string(data))
}

func TestServeCustomCommand(t *testing.T) {
	f := newFixture(t)
	f.serve.Command = []string{"pnpm", "--silent", "run"}
	f.serve.Host = "127.0.0.1"
	f.job.Case.Port = 3000

	_, err := f.serve.Run(context.Background(), f.job)
	require.NoError(t, err)

	assert.Equal(t, "pnpm", f.launcher.launched[0].Name)
	assert.Equal(t, []string{"--silent", "run", "dev"}, f.launcher.launched[0].Args)
	assert.Equal(t, []string{"http://127.0.0.1:3000/"}, f.page.loaded)
}

func TestServeCancelledDuringSettle(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.serve.Run(ctx, f.job)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.launcher.launched)
}

func TestServeAgainstRealProcess(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.job.CasesDir, "perf-1"), 0o755))

	f.serve.Launcher = Processes(process.NewRunner(slog.New(slog.NewTextHandler(io.Discard, nil))))
	f.serve.Command = []string{"sh", "-c", "echo '  ready in 312 ms'; sleep 30", "sh"}

	timings, err := f.serve.Run(context.Background(), f.job)
	require.NoError(t, err)
	assert.Equal(t, 312.0, timings.ServerStart)
}
