// Package runner measures one workload case of one variant: it serves or
// builds the case, times it and tears everything down again.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
	"github.com/moguls753/serve-benchmark/internal/benchmark/browser"
	"github.com/moguls753/serve-benchmark/internal/benchmark/logsignal"
	"github.com/moguls753/serve-benchmark/internal/benchmark/process"
)

const (
	// DefaultSettle is the pause before and after every measurement
	DefaultSettle = time.Second

	// DefaultReadyTimeout bounds the wait for the server's ready line
	DefaultReadyTimeout = 60 * time.Second

	// DefaultLoadTimeout bounds page load plus console markers
	DefaultLoadTimeout = 60 * time.Second

	// DefaultBuildTimeout bounds a production build
	DefaultBuildTimeout = 10 * time.Minute

	// DefaultBundleTimeout bounds the wait for the prebundle report
	DefaultBundleTimeout = 60 * time.Second

	// FCPLabel is the console marker read into Timings.FCP
	FCPLabel = "fcp"
)

// DefaultLauncher runs the case's package script
var DefaultLauncher = []string{"npm", "run"}

// Server is a started workload process
type Server interface {
	AwaitSignal(ctx context.Context, ex logsignal.Extractor, timeout time.Duration) (float64, error)
	Terminate()
	Log() string
	Done() <-chan struct{}
	ExitCode() int
}

// Launcher starts workload processes
type Launcher interface {
	Launch(ctx context.Context, opts process.StartOptions) (Server, error)
}

// Page is one fresh browser page
type Page interface {
	ID() string
	Load(ctx context.Context, url string) (time.Duration, error)
	AwaitMarkers(ctx context.Context, labels ...string) (map[string]float64, error)
	Close() error
}

// Pages opens browser pages
type Pages interface {
	NewPage(ctx context.Context) (Page, error)
}

// Processes adapts a process.Runner to Launcher
func Processes(r *process.Runner) Launcher { return processLauncher{r} }

type processLauncher struct{ r *process.Runner }

func (l processLauncher) Launch(ctx context.Context, opts process.StartOptions) (Server, error) {
	proc, err := l.r.Start(ctx, opts)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// Browser adapts a shared browser to Pages
func Browser(b *browser.Browser) Pages { return browserPages{b} }

type browserPages struct{ b *browser.Browser }

func (p browserPages) NewPage(ctx context.Context) (Page, error) {
	page, err := p.b.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Serve is the CaseRunner for every workload kind. Dev server cold starts
// are its default; builds and prebundles are dispatched on WorkloadCase.Kind.
type Serve struct {
	Launcher Launcher
	Pages    Pages
	Ready    logsignal.Extractor
	Bundled  logsignal.Extractor // read from stderr of prebundle cases

	Command       []string // prefix for the case script, DefaultLauncher when empty
	Host          string
	Markers       []string // console markers awaited after load, must include FCPLabel
	Settle        time.Duration
	ReadyTimeout  time.Duration
	LoadTimeout   time.Duration
	BuildTimeout  time.Duration
	BundleTimeout time.Duration
	SetupRetries  int
	LogDir        string // debug logs of every served process, disabled when empty

	Logger *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewServe creates a runner with the default ready signal, timeouts and settle delay
func NewServe(launcher Launcher, pages Pages, logger *slog.Logger) *Serve {
	if logger == nil {
		logger = slog.Default()
	}
	return &Serve{
		Launcher:      launcher,
		Pages:         pages,
		Ready:         logsignal.Ready(),
		Bundled:       logsignal.Prebundle(),
		Command:       DefaultLauncher,
		Host:          "localhost",
		Markers:       []string{FCPLabel},
		Settle:        DefaultSettle,
		ReadyTimeout:  DefaultReadyTimeout,
		LoadTimeout:   DefaultLoadTimeout,
		BuildTimeout:  DefaultBuildTimeout,
		BundleTimeout: DefaultBundleTimeout,
		SetupRetries:  1,
		Logger:        logger,
	}
}

// Run implements benchmark.CaseRunner
func (s *Serve) Run(ctx context.Context, job benchmark.Job) (benchmark.Timings, error) {
	logger := s.logger().With("round", job.Round, "case", job.Case.ID, "variant", job.Variant.UniqueKey())
	dir := filepath.Join(job.CasesDir, job.Case.ID)

	for _, path := range []string{job.Case.CachePath, job.Case.OutDir} {
		if err := s.cleanCache(ctx, dir, path, logger); err != nil {
			return benchmark.Timings{}, err
		}
	}
	if err := s.pause(ctx); err != nil {
		return benchmark.Timings{}, err
	}

	measure := s.measure
	switch job.Case.WorkloadKind() {
	case benchmark.KindBuild:
		measure = s.measureBuild
	case benchmark.KindPrebundle:
		measure = s.measurePrebundle
	}

	// the settle pause follows teardown whether or not the measurement worked
	timings, err := measure(ctx, job, dir, logger)
	if perr := s.pause(ctx); perr != nil && err == nil {
		err = perr
	}
	if err != nil {
		return benchmark.Timings{}, err
	}
	return timings, nil
}

func (s *Serve) measure(ctx context.Context, job benchmark.Job, dir string, logger *slog.Logger) (timings benchmark.Timings, err error) {
	page, err := s.Pages.NewPage(ctx)
	if err != nil {
		return timings, fmt.Errorf("open page: %w", err)
	}
	logger = logger.With("page", page.ID())
	defer func() {
		if cerr := page.Close(); cerr != nil {
			logger.Warn("close page", "error", cerr)
		}
	}()

	opts := s.startOptions(job.Case, dir)
	start := s.clock()

	srv, err := s.Launcher.Launch(ctx, opts)
	if err != nil {
		return timings, err
	}
	defer func() {
		srv.Terminate()
		s.writeDebugLog(job, srv.Log(), logger)
	}()
	logger.Debug("server launched", "command", opts.String(), "dir", dir)

	serverStart, err := srv.AwaitSignal(ctx, s.Ready, s.ReadyTimeout)
	if err != nil {
		return timings, fmt.Errorf("await ready signal: %w", err)
	}

	markers, err := s.loadPage(ctx, page, s.url(job.Case))
	if err != nil {
		return timings, err
	}
	startup := s.clock().Sub(start)

	fcp, ok := markers[FCPLabel]
	if !ok {
		return timings, fmt.Errorf("%w: page reported no %s marker", benchmark.ErrParse, FCPLabel)
	}

	timings = benchmark.Timings{
		Startup:     ms(startup),
		ServerStart: serverStart,
		FCP:         fcp,
	}
	logger.Debug("measured", "startup", timings.Startup, "serverStart", timings.ServerStart, "fcp", timings.FCP)
	return timings, nil
}

// loadPage waits for the native load event and every console marker together
func (s *Serve) loadPage(ctx context.Context, page Page, url string) (map[string]float64, error) {
	if s.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.LoadTimeout)
		defer cancel()
	}

	labels := s.Markers
	if len(labels) == 0 {
		labels = []string{FCPLabel}
	}

	var markers map[string]float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := page.Load(gctx, url)
		return err
	})
	g.Go(func() error {
		var err error
		markers, err = page.AwaitMarkers(gctx, labels...)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load %s: %w", url, err)
	}
	return markers, nil
}

// cleanCache removes a cache or output directory of the case. A missing
// directory is fine.
func (s *Serve) cleanCache(ctx context.Context, dir, cachePath string, logger *slog.Logger) error {
	if cachePath == "" {
		return nil
	}
	target := filepath.Join(dir, cachePath)
	if !isWithin(dir, target) {
		return fmt.Errorf("%w: cache path %q leaves case directory %s", benchmark.ErrSetup, cachePath, dir)
	}

	var err error
	for attempt := 0; attempt <= s.SetupRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("retrying cache clean", "path", target, "attempt", attempt, "error", err)
			if perr := s.pause(ctx); perr != nil {
				return perr
			}
		}
		err = os.RemoveAll(target)
		if err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: clean cache %s: %v", benchmark.ErrSetup, target, err)
}

func (s *Serve) startOptions(c benchmark.WorkloadCase, dir string) process.StartOptions {
	command := s.Command
	if len(command) == 0 {
		command = DefaultLauncher
	}
	args := append(append([]string{}, command[1:]...), c.Script)
	return process.StartOptions{Name: command[0], Args: args, Dir: dir}
}

func (s *Serve) url(c benchmark.WorkloadCase) string {
	host := s.Host
	if host == "" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.Port)) + "/"
}

// DebugLogName is the file a served process's output is written to
func DebugLogName(job benchmark.Job) string {
	return fmt.Sprintf("%d-%s-%s-debug-log.txt", job.Round, job.Case.ID, job.Variant.UniqueKey())
}

func (s *Serve) writeDebugLog(job benchmark.Job, log string, logger *slog.Logger) {
	if s.LogDir == "" {
		return
	}
	if err := os.MkdirAll(s.LogDir, 0o755); err != nil {
		logger.Warn("create log dir", "error", err)
		return
	}
	path := filepath.Join(s.LogDir, DebugLogName(job))
	if err := os.WriteFile(path, []byte(log), 0o644); err != nil {
		logger.Warn("write debug log", "path", path, "error", err)
	}
}

func (s *Serve) pause(ctx context.Context) error {
	if s.Settle <= 0 {
		return nil
	}
	if s.sleep != nil {
		return s.sleep(ctx, s.Settle)
	}
	timer := time.NewTimer(s.Settle)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Serve) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Serve) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func isWithin(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

var _ benchmark.CaseRunner = (*Serve)(nil)
