// Package process spawns workload processes, watches their output for ready
// signals and tears down the whole process tree afterwards.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
	"github.com/moguls753/serve-benchmark/internal/benchmark/logsignal"
)

// DefaultKillGrace is how long Terminate waits after SIGTERM before SIGKILL
const DefaultKillGrace = 2 * time.Second

// noColorEnv keeps tool output free of ANSI sequences
var noColorEnv = []string{"NO_COLOR=1", "FORCE_COLOR=0"}

// StartOptions describes one workload process
type StartOptions struct {
	Name string
	Args []string
	Dir  string
	Env  []string // appended to the inherited environment

	// WatchStderr also offers stderr lines to AwaitSignal
	WatchStderr bool
}

func (o StartOptions) String() string {
	return strings.TrimSpace(o.Name + " " + strings.Join(o.Args, " "))
}

// Runner starts workload processes
type Runner struct {
	Logger    *slog.Logger
	KillGrace time.Duration
}

// NewRunner creates a runner logging to logger (nil means slog.Default())
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{Logger: logger, KillGrace: DefaultKillGrace}
}

// Start spawns the process in its own process group. The returned process
// must be terminated by the caller.
func (r *Runner) Start(ctx context.Context, opts StartOptions) (*Process, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("%w: command is required", benchmark.ErrProcessStart)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(opts.Name, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(append(os.Environ(), noColorEnv...), opts.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", benchmark.ErrProcessStart, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", benchmark.ErrProcessStart, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", benchmark.ErrProcessStart, opts, err)
	}

	grace := r.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}

	p := &Process{
		cmd:    cmd,
		opts:   opts,
		grace:  grace,
		logger: r.Logger.With("pid", cmd.Process.Pid, "command", opts.String()),
		done:   make(chan struct{}),
	}
	p.logger.Debug("process started", "dir", opts.Dir)

	go p.wait(stdout, stderr)

	return p, nil
}

// Process is a running workload process
type Process struct {
	cmd    *exec.Cmd
	opts   StartOptions
	grace  time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	lines    []string // lines offered to watchers
	log      strings.Builder
	watchers []*watcher

	done     chan struct{}
	exitCode int
	exitErr  error

	termOnce sync.Once
}

type watcher struct {
	ex     logsignal.Extractor
	result chan watchResult
	fired  bool
}

type watchResult struct {
	ms  float64
	err error
}

// Pid returns the OS process id
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed once the process has exited and its output is drained
func (p *Process) Done() <-chan struct{} { return p.done }

// ExitCode returns the exit code once Done is closed (-1 when killed by a signal)
func (p *Process) ExitCode() int {
	<-p.done
	return p.exitCode
}

// Log returns the ANSI-stripped stdout and stderr seen so far
func (p *Process) Log() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.log.String()
}

// AwaitSignal blocks until a watched line yields a value from ex. Only stdout
// is watched unless StartOptions.WatchStderr is set.
// A timeout <= 0 waits until ctx is done.
func (p *Process) AwaitSignal(ctx context.Context, ex logsignal.Extractor, timeout time.Duration) (float64, error) {
	w := p.watch(ex)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case res := <-w.result:
		return res.ms, res.err
	case <-p.done:
		// the signal may have been the last line before exit
		select {
		case res := <-w.result:
			return res.ms, res.err
		default:
		}
		return 0, p.exitError()
	case <-expired:
		return 0, fmt.Errorf("%w: no ready signal from %q after %s", benchmark.ErrTimeout, p.opts, timeout)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w: waiting for ready signal from %q: %v", benchmark.ErrTimeout, p.opts, ctx.Err())
		}
		return 0, ctx.Err()
	}
}

// watch registers ex and replays lines already seen
func (p *Process) watch(ex logsignal.Extractor) *watcher {
	w := &watcher{ex: ex, result: make(chan watchResult, 1)}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, line := range p.lines {
		if p.offer(w, line) {
			return w
		}
	}
	p.watchers = append(p.watchers, w)
	return w
}

// offer tests line against w; must hold p.mu
func (p *Process) offer(w *watcher, line string) bool {
	if w.fired {
		return true
	}
	ms, ok, err := w.ex.Extract(line)
	if !ok && err == nil {
		return false
	}
	w.fired = true
	w.result <- watchResult{ms: ms, err: err}
	return true
}

func (p *Process) exitError() error {
	switch p.exitCode {
	case 0, 1:
		return fmt.Errorf("%w: %q exited with code %d before its ready signal", benchmark.ErrProcessStart, p.opts, p.exitCode)
	default:
		return fmt.Errorf("%w: %q exited with code %d: %v", benchmark.ErrProcessStart, p.opts, p.exitCode, p.exitErr)
	}
}

func (p *Process) wait(stdout, stderr io.Reader) {
	var g errgroup.Group
	g.Go(func() error { return p.scan(stdout, true) })
	g.Go(func() error { return p.scan(stderr, false) })
	if err := g.Wait(); err != nil {
		p.logger.Debug("output stream closed", "error", err)
	}

	err := p.cmd.Wait()
	p.exitErr = err
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.exitCode = exitErr.ExitCode()
		} else {
			p.exitCode = -1
		}
	}
	p.logger.Debug("process exited", "code", p.exitCode)
	close(p.done)
}

func (p *Process) scan(r io.Reader, isStdout bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := logsignal.Clean(scanner.Text())

		p.mu.Lock()
		p.log.WriteString(line)
		p.log.WriteByte('\n')
		if isStdout || p.opts.WatchStderr {
			p.lines = append(p.lines, line)
			for _, w := range p.watchers {
				p.offer(w, line)
			}
		}
		p.mu.Unlock()
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		// keep the pipe flowing so the child never blocks on a full buffer
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

// Terminate kills the whole process group. It is safe to call more than once
// and after the process has already exited.
func (p *Process) Terminate() {
	p.termOnce.Do(func() {
		select {
		case <-p.done:
			// the leader is gone but forked workers may still hold the group
			p.signalGroup(unix.SIGKILL)
			return
		default:
		}

		p.signalGroup(unix.SIGTERM)
		select {
		case <-p.done:
			p.signalGroup(unix.SIGKILL)
		case <-time.After(p.grace):
			p.logger.Debug("process ignored SIGTERM, killing")
			p.signalGroup(unix.SIGKILL)
			<-p.done
		}
	})
}

func (p *Process) signalGroup(sig syscall.Signal) {
	// Setpgid makes the child the leader of a group with its own pid
	err := unix.Kill(-p.cmd.Process.Pid, sig)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		p.logger.Debug("signal process group", "signal", sig.String(), "error", err)
	}
}
