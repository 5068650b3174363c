// Package browser drives a headless Chrome against a running dev server and
// reads page-load latency plus in-page console timing markers.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
	"github.com/moguls753/serve-benchmark/internal/benchmark/logsignal"
)

// Options configures the shared browser process
type Options struct {
	Headless bool
	ExecPath string // empty means chromedp's lookup
	Logger   *slog.Logger
	Markers  *logsignal.MarkerParser
}

// Browser is the one browser process shared by all measurements of a run.
// Every page gets a fresh browser context so no cache or cookies leak
// between variants.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *slog.Logger
	markers     *logsignal.MarkerParser

	mu     sync.Mutex // serialises browser context creation
	closed bool
}

// Launch starts the browser. The caller owns it and must Close it.
func Launch(ctx context.Context, opts Options) (*Browser, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	markers := opts.Markers
	if markers == nil {
		markers = logsignal.DefaultMarkers()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-extensions", true),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// the first Run starts the browser process
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	logger.Debug("browser launched", "headless", opts.Headless)

	return &Browser{
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		logger:      logger,
		markers:     markers,
	}, nil
}

// Close shuts the browser down. Safe to call more than once.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// NewPage opens a blank page in a fresh browser context with its console
// listener already attached, so markers printed during the first navigation
// are never missed.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("browser is closed")
	}

	tabCtx, cancel := chromedp.NewContext(b.ctx, chromedp.WithNewBrowserContext())
	p := &Page{
		id:      uuid.NewString(),
		ctx:     tabCtx,
		cancel:  cancel,
		markers: b.markers,
		values:  make(map[string]float64),
		updated: make(chan struct{}, 1),
	}
	p.logger = b.logger.With("page", p.id)

	// creates the target without navigating
	if err := runWithin(ctx, tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open page: %w", err)
	}
	chromedp.ListenTarget(tabCtx, p.onEvent)

	return p, nil
}

// PageLoad is the outcome of MeasurePageLoad
type PageLoad struct {
	PageLoad time.Duration
	Markers  map[string]float64
}

// MeasurePageLoad opens a fresh page, loads url, waits for the native load
// event and every marker in labels, then closes the page.
func (b *Browser) MeasurePageLoad(ctx context.Context, url string, labels ...string) (*PageLoad, error) {
	page, err := b.NewPage(ctx)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	load, err := page.Load(ctx, url)
	if err != nil {
		return nil, err
	}
	markers, err := page.AwaitMarkers(ctx, labels...)
	if err != nil {
		return nil, err
	}
	return &PageLoad{PageLoad: load, Markers: markers}, nil
}

// Page is one tab in its own browser context
type Page struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
	markers *logsignal.MarkerParser

	mu       sync.Mutex
	values   map[string]float64
	parseErr error
	updated  chan struct{}

	closeOnce sync.Once
}

// ID identifies the page in logs
func (p *Page) ID() string { return p.id }

// Load navigates to url and returns once the native load event fired
func (p *Page) Load(ctx context.Context, url string) (time.Duration, error) {
	start := time.Now()
	if err := runWithin(ctx, p.ctx, chromedp.Navigate(url)); err != nil {
		return 0, waitError(fmt.Sprintf("load %s", url), err)
	}
	return time.Since(start), nil
}

// AwaitMarkers blocks until every label has been seen on the console and
// returns all markers collected so far.
func (p *Page) AwaitMarkers(ctx context.Context, labels ...string) (map[string]float64, error) {
	for {
		p.mu.Lock()
		if p.parseErr != nil {
			err := p.parseErr
			p.mu.Unlock()
			return nil, err
		}
		if hasAll(p.values, labels) {
			out := make(map[string]float64, len(p.values))
			for k, v := range p.values {
				out[k] = v
			}
			p.mu.Unlock()
			return out, nil
		}
		p.mu.Unlock()

		select {
		case <-p.updated:
		case <-ctx.Done():
			return nil, waitError(fmt.Sprintf("console markers %v", labels), ctx.Err())
		case <-p.ctx.Done():
			return nil, fmt.Errorf("page closed while waiting for markers %v", labels)
		}
	}
}

// Close closes the tab and disposes its browser context
func (p *Page) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = chromedp.Cancel(p.ctx)
		p.cancel()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	})
	return err
}

func (p *Page) onEvent(ev any) {
	call, ok := ev.(*runtime.EventConsoleAPICalled)
	if !ok {
		return
	}

	text := consoleText(call.Args)
	markers, err := p.markers.Parse(text)

	p.mu.Lock()
	if err != nil && p.parseErr == nil {
		p.parseErr = err
	}
	for _, m := range markers {
		p.values[m.Label] = m.Ms
	}
	p.mu.Unlock()

	if len(markers) > 0 {
		p.logger.Debug("console marker", "text", text)
	}
	if len(markers) > 0 || err != nil {
		select {
		case p.updated <- struct{}{}:
		default:
		}
	}
}

// consoleText renders console arguments the way the console prints them
func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		if len(arg.Value) > 0 {
			var s string
			if err := json.Unmarshal([]byte(arg.Value), &s); err == nil {
				parts = append(parts, s)
				continue
			}
			parts = append(parts, string(arg.Value))
			continue
		}
		if arg.Description != "" {
			parts = append(parts, arg.Description)
		}
	}
	return strings.Join(parts, " ")
}

func hasAll(values map[string]float64, labels []string) bool {
	for _, l := range labels {
		if _, ok := values[l]; !ok {
			return false
		}
	}
	return true
}

// runWithin runs actions on target while honouring the caller's ctx.
// chromedp binds the target to its own context, so ctx is only used to
// give up waiting.
func runWithin(ctx context.Context, target context.Context, actions ...chromedp.Action) error {
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(target, actions...) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitError(what string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", benchmark.ErrTimeout, what, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}
