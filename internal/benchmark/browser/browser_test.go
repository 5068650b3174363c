package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
	"github.com/moguls753/serve-benchmark/internal/benchmark/logsignal"
)

func TestConsoleText(t *testing.T) {
	args := []*runtime.RemoteObject{
		{Type: runtime.TypeString, Value: []byte(`"[vite-perf]:"`)},
		{Type: runtime.TypeString, Value: []byte(`"fcp 1491.5ms"`)},
		nil,
		{Type: runtime.TypeObject, Description: "Object"},
		{Type: runtime.TypeNumber, Value: []byte(`42`)},
	}

	assert.Equal(t, "[vite-perf]: fcp 1491.5ms Object 42", consoleText(args))
}

func TestOnEventCollectsMarkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &Page{
		ctx:     ctx,
		cancel:  cancel,
		logger:  discardLogger(),
		markers: logsignal.DefaultMarkers(),
		values:  make(map[string]float64),
		updated: make(chan struct{}, 1),
	}

	p.onEvent(&runtime.EventConsoleAPICalled{Args: []*runtime.RemoteObject{
		{Type: runtime.TypeString, Value: []byte(`"[vite-perf]: startup 10ms"`)},
	}})
	p.onEvent(&runtime.EventConsoleAPICalled{Args: []*runtime.RemoteObject{
		{Type: runtime.TypeString, Value: []byte(`"[vite] connected."`)},
	}})

	go p.onEvent(&runtime.EventConsoleAPICalled{Args: []*runtime.RemoteObject{
		{Type: runtime.TypeString, Value: []byte(`"[vite-perf]: fcp 20.5ms"`)},
	}})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()

	values, err := p.AwaitMarkers(waitCtx, "startup", "fcp")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"startup": 10, "fcp": 20.5}, values)
}

func TestAwaitMarkersTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &Page{
		ctx:     ctx,
		cancel:  cancel,
		logger:  discardLogger(),
		markers: logsignal.DefaultMarkers(),
		values:  make(map[string]float64),
		updated: make(chan struct{}, 1),
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer waitCancel()

	_, err := p.AwaitMarkers(waitCtx, "fcp")
	assert.ErrorIs(t, err, benchmark.ErrTimeout)
}

func TestMeasurePageLoad(t *testing.T) {
	execPath := findChrome()
	if execPath == "" {
		t.Skip("no Chrome binary available")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!doctype html><html><body><script>
			setTimeout(() => console.log("[vite-perf]: fcp " + performance.now() + "ms"), 50)
		</script></body></html>`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	b, err := Launch(ctx, Options{Headless: true, ExecPath: execPath, Logger: discardLogger()})
	require.NoError(t, err)
	defer b.Close()

	for i := 0; i < 2; i++ {
		res, err := b.MeasurePageLoad(ctx, srv.URL, "fcp")
		require.NoError(t, err)
		assert.Greater(t, res.PageLoad, time.Duration(0))
		assert.Greater(t, res.Markers["fcp"], 0.0)
	}

	require.NoError(t, b.Close())
	_, err = b.NewPage(ctx)
	assert.Error(t, err)
}

func findChrome() string {
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
