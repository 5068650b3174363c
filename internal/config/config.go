// Package config holds every option of a benchmark run. Values are resolved
// once at startup: defaults, then the YAML file, then command line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
	"github.com/moguls753/serve-benchmark/internal/benchmark/scheduler"
	"github.com/moguls753/serve-benchmark/internal/benchmark/statistics"
	"github.com/moguls753/serve-benchmark/internal/runner"
)

// Config enumerates every recognised option
type Config struct {
	// Compares lists the variants as owner/repo@sha, baseline first unless Baseline is set
	Compares []string `yaml:"compares" validate:"required,min=1,dive,required"`
	Baseline string   `yaml:"baseline"`

	// CasesRoot holds one prepared <owner>___<repo>___<sha7> directory per variant
	CasesRoot string `yaml:"casesRoot" validate:"required"`
	Repeats   int    `yaml:"repeats" validate:"min=1"`

	FailurePolicy string        `yaml:"failurePolicy" validate:"oneof=fail-fast continue"`
	Settle        time.Duration `yaml:"settle" validate:"min=0"`
	ReadyTimeout  time.Duration `yaml:"readyTimeout" validate:"gt=0"`
	BuildTimeout  time.Duration `yaml:"buildTimeout" validate:"gt=0"`
	BundleTimeout time.Duration `yaml:"bundleTimeout" validate:"gt=0"`
	LoadTimeout   time.Duration `yaml:"loadTimeout" validate:"gt=0"`
	SetupRetries  int           `yaml:"setupRetries" validate:"min=0,max=10"`

	KMeansTrials int    `yaml:"kmeansTrials" validate:"min=1"`
	KMeansSeed   uint64 `yaml:"kmeansSeed"` // 0 draws a random seed

	Launcher []string `yaml:"launcher" validate:"required,min=1,dive,required"`
	Markers  []string `yaml:"markers" validate:"required,dive,required"`
	Host     string   `yaml:"host" validate:"required"`

	Headless   bool   `yaml:"headless"`
	ChromePath string `yaml:"chromePath"`

	OutputDir    string `yaml:"outputDir"`
	MetricsFile  string `yaml:"metricsFile"`
	DashboardURL string `yaml:"dashboardUrl" validate:"omitempty,url"`
	LogLevel     string `yaml:"logLevel" validate:"oneof=debug info warn error"`

	Cases []benchmark.WorkloadCase `yaml:"cases" validate:"required,min=1,dive"`
}

// DefaultCases are the two dev server workloads shipped with the harness
func DefaultCases() []benchmark.WorkloadCase {
	return []benchmark.WorkloadCase{
		{ID: "perf-1", Port: 5173, Script: "dev", DisplayName: "vite 2.7 slow", CachePath: "./node_modules/.vite"},
		{ID: "perf-2", Port: 5173, Script: "start:vite", DisplayName: "1000 React components", CachePath: "./node_modules/.vite"},
	}
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	return Config{
		CasesRoot:     "cases",
		Repeats:       5,
		FailurePolicy: string(scheduler.FailFast),
		Settle:        runner.DefaultSettle,
		ReadyTimeout:  runner.DefaultReadyTimeout,
		BuildTimeout:  runner.DefaultBuildTimeout,
		BundleTimeout: runner.DefaultBundleTimeout,
		LoadTimeout:   runner.DefaultLoadTimeout,
		SetupRetries:  1,
		KMeansTrials:  statistics.DefaultTrials,
		Launcher:      append([]string{}, runner.DefaultLauncher...),
		Markers:       []string{runner.FCPLabel},
		Host:          "localhost",
		Headless:      true,
		OutputDir:     "results",
		DashboardURL:  "https://vite-benchmark.netlify.app",
		LogLevel:      "info",
		Cases:         DefaultCases(),
	}
}

var validate = validator.New()

// Load reads a YAML file over the defaults
func Load(path string) (Config, error) {
	cfg := Default()
	if err := cfg.merge(path); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) merge(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// BindFlags registers a flag for every option that makes sense on the command line
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringSliceVar(&c.Compares, "compare", c.Compares, "variants to compare as owner/repo@sha (comma separated, baseline first)")
	fs.StringVar(&c.Baseline, "baseline", c.Baseline, "baseline variant (defaults to the first compared variant)")
	fs.StringVar(&c.CasesRoot, "cases-root", c.CasesRoot, "directory holding the prepared case copies of every variant")
	fs.IntVarP(&c.Repeats, "repeats", "n", c.Repeats, "number of rounds")
	fs.StringVar(&c.FailurePolicy, "on-failure", c.FailurePolicy, "what a failed sample does: fail-fast or continue")
	fs.DurationVar(&c.Settle, "settle", c.Settle, "pause before and after every measurement")
	fs.DurationVar(&c.ReadyTimeout, "ready-timeout", c.ReadyTimeout, "bound on waiting for the server's ready line")
	fs.DurationVar(&c.BuildTimeout, "build-timeout", c.BuildTimeout, "bound on a production build case")
	fs.DurationVar(&c.BundleTimeout, "bundle-timeout", c.BundleTimeout, "bound on waiting for the dependency prebundle report")
	fs.DurationVar(&c.LoadTimeout, "load-timeout", c.LoadTimeout, "bound on page load plus console markers")
	fs.IntVar(&c.SetupRetries, "setup-retries", c.SetupRetries, "retries of the cache clean before a sample fails")
	fs.IntVar(&c.KMeansTrials, "kmeans-trials", c.KMeansTrials, "clustering trials per metric")
	fs.Uint64Var(&c.KMeansSeed, "kmeans-seed", c.KMeansSeed, "seed for the clustering trials (0 is random)")
	fs.StringSliceVar(&c.Launcher, "launcher", c.Launcher, "command prefix for case scripts")
	fs.StringVar(&c.Host, "host", c.Host, "host the dev servers listen on")
	fs.BoolVar(&c.Headless, "headless", c.Headless, "run the browser headless")
	fs.StringVar(&c.ChromePath, "chrome", c.ChromePath, "path to the Chrome binary")
	fs.StringVarP(&c.OutputDir, "output", "o", c.OutputDir, "directory for exports and debug logs (empty disables)")
	fs.StringVar(&c.MetricsFile, "metrics-file", c.MetricsFile, "write Prometheus metrics to this textfile")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
}

// Resolve merges the YAML file at path under the flags that were set
// explicitly on fs. Flags win over the file, the file wins over defaults.
func (c *Config) Resolve(path string, fs *pflag.FlagSet) error {
	if path == "" {
		return c.Validate()
	}

	type saved struct {
		flag  *pflag.Flag
		slice []string
		value string
	}
	var explicit []saved
	fs.Visit(func(f *pflag.Flag) {
		s := saved{flag: f}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			s.slice = append([]string{}, sv.GetSlice()...)
		} else {
			s.value = f.Value.String()
		}
		explicit = append(explicit, s)
	})

	if err := c.merge(path); err != nil {
		return err
	}

	for _, s := range explicit {
		var err error
		if sv, ok := s.flag.Value.(pflag.SliceValue); ok {
			err = sv.Replace(s.slice)
		} else {
			err = s.flag.Value.Set(s.value)
		}
		if err != nil {
			return fmt.Errorf("reapply --%s: %w", s.flag.Name, err)
		}
	}
	return c.Validate()
}

// Validate checks field constraints and the relations between fields
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[string]bool, len(c.Cases))
	for _, wc := range c.Cases {
		if seen[wc.ID] {
			return fmt.Errorf("invalid config: duplicate case id %q", wc.ID)
		}
		seen[wc.ID] = true
		if wc.WorkloadKind() == benchmark.KindServe && wc.Port == 0 {
			return fmt.Errorf("invalid config: case %q serves a page and needs a port", wc.ID)
		}
	}

	hasFCP := false
	for _, m := range c.Markers {
		hasFCP = hasFCP || m == runner.FCPLabel
	}
	if !hasFCP {
		return fmt.Errorf("invalid config: markers must include %q", runner.FCPLabel)
	}

	variants, err := c.Variants()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	keys := make(map[string]bool, len(variants))
	for _, v := range variants {
		if keys[v.UniqueKey()] {
			return fmt.Errorf("invalid config: variant %s listed twice", v.DisplayRef())
		}
		keys[v.UniqueKey()] = true
	}
	if _, err := c.BaselineKey(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Variants parses Compares in declaration order
func (c Config) Variants() ([]benchmark.Variant, error) {
	return benchmark.ParseVariants(strings.Join(c.Compares, ","))
}

// BaselineKey is the unique key of the baseline variant
func (c Config) BaselineKey() (string, error) {
	variants, err := c.Variants()
	if err != nil {
		return "", err
	}
	if c.Baseline == "" {
		return variants[0].UniqueKey(), nil
	}
	want, err := benchmark.ParseVariant(c.Baseline)
	if err != nil {
		return "", fmt.Errorf("baseline: %w", err)
	}
	for _, v := range variants {
		if v.UniqueKey() == want.UniqueKey() {
			return v.UniqueKey(), nil
		}
	}
	return "", fmt.Errorf("baseline %s is not among the compared variants", want.DisplayRef())
}

// Policy returns the scheduler failure policy
func (c Config) Policy() scheduler.Policy {
	p, err := scheduler.ParsePolicy(c.FailurePolicy)
	if err != nil {
		return scheduler.FailFast
	}
	return p
}

// KMeans returns the typical-value estimator configuration
func (c Config) KMeans() statistics.KMeans {
	km := statistics.KMeans{K: statistics.DefaultClusters, Trials: c.KMeansTrials}
	if c.KMeansSeed != 0 {
		return km.Seeded(c.KMeansSeed)
	}
	return km
}

// Level maps LogLevel to a slog level
func (c Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
