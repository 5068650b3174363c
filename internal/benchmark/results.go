package benchmark

import "time"

// Timings is the measured 3-tuple of one case run, all in milliseconds
type Timings struct {
	Startup     float64 `json:"startup"`
	ServerStart float64 `json:"serverStart"`
	FCP         float64 `json:"fcp"`
}

// RawSample is one completed measurement for a (round, case, variant) triple
type RawSample struct {
	Round       int     `json:"index"`
	CaseID      string  `json:"caseId"`
	VariantKey  string  `json:"uniqueKey"`
	Startup     float64 `json:"startup"`
	ServerStart float64 `json:"serverStart"`
	FCP         float64 `json:"fcp"`
}

// NewRawSample tags timings with their scheduling coordinates
func NewRawSample(round int, caseID, variantKey string, t Timings) RawSample {
	return RawSample{
		Round:       round,
		CaseID:      caseID,
		VariantKey:  variantKey,
		Startup:     t.Startup,
		ServerStart: t.ServerStart,
		FCP:         t.FCP,
	}
}

// Metric names one of the three timing fields
type Metric string

const (
	MetricStartup     Metric = "startup"
	MetricServerStart Metric = "serverStart"
	MetricFCP         Metric = "fcp"
)

// AllMetrics lists the timing fields in report order
var AllMetrics = []Metric{MetricStartup, MetricServerStart, MetricFCP}

// Value returns the sample's value for metric m
func (s RawSample) Value(m Metric) float64 {
	switch m {
	case MetricStartup:
		return s.Startup
	case MetricServerStart:
		return s.ServerStart
	case MetricFCP:
		return s.FCP
	default:
		return 0
	}
}

// SampleFailure records a (round, case, variant) triple that produced no sample
type SampleFailure struct {
	Round      int    `json:"index"`
	CaseID     string `json:"caseId"`
	VariantKey string `json:"uniqueKey"`
	Error      string `json:"error"`
}

// Run is the ordered output of one scheduling pass
type Run struct {
	ID        string          `json:"id"`
	StartedAt time.Time       `json:"startedAt"`
	Duration  time.Duration   `json:"duration"`
	Repeats   int             `json:"repeats"`
	Samples   []RawSample     `json:"samples"`
	Failures  []SampleFailure `json:"failures,omitempty"`
}

// MetricStat is the aggregate of one metric over a (case, variant) pair
type MetricStat struct {
	Mean   float64
	Median float64
	KMeans float64
	Values []float64
}

// MetricStats holds the aggregates of all three metrics
type MetricStats struct {
	Startup     MetricStat
	ServerStart MetricStat
	FCP         MetricStat
}

// Get returns the aggregate for metric m
func (s MetricStats) Get(m Metric) MetricStat {
	switch m {
	case MetricStartup:
		return s.Startup
	case MetricServerStart:
		return s.ServerStart
	default:
		return s.FCP
	}
}

// FormattedStat is a MetricStat rendered for reports. "-" marks a missing value.
type FormattedStat struct {
	Mean   string `json:"mean"`
	Median string `json:"median"`
	KMeans string `json:"kmeans"`
}

// FormattedMetrics groups the rendered stats of one row
type FormattedMetrics struct {
	StartupStat     FormattedStat `json:"startupStat"`
	ServerStartStat FormattedStat `json:"serverStartStat"`
	FCPStat         FormattedStat `json:"fcpStat"`
}

// Get returns the rendered stat for metric m
func (f FormattedMetrics) Get(m Metric) FormattedStat {
	switch m {
	case MetricStartup:
		return f.StartupStat
	case MetricServerStart:
		return f.ServerStartStat
	default:
		return f.FCPStat
	}
}

// SummarizedResult is one report row for a (variant, case) pair
type SummarizedResult struct {
	VariantRef      string           `json:"displayRef"`
	VariantKey      string           `json:"uniqueKey"`
	CaseID          string           `json:"caseId"`
	CaseDisplayName string           `json:"displayName"`
	Metrics         FormattedMetrics `json:"metrics"`
	Error           string           `json:"error,omitempty"`

	Stats MetricStats `json:"-"`
	Valid bool        `json:"-"`
}
