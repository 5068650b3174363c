// Package logsignal isolates the scraping of timing signals out of free-form
// process output and browser console text.
package logsignal

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/moguls753/serve-benchmark/internal/benchmark"
)

// ReadyPattern matches the dev server's self-reported startup latency,
// e.g. "VITE v4.0.0  ready in 457 ms"
const ReadyPattern = `ready in (\d+(?:\.\d+)?) ms`

// PrebundlePattern matches the dependency optimizer's report on stderr,
// e.g. "vite:deps deps bundled in 812.40ms"
const PrebundlePattern = `(?:deps|Dependencies) bundled in (\d+(?:\.\d+)?) ?ms`

// MarkerPattern matches in-page console markers, e.g. "[vite-perf]: fcp 1632.9ms"
const MarkerPattern = `\[vite-perf\]: (\S+) (\d+(?:\.\d+)?)ms`

// Extractor finds a millisecond value in one line of output.
// ok is false when the line carries no signal.
type Extractor interface {
	Extract(line string) (ms float64, ok bool, err error)
}

// Regexp extracts the first capture group of a regular expression
type Regexp struct {
	re *regexp.Regexp
}

// NewRegexp compiles pattern; it must have at least one capture group
func NewRegexp(pattern string) (*Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	if re.NumSubexp() < 1 {
		return nil, &benchmark.ParseError{Pattern: pattern, Text: pattern, Err: errNoGroup}
	}
	return &Regexp{re: re}, nil
}

// MustRegexp is NewRegexp for package-level patterns
func MustRegexp(pattern string) *Regexp {
	r, err := NewRegexp(pattern)
	if err != nil {
		panic(err)
	}
	return r
}

// Ready is the extractor for ReadyPattern
func Ready() *Regexp { return MustRegexp(ReadyPattern) }

// Prebundle is the extractor for PrebundlePattern
func Prebundle() *Regexp { return MustRegexp(PrebundlePattern) }

func (r *Regexp) String() string { return r.re.String() }

// Extract implements Extractor
func (r *Regexp) Extract(line string) (float64, bool, error) {
	line = Clean(line)
	matches := r.re.FindStringSubmatch(line)
	if matches == nil {
		return 0, false, nil
	}
	if len(matches) < 2 || matches[1] == "" {
		return 0, false, &benchmark.ParseError{Pattern: r.re.String(), Text: line, Err: errNoGroup}
	}

	val, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, false, &benchmark.ParseError{Pattern: r.re.String(), Text: line, Err: err}
	}
	return val, true, nil
}

// Clean strips ANSI escape sequences and surrounding whitespace
func Clean(s string) string {
	return strings.TrimSpace(ansi.Strip(s))
}

var errNoGroup = parseErr("pattern has no value capture group")

type parseErr string

func (e parseErr) Error() string { return string(e) }

// Marker is one labelled timing emitted by the page under test
type Marker struct {
	Label string
	Ms    float64
}

// MarkerParser reads labelled markers out of console text
type MarkerParser struct {
	re *regexp.Regexp
}

// NewMarkerParser compiles a pattern with (label, value) capture groups
func NewMarkerParser(pattern string) (*MarkerParser, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	if re.NumSubexp() < 2 {
		return nil, &benchmark.ParseError{Pattern: pattern, Text: pattern, Err: parseErr("marker pattern needs label and value groups")}
	}
	return &MarkerParser{re: re}, nil
}

// DefaultMarkers parses MarkerPattern
func DefaultMarkers() *MarkerParser {
	p, err := NewMarkerParser(MarkerPattern)
	if err != nil {
		panic(err)
	}
	return p
}

// Parse returns every marker in text. Text without markers yields nil, nil.
func (p *MarkerParser) Parse(text string) ([]Marker, error) {
	text = Clean(text)
	var markers []Marker
	for _, m := range p.re.FindAllStringSubmatch(text, -1) {
		val, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return markers, &benchmark.ParseError{Pattern: p.re.String(), Text: text, Err: err}
		}
		markers = append(markers, Marker{Label: m[1], Ms: val})
	}
	return markers, nil
}
