package benchmark

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ShortSHALength is the number of hash characters kept in unique keys
const ShortSHALength = 7

var variantPattern = regexp.MustCompile(`^([^/]+)/([^@]+)@(.+)$`)

// Variant identifies one buildable version of the project under test
type Variant struct {
	Owner string `json:"owner" yaml:"owner"`
	Repo  string `json:"repo" yaml:"repo"`
	SHA   string `json:"sha" yaml:"sha"`
}

// ParseVariant parses an "owner/repo@sha" reference
func ParseVariant(s string) (Variant, error) {
	s = strings.TrimSpace(s)
	m := variantPattern.FindStringSubmatch(s)
	if m == nil {
		return Variant{}, fmt.Errorf("%w: %q (want owner/repo@sha)", ErrInvalidVariant, s)
	}

	ref := m[3]
	if strings.HasPrefix(ref, "heads/") || strings.HasPrefix(ref, "tags/") {
		return Variant{}, fmt.Errorf("%w: %q is a symbolic ref, resolve it to a commit first", ErrInvalidVariant, s)
	}

	return Variant{Owner: m[1], Repo: m[2], SHA: ref}, nil
}

// ParseVariants parses a comma separated list of variant references
func ParseVariants(list string) ([]Variant, error) {
	var variants []Variant
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		v, err := ParseVariant(part)
		if err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("%w: empty variant list", ErrInvalidVariant)
	}
	return variants, nil
}

// ShortSHA returns the abbreviated content identifier
func (v Variant) ShortSHA() string {
	if len(v.SHA) <= ShortSHALength {
		return v.SHA
	}
	return v.SHA[:ShortSHALength]
}

// DisplayRef is the human readable "owner/repo@short" form
func (v Variant) DisplayRef() string {
	return fmt.Sprintf("%s/%s@%s", v.Owner, v.Repo, v.ShortSHA())
}

// UniqueKey is the URL- and filesystem-safe key used for all results of this variant
func (v Variant) UniqueKey() string {
	return encodeURIComponent(v.DisplayRef())
}

// CaseDirName is the directory holding this variant's copy of the workload cases
func (v Variant) CaseDirName() string {
	return fmt.Sprintf("%s___%s___%s", v.Owner, v.Repo, v.ShortSHA())
}

// DecodeKey reverses UniqueKey. The SHA of the result is the short form.
func DecodeKey(key string) (Variant, error) {
	raw, err := url.QueryUnescape(key)
	if err != nil {
		return Variant{}, fmt.Errorf("%w: decode key %q: %v", ErrInvalidVariant, key, err)
	}
	return ParseVariant(raw)
}

// CompareKey joins the unique keys of all variants, baseline first
func CompareKey(variants []Variant) string {
	keys := make([]string, len(variants))
	for i, v := range variants {
		keys[i] = v.UniqueKey()
	}
	return strings.Join(keys, "...")
}

// CompareURL composes the dashboard link for a comparison
func CompareURL(base string, variants []Variant) string {
	return strings.TrimRight(base, "/") + "/?compares=" + CompareKey(variants)
}

// encodeURIComponent matches the JavaScript function of the same name
func encodeURIComponent(s string) string {
	escaped := url.QueryEscape(s)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	for _, keep := range []string{"!", "'", "(", ")", "*"} {
		escaped = strings.ReplaceAll(escaped, url.QueryEscape(keep), keep)
	}
	return escaped
}

// Workload kinds. The zero value measures a dev server cold start.
const (
	KindServe     = "serve"     // dev server ready line plus first contentful paint
	KindBuild     = "build"     // production build, timed until the process exits
	KindPrebundle = "prebundle" // dev server until its dependency optimizer reports
)

// WorkloadCase is a fixed, reusable benchmark scenario
type WorkloadCase struct {
	ID          string `json:"id" yaml:"id" validate:"required"`
	Kind        string `json:"kind,omitempty" yaml:"kind" validate:"omitempty,oneof=serve build prebundle"`
	Port        int    `json:"port" yaml:"port" validate:"min=0,max=65535"`
	Script      string `json:"script" yaml:"script" validate:"required"`
	DisplayName string `json:"displayName" yaml:"displayName"`
	CachePath   string `json:"cachePath" yaml:"cachePath"`
	OutDir      string `json:"outDir,omitempty" yaml:"outDir"` // build output removed before each sample
}

// WorkloadKind returns Kind, defaulting to KindServe
func (c WorkloadCase) WorkloadKind() string {
	if c.Kind == "" {
		return KindServe
	}
	return c.Kind
}

// Name returns the display name, falling back to the id
func (c WorkloadCase) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.ID
}

// Job is one (round, case, variant) pairing handed to a case runner
type Job struct {
	Round    int
	Case     WorkloadCase
	Variant  Variant
	CasesDir string // directory holding the variant's workload case copies
}

// CaseRunner measures one job
type CaseRunner interface {
	Run(ctx context.Context, job Job) (Timings, error)
}
