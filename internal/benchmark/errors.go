package benchmark

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidVariant indicates a variant reference that cannot be parsed or resolved.
	ErrInvalidVariant = errors.New("invalid variant")

	// ErrSetup indicates that preparing a measurement (cache clean, artifact copy) failed.
	ErrSetup = errors.New("setup failed")

	// ErrProcessStart indicates that the workload process failed to spawn or exited early.
	ErrProcessStart = errors.New("process start failed")

	// ErrTimeout indicates that a ready signal or page load exceeded its bound.
	ErrTimeout = errors.New("timed out")

	// ErrParse indicates that a log signal matched but its value could not be read.
	ErrParse = errors.New("parse failed")

	// ErrAggregation indicates that the typical-value estimator accepted no trials.
	ErrAggregation = errors.New("aggregation failed")

	// ErrSampleCount indicates that a (case, variant) pair does not have exactly `repeats` samples.
	ErrSampleCount = errors.New("unexpected sample count")
)

// ParseError carries the raw text a signal extractor choked on
type ParseError struct {
	Pattern string
	Text    string
	Err     error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %q against %s", e.Text, e.Pattern)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

func (e *ParseError) Unwrap() error { return e.Err }

// SampleError names the (case, variant, round) triple that failed
type SampleError struct {
	Round      int
	CaseID     string
	VariantKey string
	Err        error
}

func (e *SampleError) Error() string {
	return fmt.Sprintf("round %d, case %s, variant %s: %v", e.Round, e.CaseID, e.VariantKey, e.Err)
}

func (e *SampleError) Unwrap() error { return e.Err }

// Failure converts the error into a recorded gap
func (e *SampleError) Failure() SampleFailure {
	return SampleFailure{
		Round:      e.Round,
		CaseID:     e.CaseID,
		VariantKey: e.VariantKey,
		Error:      e.Err.Error(),
	}
}
