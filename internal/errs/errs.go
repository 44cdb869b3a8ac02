// Package errs defines the error taxonomy shared by every pipekit package.
//
// Four concrete kinds exist and callers classify them with errors.As:
//
//   - *ParseError:  an input record could not be decoded.
//   - *ConfigError: a stage or sort key is misconfigured; detected before
//     any record flows.
//   - *RecordError: one record failed inside one stage. Non-fatal; the
//     record is dropped and the failure lands in the execution report.
//   - *IOError:     the source or sink failed. Fatal; the run aborts.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingField is returned (wrapped) when a record has no field with
	// the requested name.
	ErrMissingField = errors.New("missing field")

	// ErrInvalidSortKey marks a sort key that cannot be applied, e.g. it
	// names a field outside the schema hint or repeats a field.
	ErrInvalidSortKey = errors.New("invalid sort key")

	// ErrFatal marks a per-record failure that must abort the run, e.g. a
	// failure in a stage configured as fatal.
	ErrFatal = errors.New("fatal")
)

// ParseError reports malformed input. Line is 1-based when known, 0 otherwise.
type ParseError struct {
	Source string
	Line   int
	Err    error
}

func (e *ParseError) Error() string {
	switch {
	case e.Source != "" && e.Line > 0:
		return fmt.Sprintf("parse %s:%d: %v", e.Source, e.Line, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("parse line %d: %v", e.Line, e.Err)
	case e.Source != "":
		return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
	default:
		return fmt.Sprintf("parse: %v", e.Err)
	}
}

func (e *ParseError) Unwrap() error { return e.Err }

// ConfigError reports an invalid stage or key configuration. Path is a
// dotted location such as "stages[2].keys[0].field".
type ConfigError struct {
	Path string
	Msg  string
	Err  error
}

func (e *ConfigError) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Path == "" {
		return "config: " + msg
	}
	return fmt.Sprintf("config %s: %s", e.Path, msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Configf builds a ConfigError with a formatted message.
func Configf(path, format string, a ...any) *ConfigError {
	return &ConfigError{Path: path, Msg: fmt.Sprintf(format, a...)}
}

// RecordError reports that the record at Index (0-based position in the
// source stream) failed in Stage.
type RecordError struct {
	Stage string
	Index int64
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: stage %s: %v", e.Index, e.Stage, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// IOError reports a source or sink failure. Op is "source" or "sink".
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *IOError) Unwrap() error { return e.Err }

// IsFatal reports whether err must abort a run: I/O and configuration
// failures are fatal, per-record failures are not unless marked with
// ErrFatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFatal) {
		return true
	}
	var re *RecordError
	if errors.As(err, &re) {
		return false
	}
	var pe *ParseError
	return !errors.As(err, &pe)
}
