package driver

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"pipekit/internal/errs"
)

// ErrorEntry is one retained per-record failure.
type ErrorEntry struct {
	Stage   string `json:"stage"`
	Index   int64  `json:"index"`
	Message string `json:"message"`
}

// StageReport summarises one stage of the run.
type StageReport struct {
	Name          string `json:"name"`
	Mode          string `json:"mode"`
	In            int64  `json:"in"`
	Out           int64  `json:"out"`
	Skipped       int64  `json:"skipped"`
	Failed        int64  `json:"failed"`
	SpilledChunks int    `json:"spilled_chunks,omitempty"`
}

// Report is the outcome of one run. RecordsIn counts every input unit,
// including ones that failed to parse; RecordsOut counts records the sink
// committed. Errors holds per-record failures in input order, capped by
// Options.MaxErrors; ErrorCount is never capped.
type Report struct {
	Job            string        `json:"job,omitempty"`
	RecordsIn      int64         `json:"records_in"`
	RecordsOut     int64         `json:"records_out"`
	RecordsDropped int64         `json:"records_dropped"`
	ErrorCount     int64         `json:"error_count"`
	Errors         []ErrorEntry  `json:"errors"`
	Truncated      bool          `json:"errors_truncated,omitempty"`
	Stages         []StageReport `json:"stages,omitempty"`
	Duration       time.Duration `json:"-"`
	Fatal          string        `json:"fatal,omitempty"`
	Canceled       bool          `json:"canceled,omitempty"`

	maxErrors int
}

// RecordFailed implements pipeline.Observer.
func (r *Report) RecordFailed(err *errs.RecordError) {
	r.ErrorCount++
	if r.maxErrors >= 0 && len(r.Errors) >= r.maxErrors {
		r.Truncated = true
		return
	}
	r.Errors = append(r.Errors, ErrorEntry{Stage: err.Stage, Index: err.Index, Message: err.Err.Error()})
}

// RecordDropped implements pipeline.Observer.
func (r *Report) RecordDropped(_ string, n int64) {
	r.RecordsDropped += n
}

// OK reports whether the run finished without fatal or per-record errors.
func (r *Report) OK() bool { return r.Fatal == "" && r.ErrorCount == 0 }

// MarshalJSON adds duration_seconds and keeps errors an array when empty.
func (r *Report) MarshalJSON() ([]byte, error) {
	type plain Report
	out := struct {
		*plain
		DurationSeconds float64 `json:"duration_seconds"`
	}{plain: (*plain)(r), DurationSeconds: r.Duration.Seconds()}
	if out.Errors == nil {
		cp := *out.plain
		cp.Errors = []ErrorEntry{}
		out.plain = &cp
	}
	return json.Marshal(out)
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

// WriteText renders a human summary. With styled false the output is plain
// text suitable for logs and pipes.
func (r *Report) WriteText(w io.Writer, styled bool) error {
	paint := func(s lipgloss.Style, text string) string {
		if !styled {
			return text
		}
		return s.Render(text)
	}

	var b strings.Builder
	status := paint(okStyle, "ok")
	switch {
	case r.Canceled:
		status = paint(warnStyle, "canceled")
	case r.Fatal != "":
		status = paint(errStyle, "failed")
	case r.ErrorCount > 0:
		status = paint(warnStyle, "completed with errors")
	}
	fmt.Fprintf(&b, "%s %s (%s)\n", paint(titleStyle, jobName(r.Job)), status, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "  in %s  out %s  dropped %s  errors %s\n",
		humanize.Comma(r.RecordsIn), humanize.Comma(r.RecordsOut),
		humanize.Comma(r.RecordsDropped), humanize.Comma(r.ErrorCount))
	if r.Fatal != "" {
		fmt.Fprintf(&b, "  %s %s\n", paint(errStyle, "fatal:"), r.Fatal)
	}

	if len(r.Stages) > 0 {
		rows := make([][]string, len(r.Stages))
		for i, s := range r.Stages {
			spilled := ""
			if s.SpilledChunks > 0 {
				spilled = strconv.Itoa(s.SpilledChunks)
			}
			rows[i] = []string{s.Name, s.Mode,
				humanize.Comma(s.In), humanize.Comma(s.Out),
				humanize.Comma(s.Skipped), humanize.Comma(s.Failed), spilled}
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("stage", "mode", "in", "out", "skipped", "failed", "spilled").
			Rows(rows...)
		if !styled {
			t = t.Border(lipgloss.ASCIIBorder())
		}
		b.WriteString(t.Render())
		b.WriteByte('\n')
	}

	for _, e := range r.Errors {
		fmt.Fprintf(&b, "  %s %s\n", paint(dimStyle, fmt.Sprintf("#%d %s:", e.Index, e.Stage)), e.Message)
	}
	if r.Truncated {
		fmt.Fprintf(&b, "  %s\n", paint(dimStyle, fmt.Sprintf("... %d more errors not shown", r.ErrorCount-int64(len(r.Errors)))))
	}
	_, err := io.WriteString(w, b.String())
	return err
}
