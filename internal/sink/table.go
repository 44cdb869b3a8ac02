package sink

import (
	"context"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"

	"pipekit/internal/record"
)

// TableOptions configures the table sink.
type TableOptions struct {
	// Width caps the rendered table width. Zero uses the terminal width
	// when writing to a terminal and leaves the table unbounded otherwise.
	Width int
}

// TableSink buffers records and renders them as a bordered table on Flush.
// Columns are the union of field names in first-seen order.
type TableSink struct {
	text
	width   int
	columns []string
	index   map[string]int
	rows    []record.Record
}

// NewTable writes to w. Close flushes but does not close w.
func NewTable(w io.Writer, opts TableOptions) *TableSink { return newTable(newOutput(w), opts) }

func newTable(out *output, opts TableOptions) *TableSink {
	return &TableSink{text: text{out: out}, width: opts.Width, index: map[string]int{}}
}

func (s *TableSink) Write(_ context.Context, r record.Record) error {
	for _, name := range r.Names() {
		if _, ok := s.index[name]; !ok {
			s.index[name] = len(s.columns)
			s.columns = append(s.columns, name)
		}
	}
	s.rows = append(s.rows, r)
	return nil
}

// Uncommitted reports the rows waiting for the next Flush.
func (s *TableSink) Uncommitted() int { return len(s.rows) }

func (s *TableSink) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(s.rows) > 0 {
		if _, err := s.out.WriteString(s.render() + "\n"); err != nil {
			return err
		}
		s.rows = s.rows[:0]
	}
	return s.out.Flush()
}

func (s *TableSink) Close() error {
	if len(s.rows) > 0 {
		_, _ = s.out.WriteString(s.render() + "\n")
		s.rows = nil
	}
	return s.text.Close()
}

func (s *TableSink) render() string {
	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(s.columns...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, r := range s.rows {
		cells := make([]string, len(s.columns))
		for _, f := range r.Fields() {
			cells[s.index[f.Name]] = f.Value.String()
		}
		t.Row(cells...)
	}
	if s.width > 0 {
		t.Width(s.width)
	}
	return t.String()
}

// terminalWidth reports the width of stdout when it is a terminal, else 0.
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	w, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return w
}
