package sink

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"pipekit/internal/ctxlog"
	"pipekit/internal/record"
)

func people() []record.Record {
	return []record.Record{
		record.MustNew(record.F("name", record.String("ada")), record.F("age", record.Int(36))),
		record.MustNew(record.F("name", record.String("bob, jr")), record.F("tags", record.List(record.String("x")))),
		record.MustNew(record.F("age", record.Float(2.5))),
	}
}

func writeAll(t *testing.T, s Sink, recs []record.Record) {
	t.Helper()
	ctx := context.Background()
	for _, r := range recs {
		require.NoError(t, s.Write(ctx, r))
	}
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Close())
}

func TestJSONLSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	writeAll(t, NewJSONL(&buf), people())
	require.Equal(t, `{"name":"ada","age":36}
{"name":"bob, jr","tags":["x"]}
{"age":2.5}
`, buf.String())
}

func TestCSVSinkHeaderFromFirstRecord(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	writeAll(t, NewCSV(&buf, CSVOptions{}), people())
	require.Equal(t, "name,age\nada,36\n\"bob, jr\",\n,2.5\n", buf.String())
}

func TestCSVSinkExplicitColumns(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	writeAll(t, NewCSV(&buf, CSVOptions{Comma: ';', Columns: []string{"tags", "name"}, NoHeader: true}), people())
	require.Equal(t, `"[""x""]";bob, jr`, strings.Split(buf.String(), "\n")[1])
}

func TestCSVSinkLogsDroppedFieldsOnce(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	ctx := ctxlog.WithLogger(context.Background(),
		slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))

	var buf bytes.Buffer
	s := NewCSV(&buf, CSVOptions{})
	for _, r := range append(people(), people()...) {
		require.NoError(t, s.Write(ctx, r))
	}
	require.NoError(t, s.Flush(ctx))

	lines := strings.Split(strings.TrimRight(logs.String(), "\n"), "\n")
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "field=tags")
	require.Equal(t, "name,age", strings.Split(buf.String(), "\n")[0])
}

func TestTextSinksCountUncommitted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	for name, mk := range map[string]func(io.Writer) Sink{
		"jsonl": func(w io.Writer) Sink { return NewJSONL(w) },
		"csv":   func(w io.Writer) Sink { return NewCSV(w, CSVOptions{}) },
		"lines": func(w io.Writer) Sink { return NewLines(w, LineOptions{Field: "name"}) },
	} {
		var buf bytes.Buffer
		s := mk(&buf)
		b, ok := s.(interface{ Uncommitted() int })
		require.True(t, ok, name)
		for _, r := range people() {
			require.NoError(t, s.Write(ctx, r), name)
		}
		require.Equal(t, 3, b.Uncommitted(), name)
		require.NoError(t, s.Flush(ctx), name)
		require.Zero(t, b.Uncommitted(), name)
		require.NoError(t, s.Write(ctx, people()[0]), name)
		require.Equal(t, 1, b.Uncommitted(), name)
		require.NoError(t, s.Close(), name)
		require.Zero(t, b.Uncommitted(), name)
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestTextSinkFailedFlushKeepsCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewJSONL(failWriter{})
	for _, r := range people() {
		require.NoError(t, s.Write(ctx, r))
	}
	require.ErrorContains(t, s.Flush(ctx), "disk full")
	require.Equal(t, 3, s.Uncommitted())
}

func TestLinesSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	writeAll(t, NewLines(&buf, LineOptions{Field: "name"}), people())
	require.Equal(t, "ada\nbob, jr\n\n", buf.String())
}

func TestTableSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := NewTable(&buf, TableOptions{})
	ctx := context.Background()
	for _, r := range people() {
		require.NoError(t, s.Write(ctx, r))
	}
	require.Equal(t, 3, s.Uncommitted())
	require.Empty(t, buf.String())
	require.NoError(t, s.Flush(ctx))
	require.Zero(t, s.Uncommitted())

	out := buf.String()
	for _, want := range []string{"name", "age", "tags", "ada", "bob, jr", "2.5", `["x"]`} {
		require.Contains(t, out, want)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	// top border, header, separator, three rows, bottom border
	require.Len(t, lines, 7)
	require.NoError(t, s.Close())
}

func TestOpenFileFormats(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	gz := filepath.Join(dir, "out.jsonl.gz")
	s, err := Open(Options{Format: JSONL, Path: gz})
	require.NoError(t, err)
	writeAll(t, s, people()[:1])

	f, err := os.Open(gz)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	b, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.Equal(t, "{\"name\":\"ada\",\"age\":36}\n", string(b))

	_, err = Open(Options{Format: "xml", Path: filepath.Join(dir, "x")})
	require.ErrorContains(t, err, "unknown format")
	_, err = Open(Options{Format: CSV, Path: filepath.Join(dir, "missing", "x.csv")})
	require.Error(t, err)
}

func TestOpenStdout(t *testing.T) {
	var buf bytes.Buffer
	orig := stdout
	stdout = &buf
	defer func() { stdout = orig }()

	s, err := Open(Options{Format: Lines})
	require.NoError(t, err)
	writeAll(t, s, []record.Record{record.MustNew(record.F("line", record.String("hello")))})
	require.Equal(t, "hello\n", buf.String())
}

func TestFlushHonorsCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, NewJSONL(io.Discard).Flush(ctx), context.Canceled)
}
