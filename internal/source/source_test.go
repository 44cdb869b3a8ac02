package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"

	"pipekit/internal/errs"
	"pipekit/internal/record"
)

type nexter interface {
	Next(ctx context.Context) (record.Record, error)
}

// drain reads src to the end, collecting records as JSON text and
// per-record parse errors. A fatal error fails the test.
func drain(t *testing.T, src nexter) ([]string, []*errs.ParseError) {
	t.Helper()
	var got []string
	var bad []*errs.ParseError
	ctx := context.Background()
	for {
		r, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return got, bad
		}
		var pe *errs.ParseError
		if errors.As(err, &pe) {
			bad = append(bad, pe)
			continue
		}
		require.NoError(t, err)
		got = append(got, r.String())
	}
}

func TestLinesStripsOrdinalsAndSkipsBlanks(t *testing.T) {
	in := "3. Banana\n\n  1.apple  \n# note\nplain\r\n"
	lr, err := NewLines(strings.NewReader(in), "list.txt", LineOptions{StripOrdinal: true, SkipComments: true, Case: "lower"})
	require.NoError(t, err)
	got, bad := drain(t, lr)
	require.Empty(t, bad)
	require.Equal(t, []string{
		`{"line":"banana","n":1}`,
		`{"line":"apple","n":3}`,
		`{"line":"plain","n":5}`,
	}, got)
}

func TestLinesKeepBlankAndCustomField(t *testing.T) {
	lr, err := NewLines(strings.NewReader("a\n\nb"), "x", LineOptions{Field: "word", KeepBlank: true})
	require.NoError(t, err)
	got, _ := drain(t, lr)
	require.Equal(t, []string{`{"word":"a","n":1}`, `{"word":"","n":2}`, `{"word":"b","n":3}`}, got)

	_, err = NewLines(strings.NewReader(""), "x", LineOptions{Field: "n"})
	require.Error(t, err)
	_, err = NewLines(strings.NewReader(""), "x", LineOptions{Case: "title"})
	require.Error(t, err)
}

func TestCSVInfersTypesAndReportsBadRows(t *testing.T) {
	in := "\ufeffName,Age,Member Since\nann,31,2020\nbob,x\ncy,,true\n"
	cr := NewCSV(strings.NewReader(in), "people.csv", CSVOptions{
		Infer:           true,
		NormalizeHeader: true,
		HeaderMap:       map[string]string{"member_since": "since"},
	})
	got, bad := drain(t, cr)
	require.Equal(t, []string{
		`{"name":"ann","age":31,"since":2020}`,
		`{"name":"cy","age":null,"since":true}`,
	}, got)
	require.Len(t, bad, 1)
	require.Equal(t, 3, bad[0].Line)
	require.Equal(t, "people.csv", bad[0].Source)
	require.Equal(t, []string{"name", "age", "since"}, cr.Header())
}

func TestCSVExplicitColumnsAndDelimiter(t *testing.T) {
	cr := NewCSV(strings.NewReader("1;x\n2;y\n"), "t", CSVOptions{Comma: ';', Columns: []string{"id", "v"}})
	got, bad := drain(t, cr)
	require.Empty(t, bad)
	require.Equal(t, []string{`{"id":"1","v":"x"}`, `{"id":"2","v":"y"}`}, got)
}

func TestCSVDuplicateHeaderIsFatal(t *testing.T) {
	cr := NewCSV(strings.NewReader("a,a\n1,2\n"), "dup.csv", CSVOptions{})
	_, err := cr.Next(context.Background())
	require.Error(t, err)
	var pe *errs.ParseError
	require.False(t, errors.As(err, &pe), "header problems must stop the run")
	_, again := cr.Next(context.Background())
	require.Equal(t, err, again)
}

func TestCSVEmptyInput(t *testing.T) {
	got, bad := drain(t, NewCSV(strings.NewReader(""), "e", CSVOptions{}))
	require.Empty(t, got)
	require.Empty(t, bad)
}

func TestJSONLBadLineIsPerRecord(t *testing.T) {
	in := `{"a":1}` + "\n\n" + `{"a":` + "\n" + `[1]` + "\n" + `{"a":2.5,"b":[true,null]}`
	got, bad := drain(t, NewJSONL(strings.NewReader(in), "events.jsonl"))
	require.Equal(t, []string{`{"a":1}`, `{"a":2.5,"b":[true,null]}`}, got)
	require.Len(t, bad, 2)
	require.Equal(t, 3, bad[0].Line)
	require.Equal(t, 4, bad[1].Line)
}

func TestJSONShapes(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		envelope string
		want     []string
		bad      int
	}{
		{name: "root array", in: `[{"a":1},{"a":2}]`, want: []string{`{"a":1}`, `{"a":2}`}},
		{name: "empty array", in: `[]`},
		{name: "single object", in: `{"a":1,"tags":["x"]}`, want: []string{`{"a":1,"tags":["x"]}`}},
		{name: "auto envelope", in: `{"meta":{"n":2},"ids":[1,2],"data":[{"a":1},null,{"a":2}]}`, want: []string{`{"a":1}`, `{"a":2}`}},
		{name: "named envelope", in: `{"first":[{"x":0}],"rows":[{"a":1}],"after":true}`, envelope: "rows", want: []string{`{"a":1}`}},
		{name: "concatenated", in: `{"a":1} {"a":2}`, want: []string{`{"a":1}`, `{"a":2}`}},
		{name: "non-object element", in: `[{"a":1},7,{"a":3}]`, want: []string{`{"a":1}`, `{"a":3}`}, bad: 1},
		{name: "empty input", in: ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, bad := drain(t, NewJSON(strings.NewReader(tt.in), "doc.json", JSONOptions{Envelope: tt.envelope}))
			require.Equal(t, tt.want, got)
			require.Len(t, bad, tt.bad)
		})
	}
}

func TestJSONBrokenSyntaxIsFatal(t *testing.T) {
	j := NewJSON(strings.NewReader(`[{"a":1},{"a":`), "doc.json", JSONOptions{})
	r, err := j.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, r.String())
	_, err = j.Next(context.Background())
	require.Error(t, err)
	var pe *errs.ParseError
	require.False(t, errors.As(err, &pe))

	_, err = NewJSON(strings.NewReader(`{"rows":{}}`), "doc.json", JSONOptions{Envelope: "rows"}).Next(context.Background())
	require.ErrorContains(t, err, "not an array")
	_, err = NewJSON(strings.NewReader(`{"x":[]}`), "doc.json", JSONOptions{Envelope: "rows"}).Next(context.Background())
	require.ErrorContains(t, err, "not found")
}

func writeCompressed(t *testing.T, name string, data []byte) string {
	t.Helper()
	var buf bytes.Buffer
	switch filepath.Ext(name) {
	case ".gz":
		w := gzip.NewWriter(&buf)
		_, err := w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case ".zst":
		w, err := zstd.NewWriter(&buf)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case ".lz4":
		w := lz4.NewWriter(&buf)
		_, err := w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	default:
		buf.Write(data)
	}
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o600))
	return p
}

func TestOpenDecompressesByExtension(t *testing.T) {
	data := []byte("{\"k\":1}\n{\"k\":2}\n")
	for _, name := range []string{"in.jsonl", "in.jsonl.gz", "in.jsonl.zst", "in.jsonl.lz4"} {
		t.Run(name, func(t *testing.T) {
			f, err := Open(context.Background(), Options{Format: JSONL, Path: writeCompressed(t, name, data)})
			require.NoError(t, err)
			defer f.Close()
			got, bad := drain(t, f)
			require.Empty(t, bad)
			require.Equal(t, []string{`{"k":1}`, `{"k":2}`}, got)
		})
	}
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, Options{Format: CSV})
	require.Error(t, err)

	_, err = Open(ctx, Options{Format: CSV, Path: filepath.Join(t.TempDir(), "missing.csv")})
	require.ErrorIs(t, err, os.ErrNotExist)

	p := writeCompressed(t, "x.txt", []byte("a\n"))
	_, err = Open(ctx, Options{Format: "xml", Path: p})
	require.ErrorContains(t, err, "unknown format")
	_, err = Open(ctx, Options{Format: Lines, Path: p, Compression: "brotli"})
	require.ErrorContains(t, err, "unknown compression")

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Open(canceled, Options{Format: Lines, Path: p})
	require.ErrorIs(t, err, context.Canceled)
}

func TestOpenStdin(t *testing.T) {
	old := stdin
	stdin = strings.NewReader("b\na\n")
	t.Cleanup(func() { stdin = old })

	f, err := Open(context.Background(), Options{Format: Lines, Path: "-"})
	require.NoError(t, err)
	defer f.Close()
	got, _ := drain(t, f)
	require.Equal(t, []string{`{"line":"b","n":1}`, `{"line":"a","n":2}`}, got)
}

func TestOpenHTTPRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "id,name\n1,ann\n")
	}))
	defer srv.Close()

	f, err := Open(context.Background(), Options{
		Format: CSV,
		Path:   srv.URL + "/export.csv?day=1",
		CSV:    CSVOptions{Infer: true},
		HTTP:   HTTPConfig{InitialBackoff: time.Millisecond},
	})
	require.NoError(t, err)
	defer f.Close()
	got, _ := drain(t, f)
	require.Equal(t, []string{`{"id":1,"name":"ann"}`}, got)
	require.EqualValues(t, 2, calls.Load())
}

func TestOpenHTTPClientErrorIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Open(context.Background(), Options{Format: JSON, Path: srv.URL, HTTP: HTTPConfig{InitialBackoff: time.Millisecond}})
	require.ErrorContains(t, err, "status 404")
	require.EqualValues(t, 1, calls.Load())
}

func TestBackoffIsClamped(t *testing.T) {
	require.Equal(t, 200*time.Millisecond, backoff(200*time.Millisecond, 0, 5*time.Second))
	require.Equal(t, 800*time.Millisecond, backoff(200*time.Millisecond, 2, 5*time.Second))
	require.Equal(t, 5*time.Second, backoff(200*time.Millisecond, 10, 5*time.Second))
}
