package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pipekit/internal/config"
	"pipekit/internal/ctxlog"
	"pipekit/internal/errs"
	"pipekit/internal/source"
	"pipekit/internal/stage"
)

func TestSourceMapsOptions(t *testing.T) {
	t.Parallel()

	opts, err := Source(config.Source{
		Format: "csv",
		Path:   "https://example.com/v.csv",
		Options: config.Options{
			"comma":            ";",
			"columns":          []any{"a", "b"},
			"header_map":       map[string]any{"x": "y"},
			"infer":            true,
			"normalize_header": true,
			"timeout":          "5s",
			"retries":          float64(2),
			"headers":          map[string]any{"authorization": "Bearer t"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, source.CSV, opts.Format)
	require.Equal(t, ';', opts.CSV.Comma)
	require.Equal(t, []string{"a", "b"}, opts.CSV.Columns)
	require.Equal(t, map[string]string{"x": "y"}, opts.CSV.HeaderMap)
	require.True(t, opts.CSV.Infer)
	require.True(t, opts.CSV.NormalizeHeader)
	require.Equal(t, "5s", opts.HTTP.Timeout.String())
	require.Equal(t, 2, opts.HTTP.MaxRetries)
	require.Equal(t, "Bearer t", opts.HTTP.Headers.Get("Authorization"))
}

func TestSourceRejectsOptionsOfOtherFormats(t *testing.T) {
	t.Parallel()

	_, err := Source(config.Source{Format: "jsonl", Path: "x", Options: config.Options{"comma": ","}})
	var ce *errs.ConfigError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "source.options", ce.Path)

	_, err = Source(config.Source{Format: "xml", Path: "x"})
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "source.format", ce.Path)
}

func TestStagesBuildsEveryKind(t *testing.T) {
	t.Parallel()

	p := config.Pipeline{
		Runtime: config.RuntimeConfig{SortMemory: "1MiB", SpillCodec: "lz4"},
		Stages: []config.Stage{
			{Kind: "filter", Predicate: "record.age > 1"},
			{Kind: "map", Name: "tidy", Options: config.Options{"set": []any{"full = upper(record.name)"}, "drop": "tmp"}},
			{Kind: "flatten", Options: config.Options{"field": "tags", "as": "tag"}},
			{Kind: "coerce", Fatal: true, Options: config.Options{"types": map[string]any{"age": "int", "born": "date", "ok": "bool", "note": "text"}}},
			{Kind: "require", Keys: []string{"name"}},
			{Kind: "normalize", Options: config.Options{"strip_html": true, "form": "NFC", "case": "lower"}},
			{Kind: "dedupe", Keys: []string{"name"}, Options: config.Options{"policy": "most-complete"}},
			{Kind: "aggregate", Keys: []string{"name"}, Options: config.Options{"aggregations": []any{"count", "sum(age) as total"}}},
			{Kind: "sort", Keys: []string{"total:desc", "name"}, Options: config.Options{"unique": true}},
		},
	}
	stages, hints, err := Stages(p, ctxlog.Discard())
	require.NoError(t, err)
	require.Len(t, stages, len(p.Stages))

	var names []string
	for _, s := range stages {
		names = append(names, s.Name())
	}
	require.Equal(t, []string{"filter", "tidy", "flatten", "coerce", "require", "normalize", "dedupe", "aggregate", "sort"}, names)
	require.True(t, stage.IsFatal(stages[3]))
	require.False(t, stage.IsFatal(stages[0]))
	for i, s := range stages {
		k, _ := lookupKind(p.Stages[i].Kind)
		require.Equal(t, k.Mode, s.Mode(), "stage %s", s.Name())
	}
	require.Equal(t, map[string]string{"age": "int", "born": "date", "ok": "bool", "note": "string"}, hints)
}

func TestStagesReportPath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		stage config.Stage
		path  string
	}{
		{"unknown kind", config.Stage{Kind: "pivot"}, "stages[1].kind"},
		{"unknown option", config.Stage{Kind: "map", Options: config.Options{"sett": []any{"a = 1"}}}, "stages[1].options"},
		{"bad predicate", config.Stage{Kind: "filter", Predicate: "record.a >"}, "stages[1]"},
		{"bad sort key", config.Stage{Kind: "sort", Keys: []string{"a:sideways"}}, "stages[1]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := config.Pipeline{Stages: []config.Stage{{Kind: "filter", Predicate: "true"}, tc.stage}}
			_, _, err := Stages(p, nil)
			var ce *errs.ConfigError
			require.ErrorAs(t, err, &ce)
			require.Equal(t, tc.path, ce.Path)
		})
	}
}

func TestKindsCoverConfig(t *testing.T) {
	t.Parallel()

	var names []string
	for _, k := range Kinds() {
		names = append(names, k.Name)
		require.NotEmpty(t, k.Summary)
	}
	require.Equal(t, config.StageKinds, names)
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "people.csv")
	require.NoError(t, os.WriteFile(in, []byte("id,name\n3,carol\n1,alice\n2,bob\n"), 0o644))
	out := filepath.Join(dir, "out.jsonl")

	p := config.Pipeline{
		Job:    "people",
		Source: config.Source{Format: "csv", Path: in, Options: config.Options{"infer": true}},
		Stages: []config.Stage{
			{Kind: "filter", Predicate: "record.id != 2"},
			{Kind: "sort", Keys: []string{"id:desc"}},
		},
		Sink: config.Sink{Kind: "jsonl", Path: out},
	}
	ctx := ctxlog.WithLogger(context.Background(), ctxlog.Discard())
	rep, err := Run(ctx, p)
	require.NoError(t, err)
	require.Equal(t, int64(3), rep.RecordsIn)
	require.Equal(t, int64(2), rep.RecordsOut)
	require.True(t, rep.OK())

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "{\"id\":3,\"name\":\"carol\"}\n{\"id\":1,\"name\":\"alice\"}\n", string(got))
}

func TestRunOpenErrors(t *testing.T) {
	t.Parallel()

	ctx := ctxlog.WithLogger(context.Background(), ctxlog.Discard())
	rep, err := Run(ctx, config.Pipeline{
		Source: config.Source{Format: "lines", Path: filepath.Join(t.TempDir(), "missing.txt")},
		Sink:   config.Sink{Kind: "jsonl"},
	})
	require.Nil(t, rep)
	require.ErrorContains(t, err, "open source")

	in := filepath.Join(t.TempDir(), "in.txt")
	require.NoError(t, os.WriteFile(in, []byte("a\n"), 0o644))
	rep, err = Run(ctx, config.Pipeline{
		Source: config.Source{Format: "lines", Path: in},
		Sink:   config.Sink{Kind: "xml"},
	})
	require.Nil(t, rep)
	require.ErrorContains(t, err, "open sink")
	require.False(t, errors.Is(err, context.Canceled))
}
