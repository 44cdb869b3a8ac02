package build

import (
	"fmt"
	"log/slog"
	"strings"

	"pipekit/internal/config"
	"pipekit/internal/errs"
	"pipekit/internal/sorter"
	"pipekit/internal/spill"
	"pipekit/internal/stage"
	"pipekit/internal/textutil"
)

// Kind describes one stage kind for listings and builds it from config.
type Kind struct {
	Name    string
	Mode    stage.Mode
	Summary string
	// Options lists the keys accepted under the stage's options block.
	Options []string

	build func(st config.Stage, env env) (stage.Stage, error)
}

// env carries run-wide settings some stage kinds need.
type env struct {
	runtime config.RuntimeConfig
	log     *slog.Logger
	hints   map[string]string
}

var kinds = []Kind{
	{Name: "filter", Mode: stage.Streaming, Summary: "keep records whose predicate is true", build: buildFilter},
	{Name: "map", Mode: stage.Streaming, Summary: "set fields from expressions, rename and drop fields",
		Options: []string{"set", "rename", "drop"}, build: buildMap},
	{Name: "flatten", Mode: stage.Streaming, Summary: "emit one record per element of a list field",
		Options: []string{"field", "as", "keep_empty"}, build: buildFlatten},
	{Name: "coerce", Mode: stage.Streaming, Summary: "convert fields to int, float, bool, date or text",
		Options: []string{"types", "layout", "truthy", "falsy"}, build: buildCoerce},
	{Name: "require", Mode: stage.Streaming, Summary: "fail records missing any of the fields",
		Options: []string{"fields"}, build: buildRequire},
	{Name: "normalize", Mode: stage.Streaming, Summary: "clean text fields: html, whitespace, unicode form, case",
		Options: []string{"fields", "strip_html", "collapse", "strip_ordinal", "form", "strip_diacritics", "case"}, build: buildNormalize},
	{Name: "dedupe", Mode: stage.Barrier, Summary: "keep one record per key",
		Options: []string{"policy", "prefer"}, build: buildDedupe},
	{Name: "aggregate", Mode: stage.Barrier, Summary: "group by keys and compute count, sum, min, max, avg",
		Options: []string{"aggregations"}, build: buildAggregate},
	{Name: "sort", Mode: stage.Barrier, Summary: "order records by keys, spilling to disk when large",
		Options: []string{"fold_case", "unique", "schema"}, build: buildSort},
}

// Kinds lists the stage kinds in documentation order.
func Kinds() []Kind { return append([]Kind(nil), kinds...) }

func lookupKind(name string) (Kind, bool) {
	for _, k := range kinds {
		if k.Name == name {
			return k, true
		}
	}
	return Kind{}, false
}

// Stages builds the configured stage chain. The second result maps field
// names to the logical types coerce stages produce; the db sink uses it
// when it creates tables.
func Stages(p config.Pipeline, log *slog.Logger) ([]stage.Stage, map[string]string, error) {
	if log == nil {
		log = slog.Default()
	}
	e := env{runtime: p.Runtime, log: log, hints: map[string]string{}}
	out := make([]stage.Stage, 0, len(p.Stages))
	for i, st := range p.Stages {
		path := fmt.Sprintf("stages[%d]", i)
		k, ok := lookupKind(strings.TrimSpace(st.Kind))
		if !ok {
			return nil, nil, &errs.ConfigError{Path: path + ".kind", Msg: fmt.Sprintf("unknown stage kind %q", st.Kind)}
		}
		if err := st.Options.Check(k.Options...); err != nil {
			return nil, nil, &errs.ConfigError{Path: path + ".options", Err: err}
		}
		s, err := k.build(st, e)
		if err != nil {
			return nil, nil, &errs.ConfigError{Path: path, Err: err}
		}
		if st.Fatal {
			s = stage.Fatal(s)
		}
		out = append(out, s)
	}
	return out, e.hints, nil
}

func buildFilter(st config.Stage, _ env) (stage.Stage, error) {
	return stage.NewFilter(st.Name, st.Predicate)
}

func buildMap(st config.Stage, _ env) (stage.Stage, error) {
	spec := stage.MapSpec{
		Rename: st.Options.StringMap("rename"),
		Drop:   st.Options.StringSlice("drop"),
	}
	for _, s := range st.Options.StringSlice("set") {
		a, err := stage.ParseAssignment(s)
		if err != nil {
			return nil, err
		}
		spec.Set = append(spec.Set, a)
	}
	return stage.NewMap(st.Name, spec)
}

func buildFlatten(st config.Stage, _ env) (stage.Stage, error) {
	o := st.Options
	return stage.NewFlatten(st.Name, o.String("field", ""), o.String("as", ""), o.Bool("keep_empty", false))
}

func buildCoerce(st config.Stage, e env) (stage.Stage, error) {
	o := st.Options
	types := o.StringMap("types")
	c, err := stage.NewCoerce(st.Name, stage.CoerceSpec{
		Types:  types,
		Layout: o.String("layout", ""),
		Truthy: o.StringSlice("truthy"),
		Falsy:  o.StringSlice("falsy"),
	})
	if err != nil {
		return nil, err
	}
	for field, t := range types {
		e.hints[field] = columnType(t)
	}
	return c, nil
}

// columnType maps a coerce target to the storage column vocabulary.
func columnType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "int", "float", "bool", "date":
		return strings.ToLower(strings.TrimSpace(t))
	default:
		return "string"
	}
}

func buildRequire(st config.Stage, _ env) (stage.Stage, error) {
	fields := st.Options.StringSlice("fields")
	if len(fields) == 0 {
		fields = st.Keys
	}
	return stage.NewRequire(st.Name, fields)
}

func buildNormalize(st config.Stage, _ env) (stage.Stage, error) {
	o := st.Options
	return stage.NewNormalize(st.Name, o.StringSlice("fields"), textutil.NormalizeOptions{
		StripHTML:       o.Bool("strip_html", false),
		Collapse:        o.Bool("collapse", false),
		StripOrdinal:    o.Bool("strip_ordinal", false),
		Form:            o.String("form", ""),
		StripDiacritics: o.Bool("strip_diacritics", false),
		Case:            o.String("case", ""),
	})
}

func buildDedupe(st config.Stage, _ env) (stage.Stage, error) {
	return stage.NewDedupe(st.Name, stage.DedupeSpec{
		Keys:         st.Keys,
		Policy:       st.Options.String("policy", ""),
		PreferFields: st.Options.StringSlice("prefer"),
	})
}

func buildAggregate(st config.Stage, _ env) (stage.Stage, error) {
	var aggs []stage.Aggregation
	for _, s := range st.Options.StringSlice("aggregations") {
		a, err := stage.ParseAggregation(s)
		if err != nil {
			return nil, err
		}
		aggs = append(aggs, a)
	}
	return stage.NewAggregate(st.Name, st.Keys, aggs)
}

func buildSort(st config.Stage, e env) (stage.Stage, error) {
	keys := make([]sorter.Key, 0, len(st.Keys))
	for _, s := range st.Keys {
		k, err := sorter.ParseKey(s)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	rt := e.runtime
	memBytes, err := rt.SortMemoryBytes()
	if err != nil {
		return nil, err
	}
	minFree, err := rt.MinFreeBytes()
	if err != nil {
		return nil, err
	}
	codec, err := spill.ParseCodec(rt.SpillCodec)
	if err != nil {
		return nil, err
	}
	return sorter.New(st.Name, sorter.Options{
		Keys:          keys,
		Schema:        st.Options.StringSlice("schema"),
		FoldCase:      st.Options.Bool("fold_case", false),
		Unique:        st.Options.Bool("unique", false),
		MemoryRecords: rt.SortMemoryRecords,
		MemoryBytes:   memBytes,
		Spill: spill.Options{
			Dir:          rt.SpillDir,
			Codec:        codec,
			MinFreeBytes: minFree,
			Logger:       e.log,
		},
		SpillWorkers: rt.SpillWorkers,
		Logger:       e.log,
	})
}
