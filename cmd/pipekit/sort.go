package main

import (
	"context"
	"fmt"
	"io"

	"pipekit/internal/config"
	"pipekit/internal/ctxlog"
)

type sortFlags struct {
	logFlags
	keys       []string
	unique     bool
	ignoreCase bool
	format     string
	output     string
	delimiter  string
	memory     string
	spillDir   string
	keepBlank  bool
	strict     bool
}

func cmdSort(ctx context.Context, args []string, _, stderr io.Writer) int {
	var f sortFlags
	fs := newFlagSet("sort", stderr)
	fs.StringArrayVarP(&f.keys, "key", "k", nil, "sort key field[:asc|desc][:nulls-first|nulls-last]; repeatable (lines default to the line text)")
	fs.BoolVarP(&f.unique, "unique", "u", false, "drop records whose keys equal the previous record's")
	fs.BoolVarP(&f.ignoreCase, "ignore-case", "i", false, "compare strings case-insensitively")
	fs.StringVar(&f.format, "format", "lines", "input and output format: lines, csv or jsonl")
	fs.StringVarP(&f.output, "output", "o", "-", "output file; .gz and .zst are compressed")
	fs.StringVarP(&f.delimiter, "delimiter", "t", "", "csv field delimiter (default ',')")
	fs.StringVarP(&f.memory, "memory", "S", "", "in-memory chunk size before spilling, e.g. 512MiB")
	fs.StringVar(&f.spillDir, "spill-dir", "", "parent directory for spill files (default $TMPDIR)")
	fs.BoolVar(&f.keepBlank, "keep-blank", false, "keep blank lines (lines format)")
	fs.BoolVar(&f.strict, "strict", false, "exit 2 when any record failed to parse")
	f.register(fs)
	if code, ok := parse(fs, args); !ok {
		return code
	}
	ctx = ctxlog.WithLogger(ctx, f.logger(stderr))

	if fs.NArg() > 1 {
		fmt.Fprintln(stderr, "pipekit sort: at most one input file")
		return exitFailed
	}
	in := "-"
	if fs.NArg() == 1 {
		in = fs.Arg(0)
	}
	p, err := f.pipeline(in)
	if err != nil {
		fmt.Fprintf(stderr, "pipekit sort: %v\n", err)
		return exitFailed
	}
	if err := p.ApplyEnv(getenv); err != nil {
		fmt.Fprintf(stderr, "pipekit sort: %v\n", err)
		return exitFailed
	}
	if f.memory != "" {
		p.Runtime.SortMemory = f.memory
	}
	if f.spillDir != "" {
		p.Runtime.SpillDir = f.spillDir
	}
	if printIssues(stderr, config.ValidatePipeline(*p)) {
		return exitFailed
	}

	r := &reporter{format: "none", w: stderr}
	if f.verbose {
		r.format = "text"
	}
	rep, err := runBuild(ctx, *p)
	r.add(rep, err)
	if rep != nil && rep.ErrorCount > 0 && !f.verbose {
		fmt.Fprintf(stderr, "pipekit sort: %d records could not be read\n", rep.ErrorCount)
	}
	return r.exitCode(f.strict)
}

// pipeline describes the sort as a one-stage pipeline.
func (f *sortFlags) pipeline(in string) (*config.Pipeline, error) {
	p := &config.Pipeline{
		Job:    "sort",
		Source: config.Source{Format: f.format, Path: in, Options: config.Options{}},
		Sink:   config.Sink{Kind: f.format, Path: f.output, Options: config.Options{}},
	}
	keys := f.keys
	switch f.format {
	case "lines":
		p.Source.Options["strip_ordinal"] = true
		p.Source.Options["keep_blank"] = f.keepBlank
		if len(keys) == 0 {
			keys = []string{"line"}
		}
	case "csv":
		p.Source.Options["infer"] = true
		if f.delimiter != "" {
			p.Source.Options["comma"] = f.delimiter
			p.Sink.Options["comma"] = f.delimiter
		}
	case "jsonl":
	default:
		return nil, fmt.Errorf("unknown format %q; want lines, csv or jsonl", f.format)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s input needs at least one --key", f.format)
	}
	p.Stages = []config.Stage{{
		Kind: "sort",
		Keys: keys,
		Options: config.Options{
			"fold_case": f.ignoreCase,
			"unique":    f.unique,
		},
	}}
	return p, nil
}
