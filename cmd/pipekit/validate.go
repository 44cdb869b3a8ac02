package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"pipekit/internal/build"
	"pipekit/internal/config"
	"pipekit/internal/ctxlog"
)

func cmdValidate(_ context.Context, args []string, stdout, stderr io.Writer) int {
	var cfgPath string
	var asJSON bool
	fs := newFlagSet("validate", stderr)
	fs.StringVarP(&cfgPath, "config", "c", "", "pipeline file to check")
	fs.BoolVar(&asJSON, "json", false, "print findings as a JSON array")
	if code, ok := parse(fs, args); !ok {
		return code
	}
	if cfgPath == "" {
		fmt.Fprintln(stderr, "pipekit validate: --config is required")
		return exitFailed
	}

	p, err := loadPipeline(cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "pipekit validate: %v\n", err)
		return exitFailed
	}
	issues := config.ValidatePipeline(*p)
	if !config.HasErrors(issues) {
		issues = append(issues, buildIssues(*p)...)
	}

	if asJSON {
		if issues == nil {
			issues = []config.Issue{}
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(issues)
	} else {
		printIssues(stdout, issues)
		if len(issues) == 0 {
			fmt.Fprintf(stdout, "%s: ok\n", cfgPath)
		}
	}
	if config.HasErrors(issues) {
		return exitFailed
	}
	return exitOK
}

// buildIssues constructs the source options and stages without running
// anything, which catches option typos the static checks do not know about.
func buildIssues(p config.Pipeline) []config.Issue {
	var out []config.Issue
	if _, err := build.Source(p.Source); err != nil {
		out = append(out, config.Issue{Severity: config.SeverityError, Path: "source", Message: err.Error()})
	}
	pl, _, err := build.Pipeline(p, ctxlog.Discard())
	if err != nil {
		return append(out, config.Issue{Severity: config.SeverityError, Path: "stages", Message: err.Error()})
	}
	_ = pl.Close()
	return out
}
