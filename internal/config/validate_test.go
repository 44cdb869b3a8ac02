package config

import (
	"strings"
	"testing"
	"time"
)

// hasIssue reports whether issues contains an Issue with the given severity,
// path, and a Message containing msgSubstr.
func hasIssue(t *testing.T, issues []Issue, sev IssueSeverity, path, msgSubstr string) bool {
	t.Helper()
	for _, iss := range issues {
		if iss.Severity == sev && iss.Path == path && strings.Contains(iss.Message, msgSubstr) {
			return true
		}
	}
	return false
}

func validPipeline() Pipeline {
	return Pipeline{
		Job:    "test-job",
		Source: Source{Format: "csv", Path: "input.csv"},
		Stages: []Stage{
			{Kind: "filter", Predicate: "record.n > 1"},
			{Kind: "sort", Keys: []string{"n:desc"}},
		},
		Sink: Sink{Kind: "db", DB: DBConfig{
			Kind: "postgres", DSN: "postgres://user@localhost/db", Table: "public.t",
			Columns: []string{"id", "n"}, KeyColumns: []string{"id"}, AutoCreateTable: true,
		}},
	}
}

func TestValidatePipeline_ValidMinimal(t *testing.T) {
	t.Parallel()

	if issues := ValidatePipeline(validPipeline()); len(issues) != 0 {
		t.Fatalf("expected no issues, got %+v", issues)
	}
}

func TestValidatePipeline_MissingJob(t *testing.T) {
	t.Parallel()

	p := validPipeline()
	p.Job = ""
	issues := ValidatePipeline(p)
	if !hasIssue(t, issues, SeverityError, "job", "job must not be empty") {
		t.Fatalf("expected SeverityError for job; got issues: %+v", issues)
	}
	if !HasErrors(issues) {
		t.Fatal("HasErrors = false")
	}
}

func TestValidatePipeline_Findings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(p *Pipeline)
		sev    IssueSeverity
		path   string
		msg    string
	}{
		{"empty source path", func(p *Pipeline) { p.Source.Path = "" }, SeverityError, "source.path", "must not be empty"},
		{"unknown format", func(p *Pipeline) { p.Source.Format = "xml" }, SeverityError, "source.format", `unknown source format "xml"`},
		{"bad compression", func(p *Pipeline) { p.Source.Compression = "bz2" }, SeverityError, "source.compression", "bz2"},
		{"long comma", func(p *Pipeline) { p.Source.Options = Options{"comma": ";;"} }, SeverityError, "source.options.comma", "single character"},
		{"empty stage kind", func(p *Pipeline) { p.Stages[0].Kind = "" }, SeverityError, "stages[0].kind", "must not be empty"},
		{"unknown stage kind", func(p *Pipeline) { p.Stages[0].Kind = "explode" }, SeverityError, "stages[0].kind", `unknown stage kind "explode"`},
		{"missing predicate", func(p *Pipeline) { p.Stages[0].Predicate = "" }, SeverityError, "stages[0].predicate", "requires a predicate"},
		{"broken predicate", func(p *Pipeline) { p.Stages[0].Predicate = "record.n >" }, SeverityError, "stages[0].predicate", ""},
		{"sort without keys", func(p *Pipeline) { p.Stages[1].Keys = nil }, SeverityError, "stages[1].keys", "at least one key"},
		{"bad sort key", func(p *Pipeline) { p.Stages[1].Keys = []string{"n:sideways"} }, SeverityError, "stages[1].keys[0]", "sideways"},
		{"duplicate sort field", func(p *Pipeline) { p.Stages[1].Keys = []string{"n", "n:desc"} }, SeverityError, "stages[1].keys[1]", "more than one key"},
		{"dedupe policy", func(p *Pipeline) {
			p.Stages = append(p.Stages, Stage{Kind: "dedupe", Keys: []string{"id"}, Options: Options{"policy": "newest"}})
		}, SeverityError, "stages[2].options.policy", "policy must be"},
		{"dedupe keys", func(p *Pipeline) { p.Stages = append(p.Stages, Stage{Kind: "dedupe"}) }, SeverityError, "stages[2].keys", "key fields"},
		{"aggregate op", func(p *Pipeline) {
			p.Stages = append(p.Stages, Stage{Kind: "aggregate", Options: Options{"aggregations": []any{"median(x)"}}})
		}, SeverityError, "stages[2].options.aggregations[0]", ""},
		{"coerce types", func(p *Pipeline) { p.Stages = append(p.Stages, Stage{Kind: "coerce"}) }, SeverityError, "stages[2].options.types", "field -> type"},
		{"flatten field", func(p *Pipeline) { p.Stages = append(p.Stages, Stage{Kind: "flatten"}) }, SeverityError, "stages[2].options.field", "list field"},
		{"map no-op", func(p *Pipeline) { p.Stages = append(p.Stages, Stage{Kind: "map"}) }, SeverityWarning, "stages[2].options", "unchanged"},
		{"map assignment", func(p *Pipeline) {
			p.Stages = append(p.Stages, Stage{Kind: "map", Options: Options{"set": []any{"= 1"}}})
		}, SeverityError, "stages[2].options.set[0]", "field = expression"},
		{"duplicate names", func(p *Pipeline) {
			p.Stages[0].Name = "step"
			p.Stages[1].Name = "step"
		}, SeverityWarning, "stages[1].name", "ambiguous"},
		{"no sink", func(p *Pipeline) { p.Sink = Sink{} }, SeverityError, "sink.kind", "must not be empty"},
		{"unknown sink", func(p *Pipeline) { p.Sink.Kind = "kafka" }, SeverityError, "sink.kind", `unknown sink kind "kafka"`},
		{"unknown storage", func(p *Pipeline) { p.Sink.DB.Kind = "oracle" }, SeverityError, "sink.db.kind", "oracle"},
		{"no dsn", func(p *Pipeline) { p.Sink.DB.DSN = "" }, SeverityError, "sink.db.dsn", "must not be empty"},
		{"no table", func(p *Pipeline) { p.Sink.DB.Table = " " }, SeverityError, "sink.db.table", "must not be empty"},
		{"inferred columns", func(p *Pipeline) {
			p.Sink.DB.Columns = nil
		}, SeverityWarning, "sink.db.columns", "first records"},
		{"stray key column", func(p *Pipeline) { p.Sink.DB.KeyColumns = []string{"vin"} }, SeverityError, "sink.db.key_columns[0]", `"vin"`},
		{"unused keys", func(p *Pipeline) { p.Sink.DB.AutoCreateTable = false }, SeverityWarning, "sink.db.key_columns", "auto_create_table"},
		{"mongo", func(p *Pipeline) { p.Sink = Sink{Kind: "mongo", Mongo: MongoConfig{URI: "mongodb://h"}} }, SeverityError, "sink.mongo", "database and collection"},
		{"negative workers", func(p *Pipeline) { p.Runtime.Workers = -1 }, SeverityError, "runtime.workers", "negative"},
		{"sort memory", func(p *Pipeline) { p.Runtime.SortMemory = "lots" }, SeverityError, "runtime.sort_memory", "runtime.sort_memory"},
		{"spill codec", func(p *Pipeline) { p.Runtime.SpillCodec = "brotli" }, SeverityError, "runtime.spill_codec", "brotli"},
		{"metrics backend", func(p *Pipeline) { p.Metrics.Backend = "statsd" }, SeverityError, "metrics.backend", "statsd"},
		{"prompush url", func(p *Pipeline) { p.Metrics.Backend = "prompush" }, SeverityError, "metrics.pushgateway_url", "requires"},
		{"cron and every", func(p *Pipeline) {
			p.Schedule = Schedule{Cron: "@daily", Every: Duration(time.Hour)}
		}, SeverityError, "schedule", "mutually exclusive"},
		{"bad cron", func(p *Pipeline) { p.Schedule.Cron = "every day" }, SeverityError, "schedule.cron", ""},
		{"watch stdin", func(p *Pipeline) {
			p.Source.Path = "-"
			p.Schedule.Watch = true
		}, SeverityError, "schedule.watch", "local source file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := validPipeline()
			tt.mutate(&p)
			issues := ValidatePipeline(p)
			if !hasIssue(t, issues, tt.sev, tt.path, tt.msg) {
				t.Fatalf("want %s at %s containing %q; got %+v", tt.sev, tt.path, tt.msg, issues)
			}
		})
	}
}

func TestIssueError(t *testing.T) {
	t.Parallel()

	got := Issue{Severity: SeverityError, Path: "sink.kind", Message: "boom"}.Error()
	if got != "error at sink.kind: boom" {
		t.Fatalf("Error() = %q", got)
	}
}
