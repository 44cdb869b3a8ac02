// Command pipekit runs record pipelines described by a pipeline file, and
// sorts text, CSV and JSON Lines files that may not fit in memory.
//
// Usage:
//
//	pipekit run -c pipeline.yaml [--workers N] [--schedule CRON | --every 5m] [--watch]
//	pipekit sort [-k field[:asc|desc][:nulls-first|nulls-last]]... [-u] [-i] [file]
//	pipekit validate -c pipeline.yaml
//	pipekit stages
//
// Exit status is 0 on success, 1 when the run failed or the configuration is
// invalid, and 2 when records failed and --strict was given.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"pipekit/internal/ctxlog"

	// register every db sink backend with the storage factory.
	_ "pipekit/internal/storage/all"
)

const (
	exitOK           = 0
	exitFailed       = 1
	exitRecordErrors = 2
)

// getenv is swapped by tests.
var getenv = os.Getenv

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string, stdout, stderr io.Writer) int
}

var commands = []command{
	{"run", "run a pipeline file once or on a schedule", cmdRun},
	{"sort", "sort a lines, csv or jsonl file by keys", cmdSort},
	{"validate", "check a pipeline file without running it", cmdValidate},
	{"stages", "list the available stage kinds", cmdStages},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitFailed
	}
	switch args[0] {
	case "-h", "--help", "help":
		usage(stdout)
		return exitOK
	}
	for _, c := range commands {
		if c.name == args[0] {
			return c.run(ctx, args[1:], stdout, stderr)
		}
	}
	fmt.Fprintf(stderr, "pipekit: unknown command %q\n\n", args[0])
	usage(stderr)
	return exitFailed
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: pipekit <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, `run "pipekit <command> --help" for the flags of a command`)
}

// logFlags are shared by the commands that log.
type logFlags struct {
	format  string
	verbose bool
}

func (l *logFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&l.format, "log-format", "text", "log format: text or json")
	fs.BoolVarP(&l.verbose, "verbose", "v", false, "enable debug logs")
}

func (l *logFlags) logger(stderr io.Writer) *slog.Logger {
	return ctxlog.New(stderr, l.format, l.verbose)
}

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("pipekit "+name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false
	return fs
}

// parse handles --help and parse errors; ok is false when the command
// should return code.
func parse(fs *pflag.FlagSet, args []string) (code int, ok bool) {
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return exitOK, false
		}
		return exitFailed, false
	}
	return 0, true
}
