package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"pipekit/internal/build"
)

func cmdStages(_ context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("stages", stderr)
	if code, ok := parse(fs, args); !ok {
		return code
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("KIND", "MODE", "DESCRIPTION", "OPTIONS").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, k := range build.Kinds() {
		t.Row(k.Name, k.Mode.String(), k.Summary, strings.Join(k.Options, ", "))
	}
	fmt.Fprintln(stdout, t.Render())
	return exitOK
}
