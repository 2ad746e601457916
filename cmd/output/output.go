// Package output provides functions to print messages with optional color formatting
package output

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/skiff-cd/skiff/validate"
)

const (
	Plain   = color.FgWhite
	Success = color.FgGreen
	Warning = color.FgYellow
	Error   = color.FgRed
)

var maybeColorize func(kind color.Attribute, tmpl string, a ...any) string

// InitColors sets up color functions based on environment
func InitColors(isColorDisabled bool) {
	if color.NoColor || isColorDisabled {
		// Fallback to plain formatting if colors are not supported
		maybeColorize = func(kind color.Attribute, tmpl string, a ...any) string {
			return fmt.Sprintf(tmpl, a...)
		}
	} else {
		maybeColorize = func(kind color.Attribute, tmpl string, a ...any) string {
			return color.New(kind).SprintfFunc()(tmpl, a...)
		}
	}
}

// PrintMessage formats a message with color (if enabled) and prints it
func PrintMessage(kind color.Attribute, tmpl string, a ...any) string {
	if maybeColorize == nil || kind == Plain {
		return fmt.Sprintf(tmpl+"\n", a...)
	} else {
		return fmt.Sprintln(maybeColorize(kind, tmpl, a...))
	}
}

func PrintTable(header []string, data [][]string) (string, error) {
	buf := strings.Builder{}

	table := tablewriter.NewTable(
		&buf,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines: tw.Lines{
					ShowHeaderLine: tw.Off,
				},
				Separators: tw.Separators{
					BetweenColumns: tw.Off,
				},
			},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{PerColumn: []tw.Align{tw.AlignRight, tw.AlignLeft}},
			},
		}))

	if len(header) > 0 {
		table.Header(header)
	}

	if err := table.Bulk(data); err != nil {
		return "", fmt.Errorf("bulk adding data to table: %w", err)
	}

	if err := table.Render(); err != nil {
		return "", fmt.Errorf("rendering table: %w", err)
	}

	return buf.String(), nil
}

// PrintValidationReport renders the post-deploy health signals. Independent
// signals are shown side by side so the operator can tell a dead container
// from a firewall problem.
func PrintValidationReport(report *validate.Report) (string, error) {
	data := [][]string{
		{"Docker Runtime", boolStatus(report.RuntimeUp)},
		{"Containers", containerSummary(report.ContainerInfo)},
		{"Internal HTTP", httpStatus(report.InternalStatus)},
		{"External HTTP", httpStatus(report.ExternalStatus)},
	}

	table, err := PrintTable([]string{}, data)
	if err != nil {
		return "", fmt.Errorf("printing validation report table: %w", err)
	}
	return table, nil
}

func boolStatus(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

func containerSummary(info string) string {
	if info == "" {
		return "none running"
	}
	lines := strings.Split(strings.TrimSpace(info), "\n")
	return fmt.Sprintf("%d running", len(lines))
}

func httpStatus(status int) string {
	if status == validate.StatusUnreachable {
		return "unreachable"
	}
	return fmt.Sprintf("HTTP %d", status)
}

// CLI flag for disabling color output

// NoColor is a flag that can be used to disable colored output in the CLI.
var NoColor = &noColorFlag{set: false}

type noColorFlag struct {
	set bool
}

func (f *noColorFlag) Set(value string) error {
	// This is a boolean flag, so we ignore the value and just mark it as set
	f.set = true
	return nil
}

func (f *noColorFlag) String() string {
	if f.set {
		return "true"
	}
	return "false"
}

func (f *noColorFlag) Type() string {
	return "bool"
}

// IsSet returns true if the --no-color flag was explicitly set
func (f *noColorFlag) IsSet() bool {
	return f.set
}

// IsBoolFlag tells pflag this is a boolean flag (no argument required)
func (f *noColorFlag) IsBoolFlag() bool {
	return true
}
