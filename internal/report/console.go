package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// Box-drawing Unicode characters
const (
	boxHorizontal     = "─"
	boxVertical       = "│"
	boxTopLeft        = "┌"
	boxTopRight       = "┐"
	boxBottomLeft     = "└"
	boxBottomRight    = "┘"
	boxVerticalRight  = "├"
	boxVerticalLeft   = "┤"
	boxHorizontalUp   = "┴"
	boxHorizontalDown = "┬"
	boxCross          = "┼"
)

// ConsoleFormatter formats run reports for console output.
type ConsoleFormatter struct {
	writer     io.Writer
	noColor    bool
	reportPath string
}

// NewConsoleFormatter creates a new console formatter.
func NewConsoleFormatter() *ConsoleFormatter {
	return &ConsoleFormatter{
		writer:  os.Stdout,
		noColor: os.Getenv("NO_COLOR") != "",
	}
}

// WithWriter sets a custom writer (useful for testing).
func (cf *ConsoleFormatter) WithWriter(w io.Writer) *ConsoleFormatter {
	cf.writer = w
	return cf
}

// WithReportPath sets the path to the JSON report file.
func (cf *ConsoleFormatter) WithReportPath(path string) *ConsoleFormatter {
	cf.reportPath = path
	return cf
}

// WithNoColor disables color output.
func (cf *ConsoleFormatter) WithNoColor(noColor bool) *ConsoleFormatter {
	cf.noColor = noColor
	return cf
}

// PrintSummary prints a formatted summary of the report.
func (cf *ConsoleFormatter) PrintSummary(report *Report) {
	if report == nil {
		return
	}

	cf.printHeader(report)
	cf.printSummarySection(report)
	cf.printSimulatorTable(report)
	cf.printWarnings(report)
	cf.printFooter()
}

func (cf *ConsoleFormatter) printHeader(report *Report) {
	width := 70

	cf.println(cf.boxLine(boxTopLeft, boxHorizontal, boxTopRight, width))

	title := " cosim - Run Results "
	cf.println(cf.boxRow(cf.bold(cf.cyan(title)), width))

	cf.println(cf.boxLine(boxVerticalRight, boxHorizontal, boxVerticalLeft, width))

	cf.println(cf.boxRow(fmt.Sprintf("  Until: %d    Simulators: %d",
		report.RunInfo.Until,
		report.Summary.SimulatorCount), width))

	cf.println(cf.boxRow(fmt.Sprintf("  Duration: %s    Time Resolution: %gs/tick",
		cf.bold(formatDuration(report.RunInfo.Duration)),
		report.RunInfo.TimeResolution), width))

	if report.RunInfo.RTFactor > 0 {
		cf.println(cf.boxRow(fmt.Sprintf("  Real-time Factor: %gx    Max Loop Iterations: %d",
			report.RunInfo.RTFactor,
			report.RunInfo.MaxLoopIterations), width))
	} else {
		cf.println(cf.boxRow(fmt.Sprintf("  Max Loop Iterations: %d",
			report.RunInfo.MaxLoopIterations), width))
	}
}

func (cf *ConsoleFormatter) printSummarySection(report *Report) {
	width := 70

	cf.println(cf.boxLine(boxVerticalRight, boxHorizontal, boxVerticalLeft, width))

	cf.println(cf.boxRow(cf.bold("  Summary"), width))
	cf.println(cf.boxRow("", width))

	cf.println(cf.boxRow(fmt.Sprintf("  Total Steps:    %s",
		cf.bold(formatNumber(report.Summary.TotalSteps))), width))

	errorPct := report.Summary.ErrorRate
	errorStr := fmt.Sprintf("%.3f%%", errorPct)
	coloredError := cf.colorizeErrorRate(errorStr, errorPct)
	cf.println(cf.boxRow(fmt.Sprintf("  Total Errors:   %s (%s)",
		formatNumber(report.Summary.TotalErrors),
		coloredError), width))

	cf.println(cf.boxRow(fmt.Sprintf("  Throughput:     %s steps/s",
		cf.bold(fmt.Sprintf("%.1f", report.Summary.StepsPerSecond))), width))
}

func (cf *ConsoleFormatter) printSimulatorTable(report *Report) {
	width := 70

	cf.println(cf.boxLine(boxVerticalRight, boxHorizontal, boxVerticalLeft, width))

	cf.println(cf.boxRow(cf.bold("  Step Duration (µs)"), width))
	cf.println(cf.boxRow("", width))

	if len(report.Simulators) == 0 {
		cf.println(cf.boxRow("  No simulator data available", width))
		return
	}

	header := fmt.Sprintf("  %-14s %8s %8s %8s %8s %8s %8s",
		"Simulator", "Steps", "Avg", "p50", "p95", "p99", "Max")
	cf.println(cf.boxRow(cf.dim(header), width))

	cf.println(cf.boxRow("  "+strings.Repeat("─", 62), width))

	ids := make([]string, 0, len(report.Simulators))
	for id := range report.Simulators {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		sr := report.Simulators[id]
		if sr == nil {
			continue
		}

		row := fmt.Sprintf("  %-14s %8s %8s %8s %8s %8s %8s",
			truncateString(id, 14),
			formatNumber(sr.Steps),
			formatNumber(sr.Duration.Mean.Microseconds()),
			formatNumber(sr.Duration.P50.Microseconds()),
			formatNumber(sr.Duration.P95.Microseconds()),
			formatNumber(sr.Duration.P99.Microseconds()),
			formatNumber(sr.Duration.Max.Microseconds()))
		cf.println(cf.boxRow(row, width))
	}
}

func (cf *ConsoleFormatter) printWarnings(report *Report) {
	if len(report.SealWarnings) == 0 && len(report.RuntimeWarnings) == 0 {
		return
	}

	width := 70
	cf.println(cf.boxLine(boxVerticalRight, boxHorizontal, boxVerticalLeft, width))
	cf.println(cf.boxRow(cf.bold(cf.yellow("  Warnings")), width))
	cf.println(cf.boxRow("", width))

	for _, w := range report.SealWarnings {
		cf.println(cf.boxRow(fmt.Sprintf("  [seal] %s", truncateString(w, 58)), width))
	}
	for _, w := range report.RuntimeWarnings {
		cf.println(cf.boxRow(fmt.Sprintf("  [run]  %s", truncateString(w, 58)), width))
	}
}

func (cf *ConsoleFormatter) printFooter() {
	width := 70

	cf.println(cf.boxLine(boxVerticalRight, boxHorizontal, boxVerticalLeft, width))

	if cf.reportPath != "" {
		cf.println(cf.boxRow(fmt.Sprintf("  Full report: %s", cf.dim(cf.reportPath)), width))
	}

	cf.println(cf.boxRow(fmt.Sprintf("  Generated: %s",
		cf.dim(time.Now().Format("2006-01-02 15:04:05"))), width))

	cf.println(cf.boxLine(boxBottomLeft, boxHorizontal, boxBottomRight, width))
}

// Helper methods for box drawing

func (cf *ConsoleFormatter) boxLine(left, fill, right string, width int) string {
	return left + strings.Repeat(fill, width-2) + right
}

func (cf *ConsoleFormatter) boxRow(content string, width int) string {
	visibleLen := cf.visibleLength(content)
	padding := width - 2 - visibleLen
	if padding < 0 {
		padding = 0
	}
	return boxVertical + content + strings.Repeat(" ", padding) + boxVertical
}

func (cf *ConsoleFormatter) visibleLength(s string) int {
	inEscape := false
	length := 0
	for _, r := range s {
		if r == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if r == 'm' {
				inEscape = false
			}
			continue
		}
		length++
	}
	return length
}

// Color helper methods

func (cf *ConsoleFormatter) colorize(s string, color string) string {
	if cf.noColor {
		return s
	}
	return color + s + colorReset
}

func (cf *ConsoleFormatter) bold(s string) string {
	return cf.colorize(s, colorBold)
}

func (cf *ConsoleFormatter) dim(s string) string {
	return cf.colorize(s, colorDim)
}

func (cf *ConsoleFormatter) green(s string) string {
	return cf.colorize(s, colorGreen)
}

func (cf *ConsoleFormatter) yellow(s string) string {
	return cf.colorize(s, colorYellow)
}

func (cf *ConsoleFormatter) red(s string) string {
	return cf.colorize(s, colorRed)
}

func (cf *ConsoleFormatter) cyan(s string) string {
	return cf.colorize(s, colorCyan)
}

func (cf *ConsoleFormatter) colorizeErrorRate(s string, rate float64) string {
	if rate < 0.1 {
		return cf.green(s)
	} else if rate < 1.0 {
		return cf.yellow(s)
	}
	return cf.red(s)
}

func (cf *ConsoleFormatter) println(s string) {
	fmt.Fprintln(cf.writer, s)
}

// Formatting helper functions

// formatNumber formats an integer with thousands separators.
// Example: 45230 -> "45,230"
func formatNumber[T int | int64](n T) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}

	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	remainder := len(str) % 3
	if remainder > 0 {
		result.WriteString(str[:remainder])
		if len(str) > remainder {
			result.WriteString(",")
		}
	}

	for i := remainder; i < len(str); i += 3 {
		if i > remainder {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}

	return result.String()
}

// formatDuration formats a duration in a human-readable way.
// Example: 5m0s, 1h30m, 2h0m0s -> "2h"
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Millisecond).String()
	}

	d = d.Round(time.Second)

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		if minutes == 0 && seconds == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		if seconds == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	}

	if minutes > 0 {
		if seconds == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}

	return fmt.Sprintf("%ds", seconds)
}

// truncateString truncates a string to maxLen, adding ellipsis if needed.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
