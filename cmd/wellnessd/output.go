package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorDim    = "\033[2m"
	colorBold   = "\033[1m"
)

// stdout is where command results go; tests swap it for a buffer.
var stdout io.Writer = os.Stdout

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, fmt.Sprintf(format, args...))
}

// printAgentEvent renders one streamed progress event.
func printAgentEvent(agent, text string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", colorize(colorCyan, "["+agent+"]"), colorize(colorDim, text))
}

// printAnswer writes the final report followed by the consulted specialists.
func printAnswer(answer string, agents []string) {
	fmt.Fprintln(stdout, strings.TrimSpace(answer))
	if len(agents) > 0 {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, colorize(colorDim, "Agents consulted: "+strings.Join(agents, ", ")))
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
