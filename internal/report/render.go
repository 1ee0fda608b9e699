package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/danieljhkim/stagerun/internal/runner"
)

// Options controls rendering.
type Options struct {
	// Verbose prints the output of successful tasks too.
	Verbose bool

	// Quiet prints nothing but failures.
	Quiet bool

	// JSON prints the report as a JSON document.
	JSON bool

	// Color enables ANSI styling.
	Color bool
}

// ShouldUseColor decides whether w gets ANSI colors. It honours NO_COLOR and
// CLICOLOR_FORCE and otherwise colors only terminals.
func ShouldUseColor(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if _, ok := os.LookupEnv("CLICOLOR_FORCE"); ok {
		return true
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type styles struct {
	pass, fail, warn, muted, bold lipgloss.Style
}

func newStyles(w io.Writer, color bool) styles {
	r := lipgloss.NewRenderer(w)
	if color {
		r.SetColorProfile(termenv.ANSI256)
	} else {
		r.SetColorProfile(termenv.Ascii)
	}
	return styles{
		pass:  r.NewStyle().Foreground(lipgloss.Color("2")),
		fail:  r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		warn:  r.NewStyle().Foreground(lipgloss.Color("3")),
		muted: r.NewStyle().Foreground(lipgloss.Color("8")),
		bold:  r.NewStyle().Bold(true),
	}
}

func (s styles) icon(status runner.Status) string {
	switch status {
	case runner.StatusSucceeded:
		return s.pass.Render("✔")
	case runner.StatusFailed:
		return s.fail.Render("✖")
	case runner.StatusSkipped:
		return s.muted.Render("↓")
	default:
		return s.warn.Render("⚠")
	}
}

// Render writes the report to w.
func Render(w io.Writer, r *Report, opts Options) error {
	if opts.JSON {
		return renderJSON(w, r, opts)
	}

	s := newStyles(w, opts.Color)
	var b strings.Builder

	if !opts.Quiet {
		for _, rule := range r.Rules {
			fmt.Fprintf(&b, "%s %s %s\n", s.icon(rule.Status), s.bold.Render(rule.Pattern), s.muted.Render(plural(len(rule.Files), "file")))
			for _, t := range rule.Tasks {
				fmt.Fprintf(&b, "  %s %s%s\n", s.icon(t.Status), t.Command, taskDetail(s, t))
				if opts.Verbose && t.Status == runner.StatusSucceeded && strings.TrimSpace(t.Output) != "" {
					b.WriteString(indent(t.Output, "      "))
				}
			}
		}
	}

	for _, f := range r.Failed() {
		fmt.Fprintf(&b, "\n%s %s %s\n", s.fail.Render("✖"), s.bold.Render(f.Task.Command), s.muted.Render("("+f.Pattern+")"))
		switch {
		case f.Task.Error != "":
			b.WriteString(indent(f.Task.Error+"\n", "  "))
		case f.Task.ExitCode != 0:
			b.WriteString(indent(fmt.Sprintf("exited with code %d\n", f.Task.ExitCode), "  "))
		}
		if out := strings.TrimRight(f.Task.Output, "\n"); out != "" {
			b.WriteString(indent(out+"\n", "  "))
		}
	}

	if !opts.Quiet {
		if len(r.Modified) > 0 {
			fmt.Fprintf(&b, "\n%s %s\n", s.pass.Render("restaged"), strings.Join(r.Modified, ", "))
		}
		if line := summary(r); line != "" {
			fmt.Fprintf(&b, "\n%s\n", s.muted.Render(line))
		}
	}

	if r.Interrupted {
		fmt.Fprintf(&b, "%s\n", s.warn.Render("interrupted"))
	}
	if r.Restored {
		fmt.Fprintf(&b, "%s\n", s.warn.Render("index and working tree restored to their state before the run"))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func taskDetail(s styles, t TaskReport) string {
	switch t.Status {
	case runner.StatusSucceeded:
		return "  " + s.muted.Render(formatDuration(t.Duration))
	case runner.StatusFailed:
		if t.ExitCode > 0 {
			return "  " + s.fail.Render(fmt.Sprintf("exit %d", t.ExitCode)) + " " + s.muted.Render(formatDuration(t.Duration))
		}
		return "  " + s.fail.Render("failed")
	case runner.StatusSkipped:
		return "  " + s.muted.Render("skipped")
	default:
		return "  " + s.warn.Render(string(t.Status))
	}
}

func summary(r *Report) string {
	total := 0
	for _, rule := range r.Rules {
		total += len(rule.Tasks)
	}
	if total == 0 {
		return ""
	}

	counts := r.Counts()
	parts := []string{fmt.Sprintf("%d passed", counts[runner.StatusSucceeded])}
	for _, st := range []runner.Status{runner.StatusFailed, runner.StatusSkipped, runner.StatusCancelled} {
		if counts[st] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[st], st))
		}
	}
	return fmt.Sprintf("%s, %s: %s", plural(len(r.Rules), "rule"), plural(total, "task"), strings.Join(parts, ", "))
}

func renderJSON(w io.Writer, r *Report, opts Options) error {
	out := *r
	if !opts.Verbose {
		out.Rules = make([]RuleReport, len(r.Rules))
		for i, rule := range r.Rules {
			tasks := make([]TaskReport, len(rule.Tasks))
			for j, t := range rule.Tasks {
				if t.Status == runner.StatusSucceeded {
					t.Output = ""
				}
				tasks[j] = t
			}
			rule.Tasks = tasks
			out.Rules[i] = rule
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.String()
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}

func indent(text, prefix string) string {
	lines := strings.SplitAfter(text, "\n")
	var b strings.Builder
	for _, line := range lines {
		if line == "" {
			continue
		}
		b.WriteString(prefix)
		b.WriteString(line)
	}
	if !strings.HasSuffix(text, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}
