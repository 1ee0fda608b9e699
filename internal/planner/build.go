package planner

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/mattn/go-shellwords"

	"github.com/danieljhkim/stagerun/internal/glob"
)

var (
	// ErrEmptyTemplate is returned for a command that is blank after trimming.
	ErrEmptyTemplate = errors.New("empty command template")

	// ErrBadTemplate is returned when a command cannot be split into words.
	ErrBadTemplate = errors.New("malformed command template")
)

const (
	placeholderFile  = "{file}"
	placeholderFiles = "{files}"
	fixedPrefix      = "!"

	// DefaultMaxArgLength is used when Options.MaxArgLength is unset.
	DefaultMaxArgLength = 131072
)

// Build produces one chain per match and one task per command template.
// The plan is validated completely before it is returned, so a bad template in
// any rule fails the run before a single process starts.
func Build(matches []glob.RuleMatch, opts Options) (*Plan, error) {
	if opts.MaxArgLength <= 0 {
		opts.MaxArgLength = DefaultMaxArgLength
	}

	plan := &Plan{
		Chains: make([]*Chain, 0, len(matches)),
		Paths:  glob.Union(matches),
	}

	for _, m := range matches {
		chain := &Chain{
			Rule:    m.Index,
			Pattern: m.Rule.Pattern,
			Paths:   m.Paths,
			Tasks:   make([]*Task, 0, len(m.Rule.Commands)),
		}

		for _, template := range m.Rule.Commands {
			task, err := buildTask(m, template, opts)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", m.Rule.Pattern, err)
			}
			chain.Tasks = append(chain.Tasks, task)
		}

		plan.Chains = append(plan.Chains, chain)
	}

	return plan, nil
}

func buildTask(m glob.RuleMatch, template string, opts Options) (*Task, error) {
	line := strings.TrimSpace(template)
	forceFixed := strings.HasPrefix(line, fixedPrefix)
	if forceFixed {
		line = strings.TrimSpace(strings.TrimPrefix(line, fixedPrefix))
	}
	if line == "" {
		return nil, fmt.Errorf("%w: %q", ErrEmptyTemplate, template)
	}

	task := &Task{
		Rule:     m.Index,
		Pattern:  m.Rule.Pattern,
		Template: template,
		Paths:    m.Paths,
	}

	words := strings.Fields(line)
	switch {
	case slices.Contains(words, placeholderFile):
		task.Mode = ModePerFile
	case slices.Contains(words, placeholderFiles):
		task.Mode = ModeBatch
	case forceFixed || isFixedProgram(words[0], opts.FixedCommands):
		task.Mode = ModeFixed
	default:
		task.Mode = ModeBatch
	}

	var expand expander
	if opts.Shell {
		expand = shellExpander(line)
	} else {
		argv, err := splitArgv(line)
		if err != nil {
			return nil, err
		}
		expand = argvExpander(argv)
	}

	switch task.Mode {
	case ModeFixed:
		task.Invocations = []Invocation{{Argv: expand(nil, "")}}
	case ModePerFile:
		for _, p := range m.Paths {
			task.Invocations = append(task.Invocations, Invocation{
				Argv:  expand([]string{p}, placeholderFile),
				Paths: []string{p},
			})
		}
	case ModeBatch:
		budget := opts.MaxArgLength - len(line)
		for _, chunk := range chunkPaths(m.Paths, budget) {
			task.Invocations = append(task.Invocations, Invocation{
				Argv:  expand(chunk, placeholderFiles),
				Paths: chunk,
			})
		}
	}

	return task, nil
}

// expander builds an argv from a path group. With an empty placeholder, or one
// the template does not contain, paths are appended.
type expander func(paths []string, placeholder string) []string

func argvExpander(argv []string) expander {
	return func(paths []string, placeholder string) []string {
		out := make([]string, 0, len(argv)+len(paths))
		spliced := false
		for _, word := range argv {
			if placeholder != "" && word == placeholder {
				out = append(out, paths...)
				spliced = true
				continue
			}
			out = append(out, word)
		}
		if !spliced {
			out = append(out, paths...)
		}
		return out
	}
}

func shellExpander(line string) expander {
	return func(paths []string, placeholder string) []string {
		quoted := make([]string, len(paths))
		for i, p := range paths {
			quoted[i] = shellescape.Quote(p)
		}
		joined := strings.Join(quoted, " ")

		cmd := line
		switch {
		case len(paths) == 0:
		case placeholder != "" && indexWord(line, placeholder) >= 0:
			cmd = replaceWord(line, placeholder, joined)
		default:
			cmd = line + " " + joined
		}
		return []string{"sh", "-c", cmd}
	}
}

// splitArgv splits a template into words without involving a shell.
func splitArgv(line string) ([]string, error) {
	parser := shellwords.NewParser()
	argv, err := parser.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadTemplate, line, err)
	}
	// Parsing stops at an unquoted operator such as && or |.
	if parser.Position >= 0 {
		return nil, fmt.Errorf("%w: %q uses shell operators, enable shell mode to run it", ErrBadTemplate, line)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptyTemplate, line)
	}
	return argv, nil
}

func isFixedProgram(program string, fixed []string) bool {
	name := path.Base(strings.Trim(program, `"'`))
	return slices.Contains(fixed, name)
}

// chunkPaths groups paths so each group's argument bytes stay within budget.
// A path longer than the budget still gets a group of its own.
func chunkPaths(paths []string, budget int) [][]string {
	if budget < 1 {
		budget = 1
	}

	var chunks [][]string
	var current []string
	size := 0
	for _, p := range paths {
		if len(current) > 0 && size+len(p)+1 > budget {
			chunks = append(chunks, current)
			current = nil
			size = 0
		}
		current = append(current, p)
		size += len(p) + 1
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// indexWord finds word in s delimited by whitespace or the ends of s.
func indexWord(s, word string) int {
	off := 0
	for off < len(s) {
		i := strings.Index(s[off:], word)
		if i < 0 {
			return -1
		}
		i += off
		end := i + len(word)
		if (i == 0 || isSpace(s[i-1])) && (end == len(s) || isSpace(s[end])) {
			return i
		}
		off = i + 1
	}
	return -1
}

func replaceWord(s, word, repl string) string {
	var b strings.Builder
	for {
		i := indexWord(s, word)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(repl)
		s = s[i+len(word):]
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n'
}
