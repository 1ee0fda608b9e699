package planner

import "strings"

// Mode is how a task receives the matched paths.
type Mode int

const (
	// ModeBatch passes all paths to each invocation (chunked by argument length).
	ModeBatch Mode = iota

	// ModePerFile runs one invocation per path.
	ModePerFile

	// ModeFixed runs once with no paths.
	ModeFixed
)

// String returns the mode name used in reports.
func (m Mode) String() string {
	switch m {
	case ModeBatch:
		return "batch"
	case ModePerFile:
		return "per-file"
	case ModeFixed:
		return "fixed"
	default:
		return "unknown"
	}
}

// Invocation is one concrete process to spawn.
type Invocation struct {
	// Argv is the program followed by its arguments.
	Argv []string

	// Paths are the matched files this invocation received.
	Paths []string
}

// String renders the invocation for logs and dry runs.
func (i Invocation) String() string {
	return strings.Join(i.Argv, " ")
}

// Task is one command template applied to a rule's matched paths.
type Task struct {
	// Rule is the index of the owning rule in the configuration.
	Rule int

	// Pattern is the owning rule's glob.
	Pattern string

	// Template is the command as written in the configuration.
	Template string

	Mode  Mode
	Paths []string

	// Invocations run sequentially; the task fails at the first non-zero exit.
	Invocations []Invocation
}

// Chain is the ordered task list for one rule.
type Chain struct {
	Rule    int
	Pattern string
	Paths   []string
	Tasks   []*Task
}

// Plan is the complete, immutable description of a run.
type Plan struct {
	// Chains keep configuration order.
	Chains []*Chain

	// Paths is the union of every chain's paths in staged order.
	Paths []string
}

// Options controls template classification and expansion.
type Options struct {
	// FixedCommands lists programs that never receive file arguments.
	FixedCommands []string

	// Shell runs every invocation through sh -c.
	Shell bool

	// MaxArgLength bounds the file argument bytes of one batch invocation.
	MaxArgLength int
}

// Empty reports whether the plan has nothing to run.
func (p *Plan) Empty() bool {
	return len(p.Chains) == 0
}

// TaskCount returns the number of tasks across all chains.
func (p *Plan) TaskCount() int {
	n := 0
	for _, c := range p.Chains {
		n += len(c.Tasks)
	}
	return n
}
