// Package glob resolves configured glob patterns against staged file paths.
//
// Patterns support `*` within a path segment, `**` across segments, `?`,
// character classes and brace alternation such as `*.{md,json}`. Matching is
// case-sensitive and operates on slash-separated repository-relative paths.
//
// A pattern without a slash is matched against the base name of each path, so
// `*.go` selects Go files at any depth. A pattern with a slash is anchored at
// the repository root: `cmd/*.go` only matches files directly under cmd/.
package glob

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrBadPattern is returned for malformed glob syntax.
var ErrBadPattern = errors.New("malformed glob pattern")

// Pattern is a validated glob.
type Pattern struct {
	raw      string
	expr     string
	baseOnly bool
}

// Compile validates pattern and prepares it for matching.
func Compile(pattern string) (*Pattern, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrBadPattern)
	}

	expr := strings.TrimPrefix(pattern, "./")
	expr = strings.TrimPrefix(expr, "/")
	if !doublestar.ValidatePattern(expr) {
		return nil, fmt.Errorf("%w: %q", ErrBadPattern, pattern)
	}

	return &Pattern{
		raw:      pattern,
		expr:     expr,
		baseOnly: !strings.Contains(expr, "/"),
	}, nil
}

// String returns the pattern as written in the configuration.
func (p *Pattern) String() string {
	return p.raw
}

// Match reports whether the repository-relative path matches.
func (p *Pattern) Match(relPath string) bool {
	target := relPath
	if p.baseOnly {
		target = path.Base(relPath)
	}
	// Validated at compile time, so the error cannot occur.
	ok, _ := doublestar.Match(p.expr, target)
	return ok
}

// Filter returns the paths that match, preserving their order.
func (p *Pattern) Filter(paths []string) []string {
	var matched []string
	for _, rel := range paths {
		if p.Match(rel) {
			matched = append(matched, rel)
		}
	}
	return matched
}
