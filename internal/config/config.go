// Package config loads the pattern-to-commands table and run settings.
//
// The table is an ordered mapping from glob pattern to a single command or a
// list of commands. Order matters: rules are reported in the order written, so
// every decoder here preserves key order instead of going through a Go map.
//
// Lookup order in the repository root (first hit wins):
//
//	.stagerunrc         JSON or YAML
//	.stagerunrc.json
//	.stagerunrc.yaml
//	.stagerunrc.yml
//	.stagerunrc.toml
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound indicates no configuration file exists.
	ErrNotFound = errors.New("no configuration file found")

	// ErrInvalid indicates a malformed configuration table.
	ErrInvalid = errors.New("invalid configuration")
)

// FileNames lists the configuration files searched for, in priority order.
var FileNames = []string{
	".stagerunrc",
	".stagerunrc.json",
	".stagerunrc.yaml",
	".stagerunrc.yml",
	".stagerunrc.toml",
}

// Rule maps one glob pattern to its ordered command templates.
type Rule struct {
	Pattern  string   `json:"pattern"`
	Commands []string `json:"commands"`
}

// Config is a loaded configuration table.
type Config struct {
	// Path is the file the rules came from.
	Path string

	// Rules keeps the order of the file.
	Rules []Rule
}

// Find returns the first configuration file present in root.
func Find(root string) (string, error) {
	for _, name := range FileNames {
		candidate := filepath.Join(root, name)
		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to stat %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("%w in %s (looked for %s)", ErrNotFound, root, strings.Join(FileNames, ", "))
}

// Load reads and validates the configuration at path.
// Relative paths are resolved against root.
func Load(root, path string) (*Config, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var rules []Rule
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		rules, err = decodeTOML(data)
	} else {
		rules, err = decodeYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if err := Validate(rules); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &Config{Path: path, Rules: rules}, nil
}

// Resolve loads explicit when set, otherwise the first file Find returns.
func Resolve(root, explicit string) (*Config, error) {
	if explicit != "" {
		return Load(root, explicit)
	}

	path, err := Find(root)
	if err != nil {
		return nil, err
	}
	return Load(root, path)
}

// Validate checks the table shape shared by all formats.
func Validate(rules []Rule) error {
	if len(rules) == 0 {
		return fmt.Errorf("%w: no rules defined", ErrInvalid)
	}

	seen := make(map[string]bool, len(rules))
	for _, rule := range rules {
		if strings.TrimSpace(rule.Pattern) == "" {
			return fmt.Errorf("%w: empty pattern", ErrInvalid)
		}
		if seen[rule.Pattern] {
			return fmt.Errorf("%w: duplicate pattern %q", ErrInvalid, rule.Pattern)
		}
		seen[rule.Pattern] = true

		if len(rule.Commands) == 0 {
			return fmt.Errorf("%w: pattern %q has no commands", ErrInvalid, rule.Pattern)
		}
		for _, cmd := range rule.Commands {
			if strings.TrimSpace(cmd) == "" {
				return fmt.Errorf("%w: pattern %q has an empty command", ErrInvalid, rule.Pattern)
			}
		}
	}

	return nil
}
