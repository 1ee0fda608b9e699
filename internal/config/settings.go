package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Environment variables that override defaults. Flags override these in turn.
const (
	EnvConfig      = "STAGERUN_CONFIG"
	EnvConcurrency = "STAGERUN_CONCURRENCY"
	EnvDebug       = "STAGERUN_DEBUG"
	EnvLogLevel    = "STAGERUN_LOG_LEVEL"
	EnvLogFormat   = "STAGERUN_LOG_FORMAT"
)

// DefaultMaxArgLength keeps one invocation's file arguments well below ARG_MAX.
const DefaultMaxArgLength = 131072

// Settings controls a run. The zero value is not useful; start from DefaultSettings.
type Settings struct {
	// ConfigPath overrides configuration discovery when set.
	ConfigPath string

	// Concurrency bounds how many rule chains run at once.
	Concurrency int

	// CheckOnly runs tasks but always restores the tree afterwards.
	CheckOnly bool

	// DryRun prints the plan without running anything.
	DryRun bool

	// Shell runs each command line through sh -c.
	Shell bool

	// Timeout limits each task invocation; zero means none.
	Timeout time.Duration

	// MaxArgLength bounds the file argument bytes of one invocation.
	MaxArgLength int

	// DiffFilter selects which staged changes count (git --diff-filter).
	DiffFilter string

	// AllowEmpty permits a run that leaves nothing staged.
	AllowEmpty bool

	// FixedCommands are programs that never receive file arguments.
	FixedCommands []string

	// LogLevel and LogFormat configure diagnostics on stderr. Debug wins over LogLevel.
	LogLevel  string
	LogFormat string

	Verbose bool
	Quiet   bool
	JSON    bool
	Debug   bool
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Concurrency:   runtime.GOMAXPROCS(0),
		MaxArgLength:  DefaultMaxArgLength,
		DiffFilter:    "ACMR",
		FixedCommands: []string{"make", "just", "task"},
	}
}

// ApplyEnv overlays environment overrides onto s.
func (s *Settings) ApplyEnv() error {
	if v := os.Getenv(EnvConfig); v != "" {
		s.ConfigPath = v
	}

	if v := os.Getenv(EnvConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("%w: %s must be a positive integer, got %q", ErrInvalid, EnvConcurrency, v)
		}
		s.Concurrency = n
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		s.LogLevel = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		s.LogFormat = v
	}

	if v := os.Getenv(EnvDebug); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			s.Debug = true
		}
	}

	return nil
}

// Validate rejects settings the engine cannot honour.
func (s *Settings) Validate() error {
	if s.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalid, s.Concurrency)
	}
	if s.MaxArgLength < 1 {
		return fmt.Errorf("%w: max argument length must be positive", ErrInvalid)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalid)
	}
	if s.Verbose && s.Quiet {
		return fmt.Errorf("%w: --verbose and --quiet are mutually exclusive", ErrInvalid)
	}
	return nil
}
