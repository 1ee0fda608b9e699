package cli

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/danieljhkim/stagerun/internal/clock"
	"github.com/danieljhkim/stagerun/internal/config"
	"github.com/danieljhkim/stagerun/internal/engine"
	"github.com/danieljhkim/stagerun/internal/fsops"
	"github.com/danieljhkim/stagerun/internal/gitx"
	"github.com/danieljhkim/stagerun/internal/hash"
	"github.com/danieljhkim/stagerun/internal/logging"
	"github.com/danieljhkim/stagerun/internal/runner"
)

// newEngine creates a new engine with real implementations of all dependencies.
func newEngine(settings config.Settings, logOutput io.Writer) *engine.Engine {
	return engine.New(
		gitx.NewRealGitRepo(),
		fsops.NewRealFS(),
		hash.NewBLAKE3Hasher(),
		&clock.RealClock{},
		runner.NewProcessRunner(settings.Timeout),
		newLogger(settings, logOutput),
	)
}

// newLogger only lets warnings through unless --debug or a log level is set.
func newLogger(settings config.Settings, w io.Writer) *slog.Logger {
	level := logging.ParseLevel(settings.LogLevel)
	if settings.Debug {
		level = slog.LevelDebug
	}
	return logging.New(logging.Config{
		Level:  level,
		Format: logging.ParseFormat(settings.LogFormat),
		Output: w,
	})
}

// outputJSON writes a value as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
