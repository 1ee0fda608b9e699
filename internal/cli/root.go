// Package cli implements the stagerun command line.
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/danieljhkim/stagerun/internal/config"
	"github.com/danieljhkim/stagerun/internal/engine"
	"github.com/danieljhkim/stagerun/internal/exitcode"
)

var (
	version = "dev"

	sectionTitleColor = color.New(color.FgBlue, color.Bold)
)

// rootOptions holds the raw flag values of one invocation.
type rootOptions struct {
	configPath   string
	concurrency  int
	check        bool
	dryRun       bool
	shell        bool
	timeout      time.Duration
	maxArgLength int
	diffFilter   string
	allowEmpty   bool
	verbose      bool
	quiet        bool
	jsonOutput   bool
	debug        bool
}

// SetVersion sets the version printed by --version and the version command.
func SetVersion(v string) {
	if v == "" {
		return
	}
	version = v
}

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	return buildRootCmd(&rootOptions{})
}

func buildRootCmd(opts *rootOptions) *cobra.Command {
	defaults := config.DefaultSettings()

	rootCmd := &cobra.Command{
		Use:     "stagerun [flags]",
		Version: version,
		Short:   "Run tasks against staged files",
		Long: `stagerun runs the commands configured for each glob pattern against the files
staged in git, then re-stages whatever the commands changed.

Unstaged edits in those files are hidden while tasks run and put back afterwards.
If any task fails, the index and working tree are restored exactly.`,
		Args:          noArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := resolveSettings(cmd, opts)
			if err != nil {
				return err
			}
			return runStaged(cmd, settings)
		},
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.SetHelpFunc(helpFunc)
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", engine.ErrConfig, err)
	})

	flags := rootCmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to the configuration file")
	flags.IntVarP(&opts.concurrency, "concurrency", "p", defaults.Concurrency, "Number of rules to run in parallel")
	flags.BoolVar(&opts.check, "check", false, "Run tasks but always restore the index and working tree")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Print the commands that would run without running them")
	flags.BoolVar(&opts.shell, "shell", false, "Run each command line through sh -c")
	flags.DurationVar(&opts.timeout, "timeout", 0, "Kill a task invocation after this long (0 for no limit)")
	flags.IntVar(&opts.maxArgLength, "max-arg-length", defaults.MaxArgLength, "Maximum bytes of file arguments per invocation")
	flags.StringVar(&opts.diffFilter, "diff-filter", defaults.DiffFilter, "Which staged changes to consider (git --diff-filter)")
	flags.BoolVar(&opts.allowEmpty, "allow-empty", false, "Allow tasks to revert every staged change")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Show the output of successful tasks")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Only print failures")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")
	flags.BoolVar(&opts.debug, "debug", false, "Log debug diagnostics to stderr")

	rootCmd.AddCommand(newVersionCmd(), newCompletionCmd())
	return rootCmd
}

// noArgs rejects positional arguments as a configuration error.
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%w: unexpected argument %q (run %q for usage)", engine.ErrConfig, args[0], cmd.CommandPath()+" --help")
	}
	return nil
}

// resolveSettings layers defaults, then environment, then explicitly set flags.
func resolveSettings(cmd *cobra.Command, opts *rootOptions) (config.Settings, error) {
	settings := config.DefaultSettings()
	if err := settings.ApplyEnv(); err != nil {
		return settings, fmt.Errorf("%w: %w", engine.ErrConfig, err)
	}

	flags := cmd.Flags()
	if flags.Changed("config") {
		settings.ConfigPath = opts.configPath
	}
	if flags.Changed("concurrency") {
		settings.Concurrency = opts.concurrency
	}
	if flags.Changed("timeout") {
		settings.Timeout = opts.timeout
	}
	if flags.Changed("max-arg-length") {
		settings.MaxArgLength = opts.maxArgLength
	}
	if flags.Changed("diff-filter") {
		settings.DiffFilter = opts.diffFilter
	}
	if flags.Changed("debug") {
		settings.Debug = opts.debug
	}
	settings.CheckOnly = opts.check
	settings.DryRun = opts.dryRun
	settings.Shell = opts.shell
	settings.AllowEmpty = opts.allowEmpty
	settings.Verbose = opts.verbose
	settings.Quiet = opts.quiet
	settings.JSON = opts.jsonOutput

	return settings, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the stagerun version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func newCompletionCmd() *cobra.Command {
	completionCmd := &cobra.Command{
		Use:   "completion",
		Short: "Generate the autocompletion script for the specified shell",
		Long: `Generate the autocompletion script for stagerun for the specified shell.
See each sub-command's help for details on how to use the generated script.`,
	}
	completionCmd.AddCommand(&cobra.Command{
		Use:                   "bash",
		Short:                 "Generate the autocompletion script for bash",
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Root().GenBashCompletionV2(cmd.OutOrStdout(), true)
		},
	})
	completionCmd.AddCommand(&cobra.Command{
		Use:                   "zsh",
		Short:                 "Generate the autocompletion script for zsh",
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Root().GenZshCompletion(cmd.OutOrStdout())
		},
	})
	completionCmd.AddCommand(&cobra.Command{
		Use:                   "fish",
		Short:                 "Generate the autocompletion script for fish",
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Root().GenFishCompletion(cmd.OutOrStdout(), true)
		},
	})
	completionCmd.AddCommand(&cobra.Command{
		Use:                   "powershell",
		Short:                 "Generate the autocompletion script for powershell",
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Root().GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
		},
	})
	return completionCmd
}

// helpFunc prints help with colored section titles.
func helpFunc(cmd *cobra.Command, args []string) {
	var help strings.Builder

	if cmd.Long != "" {
		help.WriteString(cmd.Long)
		help.WriteString("\n\n")
	} else if cmd.Short != "" {
		help.WriteString(cmd.Short)
		help.WriteString("\n\n")
	}

	help.WriteString(sectionTitleColor.Sprint("Usage:"))
	help.WriteString("\n")
	fmt.Fprintf(&help, "  %s\n\n", cmd.UseLine())

	hasCommands := false
	for _, c := range cmd.Commands() {
		if !c.IsAvailableCommand() {
			continue
		}
		if !hasCommands {
			help.WriteString(sectionTitleColor.Sprint("Commands:"))
			help.WriteString("\n")
			hasCommands = true
		}
		fmt.Fprintf(&help, "  %-11s %s\n", c.Name(), c.Short)
	}
	if hasCommands {
		help.WriteString("\n")
	}

	if cmd.HasAvailableLocalFlags() || cmd.HasAvailableInheritedFlags() {
		help.WriteString(sectionTitleColor.Sprint("Flags:"))
		help.WriteString("\n")
		help.WriteString(cmd.LocalFlags().FlagUsages())
		help.WriteString(cmd.InheritedFlags().FlagUsages())
		help.WriteString("\n")
	}

	if !cmd.HasParent() {
		help.WriteString(sectionTitleColor.Sprint("Environment:"))
		help.WriteString("\n")
		fmt.Fprintf(&help, "  %-22s %s\n", config.EnvConfig, "Configuration file, like --config")
		fmt.Fprintf(&help, "  %-22s %s\n", config.EnvConcurrency, "Parallel rules, like --concurrency")
		fmt.Fprintf(&help, "  %-22s %s\n", config.EnvDebug, "Set to 1 to log debug diagnostics")
		fmt.Fprintf(&help, "  %-22s %s\n", config.EnvLogLevel, "debug, info, warn or error")
		fmt.Fprintf(&help, "  %-22s %s\n", config.EnvLogFormat, "text or json")
		help.WriteString("\n")

		help.WriteString(sectionTitleColor.Sprint("Exit codes:"))
		help.WriteString("\n")
		for _, code := range exitcode.Codes() {
			fmt.Fprintf(&help, "  %-4d %s\n", code, exitcode.Description(code))
		}
		help.WriteString("\n")
	}

	if hasCommands {
		fmt.Fprintf(&help, "Use \"%s [command] --help\" for more information about a command.\n", cmd.CommandPath())
	}

	fmt.Fprint(cmd.OutOrStdout(), help.String())
}

// Execute runs the command line. ctx is cancelled on SIGINT or SIGTERM.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}
