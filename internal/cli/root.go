package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/tickmirror/internal/config"
	"github.com/roach88/tickmirror/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	EnvFile    string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tickmirror CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tickmirror",
		Short: "tickmirror - in-memory SQLite mirror with a tick pipeline",
		Long: `Mirror a SQLite database into a shared in-memory database, then advance
a simulated world by running an ordered pipeline of SQL scripts against the
mirror on every tick.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", config.DefaultDotenv, "dotenv file read when present")

	// Add subcommands
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// loadConfig resolves the configuration, applies apply (flag overrides) and
// installs the process logger.
func loadConfig(opts *RootOptions, cmd *cobra.Command, apply func(*config.Config)) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath, opts.EnvFile)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if apply != nil {
		apply(&cfg)
	}

	level := cfg.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	logging.Setup(level, cfg.LogFormat, cmd.ErrOrStderr())
	slog.Debug("config resolved", "config_file", opts.ConfigPath, "source", cfg.Source, "mirror", cfg.Mirror)

	return cfg, nil
}
