package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tickmirror/internal/pipeline"
)

// ValidationResult describes a valid configuration.
type ValidationResult struct {
	Valid bool         `json:"valid"`
	Steps []StepResult `json:"steps"`
}

// StepResult describes one pipeline step.
type StepResult struct {
	Name string `json:"name"`
	Mode string `json:"mode"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var pipelinePath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and pipeline without touching any database",
		Long: `Resolve the configuration the same way run does and compile the pipeline
steps, reporting the first problem found. No database is opened.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, pipelinePath, cmd)
		},
	}

	cmd.Flags().StringVar(&pipelinePath, "pipeline", "", "pipeline file replacing the built-in steps")

	return cmd
}

func runValidate(opts *RootOptions, pipelinePath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	cfg, err := loadConfig(opts, cmd, nil)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("pipeline") {
		cfg.Pipeline = pipelinePath
	}

	// The source is only needed to run; validate checks everything else.
	if cfg.Source == "" {
		cfg.Source = "unset"
	}
	if err := cfg.Validate(); err != nil {
		_ = formatter.Error("INVALID_CONFIG", err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	steps, err := cfg.Steps()
	if err == nil {
		err = pipeline.Validate(steps)
	}
	if err != nil {
		_ = formatter.Error("INVALID_PIPELINE", err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid pipeline", err)
	}

	result := ValidationResult{Valid: true, Steps: make([]StepResult, len(steps))}
	for i, s := range steps {
		result.Steps[i] = StepResult{Name: s.Name, Mode: string(s.Mode)}
	}
	return formatter.Success(result)
}

// WriteText lists the validated steps in tick order.
func (r ValidationResult) WriteText(w io.Writer) error {
	for i, s := range r.Steps {
		if _, err := fmt.Fprintf(w, "%d. %s (%s)\n", i+1, s.Name, s.Mode); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "✓ Pipeline valid")
	return err
}
