package cli

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/tickmirror/internal/config"
	"github.com/roach88/tickmirror/internal/mirror"
	"github.com/roach88/tickmirror/internal/store"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Source string
	Mirror string
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Mirror the source database once and report what was copied",
		Long: `Mirror the source database into the in-memory database and print the
mirrored objects and row counts, without starting the scheduler.

Use it to check that a source database can be mirrored before running.

Example:
  tickmirror load --source ./world.db
  tickmirror load --source sqlite://world.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", "", "source database path or URI (default $DATABASE_URL)")
	cmd.Flags().StringVar(&opts.Mirror, "mirror", "", "in-memory mirror URI")

	return cmd
}

func runLoad(opts *LoadOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions, cmd, func(cfg *config.Config) {
		if cmd.Flags().Changed("source") {
			cfg.Source = opts.Source
		}
		if cmd.Flags().Changed("mirror") {
			cfg.Mirror = opts.Mirror
		}
	})
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	pool, err := store.Open(ctx, cfg.Mirror, cfg.Pool)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open mirror pool", err)
	}
	defer func() {
		if closeErr := pool.Close(); closeErr != nil {
			slog.Error("error closing mirror pool", "error", closeErr)
		}
	}()

	report, err := mirror.Load(ctx, cfg.Source, cfg.Mirror)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load mirror", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return formatter.Success(newLoadSummary(report))
}

// LoadSummary is the result of the load command.
type LoadSummary struct {
	Tables     []TableRows `json:"tables"`
	Views      []string    `json:"views"`
	Indexes    []string    `json:"indexes"`
	TotalRows  int64       `json:"total_rows"`
	DurationMS int64       `json:"duration_ms"`
}

// TableRows is the number of rows copied into one mirrored table.
type TableRows struct {
	Name string `json:"name"`
	Rows int64  `json:"rows"`
}

func newLoadSummary(r *mirror.Report) LoadSummary {
	s := LoadSummary{
		Tables:     make([]TableRows, 0, len(r.Catalog.Tables)),
		Views:      make([]string, 0, len(r.Catalog.Views)),
		Indexes:    make([]string, 0, len(r.Catalog.Indexes)),
		TotalRows:  r.TotalRows(),
		DurationMS: r.Duration.Milliseconds(),
	}
	for _, name := range r.Catalog.TableNames() {
		s.Tables = append(s.Tables, TableRows{Name: name, Rows: r.Rows[name]})
	}
	for _, v := range r.Catalog.Views {
		s.Views = append(s.Views, v.Name)
	}
	for _, idx := range r.Catalog.Indexes {
		s.Indexes = append(s.Indexes, idx.Name)
	}
	return s
}

// WriteText renders the summary with digit grouping:
//
//	table     velocity              1,024 rows
//	view      view_velocity_position
//	total                           2,048 rows in 12ms
func (s LoadSummary) WriteText(w io.Writer) error {
	p := message.NewPrinter(language.English)
	for _, t := range s.Tables {
		if _, err := p.Fprintf(w, "table     %-24s %12d rows\n", t.Name, t.Rows); err != nil {
			return err
		}
	}
	for _, v := range s.Views {
		p.Fprintf(w, "view      %s\n", v)
	}
	for _, idx := range s.Indexes {
		p.Fprintf(w, "index     %s\n", idx)
	}
	_, err := p.Fprintf(w, "total     %-24s %12d rows in %v\n", "", s.TotalRows, time.Duration(s.DurationMS)*time.Millisecond)
	return err
}
