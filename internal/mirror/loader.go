package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/tickmirror/internal/catalog"
	"github.com/roach88/tickmirror/internal/metrics"
	"github.com/roach88/tickmirror/internal/store"
)

// attachAlias is the schema name the mirror is attached under on the source
// connection for the duration of the copy.
const attachAlias = "mirror"

// Statement is one SQL statement issued by the loader, in issue order.
type Statement struct {
	Phase  Phase
	Kind   catalog.Kind // Empty for ATTACH, DETACH and copy statements.
	Object string
	SQL    string
}

// Report summarizes a successful load.
type Report struct {
	Catalog  *catalog.Catalog
	Rows     map[string]int64 // Rows copied, by table name.
	Duration time.Duration
}

// TotalRows returns the number of rows copied across all tables.
func (r *Report) TotalRows() int64 {
	var n int64
	for _, rows := range r.Rows {
		n += rows
	}
	return n
}

// Option configures a load.
type Option func(*loader)

// WithTrace registers fn to observe every statement before it is executed.
func WithTrace(fn func(Statement)) Option {
	return func(l *loader) {
		l.trace = fn
	}
}

type loader struct {
	trace func(Statement)
}

func (l *loader) emit(st Statement) {
	if l.trace != nil {
		l.trace(st)
	}
}

// Load mirrors the source database at sourceURI into the database at mirrorURI.
//
// Both connections are opened directly, outside any Pool, and closed before
// Load returns. The source is never read again after Load returns.
func Load(ctx context.Context, sourceURI, mirrorURI string, opts ...Option) (*Report, error) {
	l := &loader{}
	for _, opt := range opts {
		opt(l)
	}

	start := time.Now()
	report, err := l.load(ctx, store.SourceDSN(sourceURI), mirrorURI)
	if err != nil {
		phase := Phase("unknown")
		var le *LoadError
		if errors.As(err, &le) {
			phase = le.Phase
		}
		metrics.LoadFailuresTotal.WithLabelValues(string(phase)).Inc()
		slog.Error("mirror load failed",
			"phase", phase,
			"sqlite_code", store.ErrorCode(err),
			"error", err,
		)
		return nil, err
	}

	report.Duration = time.Since(start)
	metrics.LoadSeconds.Observe(report.Duration.Seconds())
	for table, n := range report.Rows {
		metrics.RowsCopiedTotal.WithLabelValues(table).Add(float64(n))
	}

	slog.Info("mirror loaded",
		"tables", len(report.Catalog.Tables),
		"views", len(report.Catalog.Views),
		"indexes", len(report.Catalog.Indexes),
		"rows", report.TotalRows(),
		"duration", report.Duration,
	)
	return report, nil
}

func (l *loader) load(ctx context.Context, sourceDSN, mirrorURI string) (*Report, error) {
	src, mem, err := openBoth(ctx, sourceDSN, mirrorURI)
	if err != nil {
		return nil, &LoadError{Phase: PhaseConnect, Err: err}
	}
	defer src.close()
	defer mem.close()

	return l.mirrorFrom(ctx, src.conn, mem.conn, mirrorURI)
}

// mirrorFrom runs every phase after connect over the two open connections.
func (l *loader) mirrorFrom(ctx context.Context, src, mem *sql.Conn, mirrorURI string) (*Report, error) {
	cat, err := catalog.Read(ctx, src)
	if err != nil {
		return nil, &LoadError{Phase: PhaseSchemaRead, Err: err}
	}
	slog.Debug("source catalog read",
		"tables", len(cat.Tables),
		"views", len(cat.Views),
		"indexes", len(cat.Indexes),
	)

	if err := l.applySchema(ctx, mem, cat.Tables); err != nil {
		return nil, err
	}
	if err := l.applySchema(ctx, mem, cat.Views); err != nil {
		return nil, err
	}

	rows, err := l.copyData(ctx, src, mirrorURI, cat.TableNames())
	if err != nil {
		return nil, err
	}

	if err := l.applySchema(ctx, mem, cat.Indexes); err != nil {
		return nil, err
	}

	return &Report{Catalog: cat, Rows: rows}, nil
}

// applySchema executes the DDL of objects in one transaction. SQLite DDL is
// transactional, so a failure leaves none of the batch behind.
func (l *loader) applySchema(ctx context.Context, conn *sql.Conn, objects []catalog.SchemaObject) error {
	if len(objects) == 0 {
		return nil
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return &LoadError{Phase: PhaseSchemaApply, Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer tx.Rollback() // No-op if committed

	for _, obj := range objects {
		l.emit(Statement{Phase: PhaseSchemaApply, Kind: obj.Kind, Object: obj.Name, SQL: obj.SQL})
		if _, err := tx.ExecContext(ctx, obj.SQL); err != nil {
			return &LoadError{Phase: PhaseSchemaApply, Object: obj.Name, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &LoadError{Phase: PhaseSchemaApply, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

// copyData attaches the mirror to the source connection, copies every table,
// and detaches again whether or not the copy succeeded.
func (l *loader) copyData(ctx context.Context, conn *sql.Conn, mirrorURI string, tables []string) (rows map[string]int64, err error) {
	rows = make(map[string]int64, len(tables))
	if len(tables) == 0 {
		return rows, nil
	}

	attach := fmt.Sprintf("ATTACH DATABASE ? AS %s", attachAlias)
	l.emit(Statement{Phase: PhaseDataCopy, SQL: attach})
	if _, err := conn.ExecContext(ctx, attach, mirrorURI); err != nil {
		return nil, &LoadError{Phase: PhaseDataCopy, Err: fmt.Errorf("attach mirror: %w", err)}
	}
	defer func() {
		detach := fmt.Sprintf("DETACH DATABASE %s", attachAlias)
		l.emit(Statement{Phase: PhaseDataCopy, SQL: detach})
		if _, derr := conn.ExecContext(context.WithoutCancel(ctx), detach); derr != nil {
			slog.Warn("failed to detach mirror", "error", derr)
			if err == nil {
				err = &LoadError{Phase: PhaseDataCopy, Err: fmt.Errorf("detach mirror: %w", derr)}
			}
		}
	}()

	if err := l.copyTables(ctx, conn, tables, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// copyTables runs one INSERT ... SELECT per table inside a single
// transaction. The transaction is finished before copyData detaches.
func (l *loader) copyTables(ctx context.Context, conn *sql.Conn, tables []string, rows map[string]int64) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return &LoadError{Phase: PhaseDataCopy, Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer tx.Rollback() // No-op if committed

	for _, table := range tables {
		ident := catalog.QuoteIdent(table)
		stmt := fmt.Sprintf("INSERT INTO %s.%s SELECT * FROM main.%s", attachAlias, ident, ident)
		l.emit(Statement{Phase: PhaseDataCopy, Object: table, SQL: stmt})

		res, err := tx.ExecContext(ctx, stmt)
		if err != nil {
			return &LoadError{Phase: PhaseDataCopy, Object: table, Err: err}
		}
		n, err := res.RowsAffected()
		if err != nil {
			return &LoadError{Phase: PhaseDataCopy, Object: table, Err: err}
		}
		rows[table] = n
	}

	if err := tx.Commit(); err != nil {
		return &LoadError{Phase: PhaseDataCopy, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

// direct is a single dedicated connection outside any pool.
type direct struct {
	db   *sql.DB
	conn *sql.Conn
}

func (d *direct) close() {
	if d.conn != nil {
		d.conn.Close()
	}
	if d.db != nil {
		d.db.Close()
	}
}

// openBoth opens the source and mirror connections concurrently.
func openBoth(ctx context.Context, sourceDSN, mirrorURI string) (src, mem *direct, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		src, err = openDirect(gctx, sourceDSN, true)
		if err != nil {
			return fmt.Errorf("open source: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		mem, err = openDirect(gctx, mirrorURI, false)
		if err != nil {
			return fmt.Errorf("open mirror: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if src != nil {
			src.close()
		}
		if mem != nil {
			mem.close()
		}
		return nil, nil, err
	}
	return src, mem, nil
}

func openDirect(ctx context.Context, dsn string, mustExist bool) (*direct, error) {
	// SQLite creates missing files on open unless the URI says otherwise.
	if mustExist {
		if !strings.HasPrefix(dsn, "file:") {
			if _, err := os.Stat(dsn); err != nil {
				return nil, err
			}
		}
		dsn = store.ExistingDSN(dsn)
	}

	db, err := store.OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return nil, err
	}
	return &direct{db: db, conn: conn}, nil
}
