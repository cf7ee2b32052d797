package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Options bounds and tunes a Pool.
type Options struct {
	// MinConns connections are established by Open before it returns.
	MinConns int `yaml:"min_conns" env:"MIN_CONNS"`
	// MaxConns is the hard upper bound on open connections.
	MaxConns int `yaml:"max_conns" env:"MAX_CONNS"`
	// IdleTimeout closes connections idle for longer. Zero disables it.
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// MaxLifetime closes connections older than this. Zero disables it.
	MaxLifetime time.Duration `yaml:"max_lifetime" env:"MAX_LIFETIME"`
	// TestBeforeAcquire pings each connection before Acquire returns it.
	TestBeforeAcquire bool `yaml:"test_before_acquire" env:"TEST_BEFORE_ACQUIRE"`
}

// DefaultOptions returns 4 warm connections out of at most 16.
func DefaultOptions() Options {
	return Options{
		MinConns: 4,
		MaxConns: 16,
	}
}

// Validate checks that the bounds are usable.
func (o Options) Validate() error {
	if o.MaxConns < 1 {
		return fmt.Errorf("max connections must be at least 1, got %d", o.MaxConns)
	}
	if o.MinConns < 0 || o.MinConns > o.MaxConns {
		return fmt.Errorf("min connections must be within [0, %d], got %d", o.MaxConns, o.MinConns)
	}
	if o.IdleTimeout < 0 || o.MaxLifetime < 0 {
		return fmt.Errorf("idle timeout and max lifetime must not be negative")
	}
	return nil
}

// Pool is a bounded set of reusable connections to the mirror database.
//
// Thread-safety: all methods are safe for concurrent use.
type Pool struct {
	db   *sql.DB
	uri  string
	opts Options

	// anchor is a connection held outside db from Open until Close. A shared
	// in-memory database lives only while one of its connections is open, so
	// the mirror survives MinConns 0 and idle or lifetime recycling.
	anchorDB *sql.DB
	anchor   *sql.Conn
}

// Open creates a Pool for uri and establishes opts.MinConns connections.
//
// The connections are opened concurrently and then returned to the idle set,
// where they stay until Close because neither idle timeout nor lifetime is
// enforced by default. One further connection is pinned on a separate handle
// for the pool's whole life so the database outlives any recycling. It does
// not count against MaxConns.
func Open(ctx context.Context, uri string, opts Options) (*Pool, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool options: %w", err)
	}

	db, err := OpenDB(uri)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(opts.MaxConns)
	db.SetMaxIdleConns(opts.MaxConns)
	db.SetConnMaxIdleTime(opts.IdleTimeout)
	db.SetConnMaxLifetime(opts.MaxLifetime)

	p := &Pool{db: db, uri: uri, opts: opts}
	if err := p.pin(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := p.warm(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return p, nil
}

// pin opens the anchor connection on its own single-connection handle.
func (p *Pool) pin(ctx context.Context) error {
	adb, err := OpenDB(p.uri)
	if err != nil {
		return err
	}
	adb.SetMaxOpenConns(1)

	conn, err := adb.Conn(ctx)
	if err != nil {
		adb.Close()
		return err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		adb.Close()
		return err
	}
	p.anchorDB, p.anchor = adb, conn
	return nil
}

// warm holds MinConns connections at once so each is a distinct connection,
// then releases them all to the idle set.
func (p *Pool) warm(ctx context.Context) error {
	conns := make([]*sql.Conn, p.opts.MinConns)

	g, gctx := errgroup.WithContext(ctx)
	for i := range conns {
		g.Go(func() error {
			conn, err := p.db.Conn(gctx)
			if err != nil {
				return err
			}
			conns[i] = conn
			return conn.PingContext(gctx)
		})
	}
	err := g.Wait()

	for _, conn := range conns {
		if conn != nil {
			conn.Close()
		}
	}
	return err
}

// Acquire checks out a connection, blocking until one is free or ctx is done.
// The caller releases it with Close.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	if p.opts.TestBeforeAcquire {
		if err := conn.PingContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("acquire connection: ping: %w", err)
		}
	}
	return conn, nil
}

// URI returns the database URI the pool connects to.
func (p *Pool) URI() string {
	return p.uri
}

// Options returns the pool's configuration.
func (p *Pool) Options() Options {
	return p.opts
}

// Stats returns database/sql pool statistics.
func (p *Pool) Stats() sql.DBStats {
	return p.db.Stats()
}

// DB returns the underlying sql.DB.
// Use with caution - prefer Acquire so each unit of work owns one connection.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Close closes every connection. The shared in-memory database is discarded
// once its last connection is gone.
func (p *Pool) Close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	if p.anchor != nil {
		p.anchor.Close()
		p.anchorDB.Close()
	}
	return err
}
