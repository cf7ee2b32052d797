package testutil

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"unicode"

	_ "github.com/mattn/go-sqlite3"
)

// WorldSchema is the source schema used across tests: one velocity and one
// position row per entity, an index, and the debug projection view.
var WorldSchema = []string{
	`CREATE TABLE velocity (id INTEGER PRIMARY KEY, vx REAL NOT NULL, vy REAL NOT NULL)`,
	`CREATE TABLE position (id INTEGER PRIMARY KEY, px REAL NOT NULL, py REAL NOT NULL)`,
	`CREATE INDEX idx_position_px ON position (px)`,
	`CREATE VIEW view_velocity_position AS
		SELECT velocity.id AS id, vx, vy, px, py
		FROM velocity JOIN position ON position.id = velocity.id`,
}

// Entity is one simulated body.
type Entity struct {
	ID     int64
	VX, VY float64
	PX, PY float64
}

var memSeq atomic.Int64

// MirrorURI returns a shared-cache memory URI that no other test uses.
func MirrorURI(t *testing.T) string {
	t.Helper()
	name := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, t.Name())
	return fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, memSeq.Add(1))
}

// NewWorldDB creates a source database file holding WorldSchema and entities.
// Returns the file path.
func NewWorldDB(t *testing.T, entities ...Entity) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "world.db")
	NewSourceDB(t, path, WorldSchema)

	db := openFile(t, path)
	defer db.Close()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for _, e := range entities {
		if _, err := tx.Exec(`INSERT INTO velocity (id, vx, vy) VALUES (?, ?, ?)`, e.ID, e.VX, e.VY); err != nil {
			t.Fatalf("insert velocity %d: %v", e.ID, err)
		}
		if _, err := tx.Exec(`INSERT INTO position (id, px, py) VALUES (?, ?, ?)`, e.ID, e.PX, e.PY); err != nil {
			t.Fatalf("insert position %d: %v", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return path
}

// NewSourceDB creates a database file at path and executes stmts against it.
func NewSourceDB(t *testing.T, path string, stmts []string) {
	t.Helper()
	db := openFile(t, path)
	defer db.Close()
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
}

func openFile(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	db.SetMaxOpenConns(1)
	return db
}

// ReadEntities returns every row of view_velocity_position ordered by id.
func ReadEntities(t *testing.T, db *sql.DB) []Entity {
	t.Helper()
	rows, err := db.Query(`SELECT id, vx, vy, px, py FROM view_velocity_position ORDER BY id`)
	if err != nil {
		t.Fatalf("query entities: %v", err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.VX, &e.VY, &e.PX, &e.PY); err != nil {
			t.Fatalf("scan entity: %v", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate entities: %v", err)
	}
	return out
}
