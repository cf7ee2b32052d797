package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Kind identifies the type of a schema object.
type Kind string

const (
	KindTable Kind = "table"
	KindView  Kind = "view"
	KindIndex Kind = "index"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SchemaObject is a single catalog entry.
type SchemaObject struct {
	Name  string
	Table string // Owning table; equals Name for tables and views.
	Kind  Kind
	SQL   string
}

// Catalog holds the schema objects of a database grouped by kind.
type Catalog struct {
	Tables  []SchemaObject
	Views   []SchemaObject
	Indexes []SchemaObject
}

// Read queries sqlite_master for every table, view and index definition.
// Each kind is read with its own query.
func Read(ctx context.Context, q Querier) (*Catalog, error) {
	tables, err := readKind(ctx, q, KindTable)
	if err != nil {
		return nil, err
	}
	views, err := readKind(ctx, q, KindView)
	if err != nil {
		return nil, err
	}
	indexes, err := readKind(ctx, q, KindIndex)
	if err != nil {
		return nil, err
	}
	return &Catalog{Tables: tables, Views: views, Indexes: indexes}, nil
}

func readKind(ctx context.Context, q Querier, kind Kind) ([]SchemaObject, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT name, tbl_name, sql FROM sqlite_master
		WHERE type = ? AND sql IS NOT NULL AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("read %s catalog: %w", kind, err)
	}
	defer rows.Close()

	var objects []SchemaObject
	for rows.Next() {
		obj := SchemaObject{Kind: kind}
		if err := rows.Scan(&obj.Name, &obj.Table, &obj.SQL); err != nil {
			return nil, fmt.Errorf("scan %s catalog row: %w", kind, err)
		}
		objects = append(objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s catalog: %w", kind, err)
	}
	return objects, nil
}

// TableNames returns the names of all tables in catalog order.
func (c *Catalog) TableNames() []string {
	names := make([]string, len(c.Tables))
	for i, t := range c.Tables {
		names[i] = t.Name
	}
	return names
}

// Objects returns tables, then views, then indexes.
func (c *Catalog) Objects() []SchemaObject {
	out := make([]SchemaObject, 0, len(c.Tables)+len(c.Views)+len(c.Indexes))
	out = append(out, c.Tables...)
	out = append(out, c.Views...)
	out = append(out, c.Indexes...)
	return out
}

// Len returns the total number of objects.
func (c *Catalog) Len() int {
	return len(c.Tables) + len(c.Views) + len(c.Indexes)
}

// QuoteIdent quotes a SQLite identifier with double quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
