// Package catalog reads table, view and index definitions out of a SQLite
// database's sqlite_master table.
//
// A Catalog is a read-only snapshot taken once. Objects keep the order in
// which sqlite_master yields them; the only grouping applied is by kind, so
// callers can create every table before any view references it.
//
// SQLite-internal objects (names starting with "sqlite_") and objects with
// no SQL text (automatic indexes backing UNIQUE and PRIMARY KEY constraints)
// are skipped: they are recreated implicitly by their owning table's DDL.
package catalog
