// Package mirror copies a SQLite source database into the shared in-memory
// mirror, once, before any tick runs.
//
// # Load Order
//
//  1. One direct connection to each database (never a pool connection)
//  2. Catalog read from the source
//  3. All table DDL in one transaction on the mirror
//  4. All view DDL in a second transaction
//  5. ATTACH of the mirror to the source connection
//  6. One INSERT ... SELECT per table, all in one transaction on the source
//     connection, followed by DETACH on every exit path
//  7. Index DDL in a third transaction, after the data is in place
//
// Any failure returns a *LoadError naming the phase. There is no retry, and
// a caller must not start ticking after a failed Load: the mirror may hold a
// partial schema or no rows.
package mirror
