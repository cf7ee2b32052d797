// Package store owns access to the in-memory mirror database.
//
// The mirror is a SQLite database opened with a shared-cache memory URI
// (see MemoryURI), so every connection in the process sees the same data.
// The database lives as long as at least one connection to it stays open;
// the Pool keeps its connections for the process lifetime for that reason.
//
// # Pool Configuration
//
//   - MinConns connections are opened eagerly by Open
//   - at most MaxConns connections are ever open; Acquire blocks beyond that
//   - idle timeout and maximum lifetime default to zero (never recycled)
//   - connections are not pinged before hand-out unless TestBeforeAcquire
//
// All connections, including the loader's direct ones, are opened through the
// DriverName driver, which applies the connection pragmas in a ConnectHook.
package store
