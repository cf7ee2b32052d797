package store

import (
	"fmt"
	"strings"
)

// MemoryURI returns a SQLite URI for an in-memory database called name.
// With shared set, all connections opened with the URI in this process share
// one database.
func MemoryURI(name string, shared bool) string {
	uri := fmt.Sprintf("file:%s?mode=memory", name)
	if shared {
		uri += "&cache=shared"
	}
	return uri
}

// SourceDSN normalizes a source database location into a DSN the sqlite3
// driver accepts. The "sqlite://" and "sqlite:" scheme prefixes used in
// DATABASE_URL are stripped; plain paths and "file:" URIs pass through.
func SourceDSN(uri string) string {
	switch {
	case strings.HasPrefix(uri, "sqlite://"):
		return strings.TrimPrefix(uri, "sqlite://")
	case strings.HasPrefix(uri, "sqlite:"):
		return strings.TrimPrefix(uri, "sqlite:")
	default:
		return uri
	}
}

// ExistingDSN rewrites dsn as a "file:" URI that SQLite opens without
// creating the file. A "file:" URI that already names a mode is returned
// unchanged. Plain paths are percent-escaped where URI syntax needs it.
func ExistingDSN(dsn string) string {
	if !strings.HasPrefix(dsn, "file:") {
		return "file:" + pathEscaper.Replace(dsn) + "?mode=rw"
	}

	base, frag, hasFrag := strings.Cut(dsn, "#")
	_, query, hasQuery := strings.Cut(base, "?")
	for _, kv := range strings.Split(query, "&") {
		if strings.HasPrefix(kv, "mode=") {
			return dsn
		}
	}

	switch {
	case !hasQuery:
		base += "?mode=rw"
	case query == "":
		base += "mode=rw"
	default:
		base += "&mode=rw"
	}
	if hasFrag {
		base += "#" + frag
	}
	return base
}

var pathEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")
