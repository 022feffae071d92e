// Package stores provides task record persistence. The SQLite store is
// the durable backend; the memory store covers tests and degraded
// operation when no database is available.
package stores
