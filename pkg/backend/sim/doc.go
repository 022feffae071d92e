// Package sim provides an in-memory cluster backend for development
// and tests. It enforces the same namespace and existence semantics a
// real cluster API would, with classified errors.
package sim
