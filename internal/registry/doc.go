// Package registry provides the fixed-capacity subscriber table of the server.
// The table is owned by a single goroutine; other goroutines only ever see
// Snapshot copies of it.
package registry
