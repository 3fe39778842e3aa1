// Package session owns the client connection lifecycle.
//
// Ownership boundary:
// - connect, active, draining and closed states
// - snapshot restore before dial and save after close
// - per-line skip policy for undecodable and malformed lines
// - console reporting hooks
package session
