// Package line owns newline framing over a byte stream.
//
// Ownership boundary:
// - delimiter-terminated read/write primitives
// - line length limits and resync after oversized lines
// - closure detection (EOF with or without pending bytes)
package line
