// Package snapshot persists node counters between runs.
//
// Files are written atomically; the codec follows the extension.
// Redis targets store one hash per snapshot key.
package snapshot
