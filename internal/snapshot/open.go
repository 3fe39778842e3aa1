package snapshot

import "strings"

// Open resolves a snapshot target: redis:// and rediss:// URLs select the
// Redis backend, anything else is a file path.
func Open(target string) (Backend, error) {
	target = strings.TrimSpace(target)
	if strings.HasPrefix(target, "redis://") || strings.HasPrefix(target, "rediss://") {
		return NewRedisFromURL(target)
	}
	return NewFile(target)
}
