package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/danmuck/tallyctl/internal/tally"
)

// KeyPrefix namespaces node ids inside a snapshot document.
const KeyPrefix = "Node_"

var (
	ErrCorrupt       = errors.New("snapshot: corrupt snapshot")
	ErrNotFound      = errors.New("snapshot: not found")
	ErrUnknownFormat = errors.New("snapshot: unknown format")
)

// Backend persists the node aggregate across process restarts. Save must
// either replace the previous snapshot completely or leave it untouched.
type Backend interface {
	Load(ctx context.Context) (map[string]uint64, error)
	Save(ctx context.Context, counts map[string]uint64) error
	String() string
}

func EncodeKey(nodeID string) string {
	return KeyPrefix + nodeID
}

func DecodeKey(key string) (string, error) {
	id, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok {
		return "", fmt.Errorf("%w: key %q missing %s prefix", ErrCorrupt, key, KeyPrefix)
	}
	if err := tally.ValidateNodeID(id); err != nil {
		return "", fmt.Errorf("%w: key %q: %v", ErrCorrupt, key, err)
	}
	return id, nil
}

// Encode converts store counts into document form.
func Encode(counts map[string]uint64) (map[string]uint64, error) {
	doc := make(map[string]uint64, len(counts))
	for id, v := range counts {
		if err := tally.ValidateNodeID(id); err != nil {
			return nil, fmt.Errorf("snapshot: encode: %w", err)
		}
		doc[EncodeKey(id)] = v
	}
	return doc, nil
}

// Decode validates a decoded document and returns store counts. Any
// invalid entry rejects the whole document.
func Decode(doc map[string]any) (map[string]uint64, error) {
	out := make(map[string]uint64, len(doc))
	for _, key := range sortedKeys(doc) {
		id, err := DecodeKey(key)
		if err != nil {
			return nil, err
		}
		v, err := toCount(doc[key])
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrCorrupt, key, err)
		}
		out[id] = v
	}
	return out, nil
}

func toCount(raw any) (uint64, error) {
	switch v := raw.(type) {
	case uint64:
		return v, nil
	case uint:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case int:
		return fromSigned(int64(v))
	case int64:
		return fromSigned(v)
	case int32:
		return fromSigned(int64(v))
	case json.Number:
		return strconv.ParseUint(v.String(), 10, 64)
	case float64:
		return 0, fmt.Errorf("float value %v where integer expected", v)
	case nil:
		return 0, fmt.Errorf("missing value")
	default:
		return 0, fmt.Errorf("unsupported value type %T", raw)
	}
}

func fromSigned(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("negative count %d", v)
	}
	return uint64(v), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
