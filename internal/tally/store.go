package tally

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

var (
	ErrEmptyNodeID     = errors.New("tally: empty node id")
	ErrInvalidNodeID   = errors.New("tally: invalid node id")
	ErrCounterOverflow = errors.New("tally: counter overflow")
)

// MaxCount bounds every node count so each snapshot format can hold it;
// TOML integers are signed 64-bit.
const MaxCount uint64 = math.MaxInt64

// Update is one parsed "<node_id>,<delta>" report.
type Update struct {
	NodeID string
	Delta  uint64
}

// ValidateNodeID reports whether id can be a store key. Ids come out of
// the line parser trimmed and comma free; snapshot keys must match that.
func ValidateNodeID(id string) error {
	if id == "" {
		return ErrEmptyNodeID
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: not utf-8", ErrInvalidNodeID)
	}
	if strings.TrimSpace(id) != id {
		return fmt.Errorf("%w: surrounding whitespace in %q", ErrInvalidNodeID, id)
	}
	if strings.ContainsAny(id, ",\n") {
		return fmt.Errorf("%w: separator in %q", ErrInvalidNodeID, id)
	}
	return nil
}

// Store is the per-node people-seen aggregate.
type Store struct {
	mu     sync.RWMutex
	counts map[string]uint64
}

func NewStore() *Store {
	return &Store{
		counts: make(map[string]uint64),
	}
}

// Apply adds u.Delta to the node's count, creating the node on first
// sight, and returns the new count. An add past MaxCount leaves the
// store unchanged.
func (s *Store) Apply(u Update) (uint64, error) {
	if err := ValidateNodeID(u.NodeID); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.counts[u.NodeID]
	if u.Delta > MaxCount || current > MaxCount-u.Delta {
		return current, fmt.Errorf("%w: node=%q count=%d delta=%d", ErrCounterOverflow, u.NodeID, current, u.Delta)
	}
	sum := current + u.Delta
	s.counts[u.NodeID] = sum
	return sum, nil
}

func (s *Store) Count(nodeID string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.counts[nodeID]
	return v, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.counts)
}

// Total sums every node's count, saturating at the uint64 maximum.
func (s *Store) Total() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total uint64
	for _, v := range s.counts {
		sum, carry := bits.Add64(total, v, 0)
		if carry != 0 {
			return ^uint64(0)
		}
		total = sum
	}
	return total
}

func (s *Store) Nodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.counts))
	for k := range s.counts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a copy of the aggregate.
func (s *Store) Snapshot() map[string]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]uint64, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// Load replaces the aggregate wholesale. Every entry is validated before
// anything is replaced.
func (s *Store) Load(in map[string]uint64) error {
	next := make(map[string]uint64, len(in))
	for k, v := range in {
		if err := ValidateNodeID(k); err != nil {
			return fmt.Errorf("tally: load: %w", err)
		}
		if v > MaxCount {
			return fmt.Errorf("tally: load: %w: node=%q count=%d", ErrCounterOverflow, k, v)
		}
		next[k] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = next
	return nil
}
