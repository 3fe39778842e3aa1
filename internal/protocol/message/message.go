package message

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/danmuck/tallyctl/internal/tally"
)

const Separator = ","

var (
	ErrDecode           = errors.New("message: invalid utf-8")
	ErrMalformedCounter = errors.New("message: malformed counter")
	ErrInvalidNodeID    = errors.New("message: invalid node id")
)

// Kind classifies one decoded line.
type Kind int

const (
	// KindStatus is an informational line without a separator.
	KindStatus Kind = iota
	// KindUpdate is an aggregable "<node_id>,<count>" line.
	KindUpdate
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindUpdate:
		return "update"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is one parsed line. Update is set only for KindUpdate.
type Result struct {
	Kind   Kind
	Text   string
	Update tally.Update
}

// Parse decodes one framed line. A line without a separator is a status
// line and is not an error.
func Parse(raw []byte) (Result, error) {
	if !utf8.Valid(raw) {
		return Result{}, fmt.Errorf("%w: %d bytes", ErrDecode, len(raw))
	}
	text := string(raw)

	left, right, ok := strings.Cut(text, Separator)
	if !ok {
		return Result{Kind: KindStatus, Text: text}, nil
	}

	nodeID := strings.TrimSpace(left)
	if err := tally.ValidateNodeID(nodeID); err != nil {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidNodeID, left)
	}

	// 63 bits keeps every delta storable as a signed TOML integer.
	deltaText := strings.TrimSpace(right)
	delta, err := strconv.ParseUint(deltaText, 10, 63)
	if err != nil {
		return Result{}, fmt.Errorf("%w: node=%q value=%q", ErrMalformedCounter, nodeID, deltaText)
	}

	return Result{
		Kind:   KindUpdate,
		Text:   text,
		Update: tally.Update{NodeID: nodeID, Delta: delta},
	}, nil
}
