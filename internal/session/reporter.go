package session

import (
	"fmt"
	"io"
	"strings"
)

// Reporter consumes human-readable session output. It is called only from
// the goroutine running Session.Run.
type Reporter interface {
	Line(text string)
	Update(nodeID string, count, total uint64)
	Rejected(text string, err error)
	Closed(result Result)
}

// Console prints session output for an operator watching the terminal.
type Console struct {
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Line(text string) {
	fmt.Fprintln(c.out, strings.TrimRight(text, "\r"))
}

func (c *Console) Update(nodeID string, count, total uint64) {
	fmt.Fprintf(c.out, "Node %s has seen %d people.\n", nodeID, count)
	fmt.Fprintf(c.out, "The number of people seen is: %d.\n", total)
}

func (c *Console) Rejected(text string, err error) {
	fmt.Fprintf(c.out, "Ignored line %q: %v\n", text, err)
}

func (c *Console) Closed(result Result) {
	fmt.Fprintln(c.out, "Connection closed.")
	for _, node := range result.Nodes {
		fmt.Fprintf(c.out, "Node %s has seen %d people.\n", node, result.Snapshot[node])
	}
	if result.Persisted {
		fmt.Fprintf(c.out, "Saved %d node counters.\n", len(result.Snapshot))
	}
}

type nopReporter struct{}

func (nopReporter) Line(string)                   {}
func (nopReporter) Update(string, uint64, uint64) {}
func (nopReporter) Rejected(string, error)        {}
func (nopReporter) Closed(Result)                 {}
