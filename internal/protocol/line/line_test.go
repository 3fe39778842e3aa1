package line

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/danmuck/tallyctl/internal/testutil/testlog"
)

func TestReadLineStripsDelimiter(t *testing.T) {
	testlog.Start(t)
	payloads := [][]byte{
		{},
		[]byte("alpha,2"),
		[]byte("hello world"),
		[]byte("caf\xc3\xa9,3"),
		{0x00, 0xff, 0xfe, '\r'},
		bytes.Repeat([]byte("x"), 5000),
	}
	for _, want := range payloads {
		stream := append(append([]byte{}, want...), Delimiter)
		got, err := NewReader(bytes.NewReader(stream), DefaultLimits()).ReadLine()
		if err != nil {
			t.Fatalf("read line len=%d: %v", len(want), err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("line mismatch: got=%q want=%q", got, want)
		}
	}
}

func TestReadLineWithoutDelimiterFailsClosed(t *testing.T) {
	testlog.Start(t)
	for _, raw := range []string{"", "alpha,2", strings.Repeat("y", 4097)} {
		_, err := NewReader(strings.NewReader(raw), DefaultLimits()).ReadLine()
		if !errors.Is(err, ErrConnectionClosed) {
			t.Fatalf("raw len=%d: expected ErrConnectionClosed, got %v", len(raw), err)
		}
	}
}

func TestReadLineSequenceOneByteReads(t *testing.T) {
	testlog.Start(t)
	stream := "alpha,2\nbeta,1\n\xe2\x82\xac status\ntrailing"
	// Minimum-size buffer plus one-byte reads exercise every chunk boundary.
	r := NewReader(bufio.NewReaderSize(iotest.OneByteReader(strings.NewReader(stream)), 16), DefaultLimits())

	for _, want := range []string{"alpha,2", "beta,1", "\xe2\x82\xac status"} {
		got, err := r.ReadLine()
		if err != nil {
			t.Fatalf("read %q: %v", want, err)
		}
		if string(got) != want {
			t.Fatalf("got=%q want=%q", got, want)
		}
	}
	if _, err := r.ReadLine(); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed for trailing bytes, got %v", err)
	}
}

func TestReadLineLongerThanBuffer(t *testing.T) {
	testlog.Start(t)
	want := strings.Repeat("0123456789", 10)
	r := NewReader(bufio.NewReaderSize(strings.NewReader(want+"\nnext\n"), 16), DefaultLimits())
	got, err := r.ReadLine()
	if err != nil {
		t.Fatalf("read long line: %v", err)
	}
	if string(got) != want {
		t.Fatalf("long line mismatch: %q", got)
	}
	next, err := r.ReadLine()
	if err != nil || string(next) != "next" {
		t.Fatalf("expected next line, got=%q err=%v", next, err)
	}
}

func TestReadLineReturnsCopy(t *testing.T) {
	testlog.Start(t)
	r := NewReader(strings.NewReader("first\nsecond\n"), DefaultLimits())
	first, err := r.ReadLine()
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	if _, err := r.ReadLine(); err != nil {
		t.Fatalf("read second: %v", err)
	}
	if string(first) != "first" {
		t.Fatalf("first line mutated by later read: %q", first)
	}
}

func TestReadLineMaxLineBytes(t *testing.T) {
	testlog.Start(t)
	limits := Limits{MaxLineBytes: 4}
	r := NewReader(bufio.NewReaderSize(strings.NewReader("abcd\n"+strings.Repeat("z", 40)+"\nok\n"), 16), limits)

	got, err := r.ReadLine()
	if err != nil || string(got) != "abcd" {
		t.Fatalf("expected line at limit, got=%q err=%v", got, err)
	}
	if _, err := r.ReadLine(); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
	got, err = r.ReadLine()
	if err != nil || string(got) != "ok" {
		t.Fatalf("expected resync after oversized line, got=%q err=%v", got, err)
	}
}

func TestReadLineSurfacesReadError(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("boom")
	r := NewReader(io.MultiReader(strings.NewReader("par"), iotest.ErrReader(boom)), DefaultLimits())
	_, err := r.ReadLine()
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped read error, got %v", err)
	}
	if errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("read error must not be reported as closure")
	}
}

func TestWriteLine(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteLine(&buf, []byte("test")); err != nil {
		t.Fatalf("write line: %v", err)
	}
	if buf.String() != "test\n" {
		t.Fatalf("unexpected wire bytes: %q", buf.String())
	}
	if err := WriteLine(&buf, []byte("a\nb")); !errors.Is(err, ErrDelimiterInPayload) {
		t.Fatalf("expected ErrDelimiterInPayload, got %v", err)
	}

	got, err := NewReader(&buf, DefaultLimits()).ReadLine()
	if err != nil || string(got) != "test" {
		t.Fatalf("round trip got=%q err=%v", got, err)
	}
}
