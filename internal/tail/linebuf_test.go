package tail

import (
	"strings"
	"testing"
)

func TestLineBufferHoldsPartialLine(t *testing.T) {
	var b lineBuffer
	b.Write([]byte("first\nsec"))

	line, ok := b.Next()
	if !ok || line != "first" {
		t.Fatalf("Next() = %q, %v; want %q, true", line, ok, "first")
	}
	if _, ok := b.Next(); ok {
		t.Fatal("partial line should not be returned")
	}
	if got := string(b.data[b.pos:]); got != "sec" {
		t.Errorf("unconsumed = %q, want %q", got, "sec")
	}

	b.Write([]byte("ond\r\nthird"))
	line, ok = b.Next()
	if !ok || line != "second" {
		t.Fatalf("Next() = %q, %v; want %q, true", line, ok, "second")
	}
	if _, ok := b.Next(); ok {
		t.Fatal("third line has no terminator yet")
	}
	if got := string(b.data[b.pos:]); got != "third" {
		t.Errorf("unconsumed = %q, want %q", got, "third")
	}
}

func TestLineBufferCompactsConsumedBytes(t *testing.T) {
	var b lineBuffer
	for i := 0; i < 100; i++ {
		b.Write([]byte(strings.Repeat("x", 10) + "\n"))
		if _, ok := b.Next(); !ok {
			t.Fatalf("line %d not returned", i)
		}
		b.Next() // triggers compaction when nothing is left
	}
	if len(b.data) > 11 {
		t.Errorf("buffer kept %d consumed bytes", len(b.data))
	}
}

func TestLineBufferEmptyLines(t *testing.T) {
	var b lineBuffer
	b.Write([]byte("\n\nx\n"))
	var got []string
	for {
		line, ok := b.Next()
		if !ok {
			break
		}
		got = append(got, line)
	}
	if len(got) != 3 || got[0] != "" || got[1] != "" || got[2] != "x" {
		t.Errorf("lines = %q", got)
	}
}
