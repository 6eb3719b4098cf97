package text

import (
	"strings"
	"testing"
)

func TestChunksShortTextSingleChunk(t *testing.T) {
	got := Chunks("hello world", 350)
	if len(got) != 1 || got[0] != "hello world" {
		t.Fatalf("Chunks = %q", got)
	}
}

func TestChunksEmpty(t *testing.T) {
	if got := Chunks("", 350); got != nil {
		t.Fatalf("Chunks(\"\") = %q, want nil", got)
	}
}

func TestChunksSplitsAtNextSpace(t *testing.T) {
	// Boundary lands mid-word; the split must extend to the next space.
	in := "aaaa bbbb cccc"
	got := Chunks(in, 6)
	want := []string{"aaaa bbbb", "cccc"}
	if len(got) != len(want) {
		t.Fatalf("Chunks = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestChunksHardSplitWithoutSpaces(t *testing.T) {
	in := strings.Repeat("x", 25)
	got := Chunks(in, 10)
	want := []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}
	if len(got) != len(want) {
		t.Fatalf("Chunks = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestChunksSkipsBoundarySpaces(t *testing.T) {
	in := "aaaa    bbbb"
	got := Chunks(in, 4)
	want := []string{"aaaa", "bbbb"}
	if len(got) != len(want) {
		t.Fatalf("Chunks = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, got[i], want[i])
		}
	}
	for _, c := range got {
		if strings.HasPrefix(c, " ") || strings.HasSuffix(c, " ") {
			t.Fatalf("chunk %q has boundary whitespace", c)
		}
	}
}

func TestChunksReassembleLosslessly(t *testing.T) {
	in := "the quick brown fox jumps over the lazy dog again and again and again"
	got := Chunks(in, 10)
	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %q", got)
	}
	if joined := strings.Join(got, " "); joined != in {
		t.Fatalf("rejoined = %q, want %q", joined, in)
	}
}
