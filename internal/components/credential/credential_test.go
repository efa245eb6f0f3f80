package credential

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		pw, err := Generate()
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if len(pw) != Length {
			t.Fatalf("len = %d, want %d", len(pw), Length)
		}
		for _, r := range pw {
			if !strings.ContainsRune(alphabet, r) {
				t.Fatalf("unexpected symbol %q in %q", r, pw)
			}
		}
		if seen[pw] {
			t.Fatalf("duplicate credential %q", pw)
		}
		seen[pw] = true
	}
}

func TestGenerate_RejectsBiasedBytes(t *testing.T) {
	// 255 is above the rejection limit and must never be mapped.
	src := append(bytes.Repeat([]byte{255}, 40), bytes.Repeat([]byte{0, 61, 62}, 40)...)
	pw, err := generate(bytes.NewReader(src))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	// 0 -> 'A', 61 -> '9', 62 -> 'A'
	if !strings.HasPrefix(pw, "A9AA9A") {
		t.Errorf("generate = %q", pw)
	}
}

func TestGenerate_ReaderError(t *testing.T) {
	_, err := generate(bytes.NewReader([]byte{1, 2, 3}))
	if err == nil {
		t.Fatal("expected error from short reader")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("error = %v, want wrapped io.ErrUnexpectedEOF", err)
	}
}
