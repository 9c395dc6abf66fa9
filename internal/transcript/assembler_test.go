package transcript

import (
	"testing"

	"voxsearch/internal/domain"
)

func TestClean(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"hello, world!! ": "hello, world",
		"a   b\tc":         "a b c",
		"  red shoes.  ":   "red shoes",
		"what?":            "what",
		"wait !":           "wait",
		"":                 "",
		"...":              "",
		"3.5 stars":        "3.5 stars",
	}
	for input, want := range cases {
		if got := Clean(input); got != want {
			t.Fatalf("Clean(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestAccumulateKeepsArrivalOrder(t *testing.T) {
	t.Parallel()

	got := ""
	for _, text := range []string{"one", "two"} {
		got = Accumulate(got, domain.TranscriptEvent{Kind: domain.TranscriptKindCommitted, Text: text})
	}
	if got != "one two" {
		t.Fatalf("unexpected transcript: %q", got)
	}
}

func TestAccumulateIgnoresPartialAndEmpty(t *testing.T) {
	t.Parallel()

	got := Accumulate("one", domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "two"})
	if got != "one" {
		t.Fatalf("partial mutated transcript: %q", got)
	}
	got = Accumulate("one", domain.TranscriptEvent{Kind: domain.TranscriptKindCommitted, Text: " . "})
	if got != "one" {
		t.Fatalf("empty committed segment mutated transcript: %q", got)
	}
}

func TestAssemblerPreviewIsOverwritten(t *testing.T) {
	t.Parallel()

	a := NewAssembler()
	if got := a.Apply(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "red"}); got != "red" {
		t.Fatalf("unexpected display: %q", got)
	}
	if got := a.Apply(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "red sho"}); got != "red sho" {
		t.Fatalf("unexpected display: %q", got)
	}
	if a.Text() != "" {
		t.Fatalf("partials must not commit, got %q", a.Text())
	}

	got := a.Apply(domain.TranscriptEvent{Kind: domain.TranscriptKindCommitted, Text: "Red shoes."})
	if got != "Red shoes" || a.Preview() != "" {
		t.Fatalf("committed segment should replace preview, display=%q preview=%q", got, a.Preview())
	}

	got = a.Apply(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "size"})
	if got != "Red shoes size" {
		t.Fatalf("unexpected display: %q", got)
	}
	if a.Text() != "Red shoes" || a.Segments() != 1 {
		t.Fatalf("unexpected committed state: %q (%d)", a.Text(), a.Segments())
	}

	a.Reset()
	if a.Text() != "" || a.Preview() != "" || a.Segments() != 0 {
		t.Fatalf("expected reset assembler")
	}
}
