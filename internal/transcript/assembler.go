// Package transcript normalizes recognizer text and assembles committed segments.
package transcript

import (
	"strings"
	"sync"

	"voxsearch/internal/domain"
)

const trailingPunctuation = ".,!?;:…"

// Clean collapses whitespace runs, trims both ends and strips trailing sentence punctuation.
func Clean(text string) string {
	cleaned := strings.Join(strings.Fields(text), " ")
	cleaned = strings.TrimRight(cleaned, trailingPunctuation)
	return strings.TrimSpace(cleaned)
}

// Accumulate appends a committed segment to previous. Other kinds leave previous unchanged.
func Accumulate(previous string, event domain.TranscriptEvent) string {
	if event.Kind != domain.TranscriptKindCommitted {
		return previous
	}
	text := Clean(event.Text)
	if text == "" {
		return previous
	}
	if previous == "" {
		return text
	}
	return previous + " " + text
}

// Assembler keeps the committed transcript of one session and a separate partial preview.
type Assembler struct {
	mu        sync.Mutex
	committed string
	preview   string
	segments  int
}

func NewAssembler() *Assembler {
	return &Assembler{}
}

// Apply folds an event in and returns the text to display: committed text plus the current partial.
func (a *Assembler) Apply(event domain.TranscriptEvent) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch event.Kind {
	case domain.TranscriptKindPartial:
		a.preview = Clean(event.Text)
	case domain.TranscriptKindCommitted:
		next := Accumulate(a.committed, event)
		if next != a.committed {
			a.segments++
		}
		a.committed = next
		a.preview = ""
	}
	return joinNonEmpty(a.committed, a.preview)
}

// Text returns the accumulated committed transcript.
func (a *Assembler) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committed
}

// Preview returns the transient partial text.
func (a *Assembler) Preview() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.preview
}

// Segments returns how many committed segments have been applied.
func (a *Assembler) Segments() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.segments
}

// Reset clears committed and preview text.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.committed = ""
	a.preview = ""
	a.segments = 0
}

func joinNonEmpty(first string, second string) string {
	switch {
	case first == "":
		return second
	case second == "":
		return first
	default:
		return first + " " + second
	}
}
