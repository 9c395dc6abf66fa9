package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"voxsearch/internal/domain"
	"voxsearch/internal/metrics"
)

func newTestFinalizer(extractor *fakeExtractor, search *fakeSearch, events *fakeEventSink, m *metrics.Metrics) searchFinalizer {
	return newSearchFinalizer(extractor, search, events, m, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSearchFinalizerAppliesExtraction(t *testing.T) {
	t.Parallel()

	extractor := &fakeExtractor{result: domain.ExtractionResult{Query: strPtr("shoes"), Category: strPtr("footwear")}}
	search := &fakeSearch{}
	events := &fakeEventSink{}

	outcome, result, reason := newTestFinalizer(extractor, search, events, nil).Finalize(context.Background(), "red shoes", false)
	if outcome != domain.OutcomeExtracted || reason != domain.SessionReasonSearchApplied {
		t.Fatalf("unexpected outcome: %s %s", outcome, reason)
	}
	if result.Category == nil || *result.Category != "footwear" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(search.snapshot()) != 1 {
		t.Fatalf("expected exactly one applied search")
	}
	if states := events.snapshotStates(); len(states) != 1 || states[0].reason != domain.SessionReasonUnderstanding {
		t.Fatalf("expected understanding transition, got %+v", states)
	}
}

func TestSearchFinalizerFallsBackOnError(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	extractor := &fakeExtractor{err: errors.New("timeout")}
	search := &fakeSearch{}
	events := &fakeEventSink{}

	outcome, result, reason := newTestFinalizer(extractor, search, events, m).Finalize(context.Background(), "red shoes", false)
	if outcome != domain.OutcomeRawSearch || reason != domain.SessionReasonRawSearch {
		t.Fatalf("unexpected outcome: %s %s", outcome, reason)
	}
	if result.Query == nil || *result.Query != "red shoes" || result.Category != nil {
		t.Fatalf("unexpected fallback: %+v", result)
	}
	if !events.hasError(domain.ErrorCodeExtraction) {
		t.Fatalf("expected extraction error event")
	}
	if got := testutil.ToFloat64(m.ExtractionFailures); got != 1 {
		t.Fatalf("expected one extraction failure metric, got %v", got)
	}
}

func TestSearchFinalizerEmptyExtractionFallsBack(t *testing.T) {
	t.Parallel()

	search := &fakeSearch{}
	outcome, _, _ := newTestFinalizer(&fakeExtractor{}, search, &fakeEventSink{}, nil).Finalize(context.Background(), "hats", false)
	if outcome != domain.OutcomeRawSearch {
		t.Fatalf("expected raw search for empty extraction, got %s", outcome)
	}
	applied := search.snapshot()
	if len(applied) != 1 || *applied[0].Query != "hats" {
		t.Fatalf("unexpected applied search: %+v", applied)
	}
}

func TestSearchFinalizerNoTranscriptIsNoop(t *testing.T) {
	t.Parallel()

	extractor := &fakeExtractor{}
	search := &fakeSearch{}
	outcome, _, reason := newTestFinalizer(extractor, search, &fakeEventSink{}, nil).Finalize(context.Background(), "", false)
	if outcome != domain.OutcomeNoop || reason != domain.SessionReasonNoTranscript {
		t.Fatalf("unexpected outcome: %s %s", outcome, reason)
	}
	if len(extractor.snapshotCalls()) != 0 || len(search.snapshot()) != 0 {
		t.Fatalf("no transcript must not extract or search")
	}
}

func TestSearchFinalizerBypassSkipsExtraction(t *testing.T) {
	t.Parallel()

	extractor := &fakeExtractor{}
	search := &fakeSearch{}
	outcome, _, _ := newTestFinalizer(extractor, search, &fakeEventSink{}, nil).Finalize(context.Background(), "socks", true)
	if outcome != domain.OutcomeRawSearch || len(extractor.snapshotCalls()) != 0 {
		t.Fatalf("bypass should search raw text without extraction")
	}
}

func TestSearchFinalizerDiscardsLateResult(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	search := &fakeSearch{}
	extractor := &fakeExtractor{result: domain.ExtractionResult{Query: strPtr("late")}}
	outcome, _, reason := newTestFinalizer(extractor, search, &fakeEventSink{}, nil).Finalize(ctx, "late", false)
	if outcome != domain.OutcomeNoop || reason != domain.SessionReasonDiscarded {
		t.Fatalf("unexpected outcome: %s %s", outcome, reason)
	}
	if len(search.snapshot()) != 0 {
		t.Fatalf("late result must not be applied")
	}
}
