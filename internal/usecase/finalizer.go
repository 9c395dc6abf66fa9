package usecase

import (
	"context"
	"errors"
	"log/slog"

	"voxsearch/internal/domain"
	"voxsearch/internal/metrics"
	"voxsearch/internal/ports"
)

type searchFinalizer struct {
	extractor ports.IntentExtractor
	search    ports.SearchState
	events    ports.EventSink
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func newSearchFinalizer(
	extractor ports.IntentExtractor,
	search ports.SearchState,
	events ports.EventSink,
	m *metrics.Metrics,
	logger *slog.Logger,
) searchFinalizer {
	return searchFinalizer{extractor: extractor, search: search, events: events, metrics: m, logger: logger}
}

// Finalize applies exactly one of: an extracted search, a raw-text search, or nothing.
// Results that arrive after ctx ends are discarded.
func (f searchFinalizer) Finalize(ctx context.Context, raw string, bypassExtraction bool) (domain.Outcome, domain.ExtractionResult, domain.SessionStateReason) {
	if raw == "" {
		return domain.OutcomeNoop, domain.ExtractionResult{}, domain.SessionReasonNoTranscript
	}

	if bypassExtraction {
		result := rawSearch(raw)
		f.search.ApplySearch(result)
		return domain.OutcomeRawSearch, result, domain.SessionReasonRawSearch
	}

	f.events.SessionStateChanged(domain.SessionStateFinalizing, domain.SessionReasonUnderstanding)

	result, err := f.extractor.Extract(ctx, raw)
	if ctx.Err() != nil {
		return domain.OutcomeNoop, domain.ExtractionResult{}, domain.SessionReasonDiscarded
	}
	if err == nil && result.Empty() {
		err = errors.New("extraction returned no search parameters")
	}
	if err != nil {
		f.metrics.RecordExtractionFailure()
		f.logger.Warn("intent extraction failed, searching raw transcript", slog.String("error", err.Error()))
		f.events.SessionError(domain.ErrorCodeExtraction, err.Error())
		result = rawSearch(raw)
		f.search.ApplySearch(result)
		return domain.OutcomeRawSearch, result, domain.SessionReasonRawSearch
	}

	f.search.ApplySearch(result)
	return domain.OutcomeExtracted, result, domain.SessionReasonSearchApplied
}

func rawSearch(raw string) domain.ExtractionResult {
	query := raw
	return domain.ExtractionResult{Query: &query}
}
