// Package connector defines the source connector contract and the wired
// provider implementations. A connector fetches raw records page by page,
// normalizes them into SourceRecords at the boundary, and reports quota usage
// to the Rate Governor. The resolver and reconciliation engine never see raw
// payloads.
package connector

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/choices-civics/repsync/internal/governor"
	"github.com/choices-civics/repsync/internal/model"
	"github.com/choices-civics/repsync/internal/resilience"
	"github.com/choices-civics/repsync/pkg/httpapi"
)

// Connector is one provider's fetch surface.
type Connector interface {
	Provider() model.Provider
	QuotaPolicy() governor.Policy
	// CurrentCapable reports whether the provider can produce a current
	// roster, either server-side or by client-side filtering of the full
	// historical set. Enrichment-only providers return false and are skipped
	// entirely in first-time runs.
	CurrentCapable() bool
	// FetchCurrent streams currently-serving officials for a jurisdiction.
	FetchCurrent(jurisdiction, cursor string) *Stream
	// FetchAll streams the provider's full set for a jurisdiction, starting
	// from cursor ("" means from the beginning). A fresh stream with the same
	// query re-executes from its cursor; it does not resume mid-page.
	FetchAll(jurisdiction, cursor string) *Stream
}

// Page is one fetched page of normalized records.
type Page struct {
	Records []model.SourceRecord
	// Invalid counts records dropped by the mapper on this page. Each drop is
	// already logged with its raw payload reference.
	Invalid int
	// Cursor resumes fetching after this page.
	Cursor string
	Done   bool
}

type pageFetch func(ctx context.Context, cursor string) (Page, error)

// Stream is a lazy, finite, restartable record sequence. Next returns
// resilience.ErrExhausted after the final record.
type Stream struct {
	fetch   pageFetch
	buf     []model.SourceRecord
	idx     int
	cursor  string
	done    bool
	invalid int
}

// NewStream builds a stream over a page-fetch function starting at cursor.
func NewStream(cursor string, fetch pageFetch) *Stream {
	return &Stream{fetch: fetch, cursor: cursor}
}

// Next returns the next record, fetching pages as needed.
func (s *Stream) Next(ctx context.Context) (model.SourceRecord, error) {
	for s.idx >= len(s.buf) {
		if s.done {
			return model.SourceRecord{}, resilience.ErrExhausted
		}
		page, err := s.fetch(ctx, s.cursor)
		if err != nil {
			return model.SourceRecord{}, err
		}
		s.buf = page.Records
		s.idx = 0
		s.invalid += page.Invalid
		s.cursor = page.Cursor
		s.done = page.Done
	}
	rec := s.buf[s.idx]
	s.idx++
	return rec, nil
}

// Cursor returns the resume position after the last fully-fetched page.
func (s *Stream) Cursor() string { return s.cursor }

// Invalid returns how many records the mapper dropped so far.
func (s *Stream) Invalid() int { return s.invalid }

// base carries the governed fetch plumbing shared by all connectors.
type base struct {
	provider model.Provider
	gov      *governor.Governor
	policy   governor.Policy
	retry    resilience.RetryConfig
}

// maxRateLimitRetries bounds how many 429 rounds one page fetch absorbs
// before the error propagates. Each round sits out the governor's penalty
// window first.
const maxRateLimitRetries = 3

// fetchGoverned acquires a token, runs fn with bounded transient retries, and
// feeds throttling signals back into the governor.
func (b *base) fetchGoverned(ctx context.Context, op string, fn func(ctx context.Context) (Page, error)) (Page, error) {
	cfg := b.retry
	cfg.OnRetry = resilience.RetryLogger(string(b.provider), op)

	for attempt := 0; ; attempt++ {
		if err := b.gov.Acquire(ctx, b.provider); err != nil {
			return Page{}, err
		}

		page, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (Page, error) {
			p, err := fn(ctx)
			if err != nil {
				return Page{}, classify(err)
			}
			return p, nil
		})
		if err == nil {
			b.gov.ReportSuccess(b.provider)
			return page, nil
		}

		if resilience.IsRateLimited(err) && attempt < maxRateLimitRetries {
			b.gov.ReportRateLimited(b.provider)
			continue
		}
		return Page{}, err
	}
}

// classify maps transport errors to the failure taxonomy by HTTP status.
func classify(err error) error {
	var se *httpapi.StatusError
	if errors.As(err, &se) {
		switch resilience.ClassifyStatus(se.Code) {
		case resilience.KindRateLimited:
			return resilience.RateLimited(err, se.Code)
		case resilience.KindTransient:
			return resilience.Transient(err, se.Code)
		case resilience.KindInvalid:
			return resilience.Invalid(err)
		}
	}
	return err
}

// logInvalid records a dropped record with its raw payload reference so a
// human can audit the parse failure later.
func logInvalid(p model.Provider, raw []byte, err error) {
	excerpt := string(raw)
	if len(excerpt) > 256 {
		excerpt = excerpt[:256]
	}
	zap.L().Warn("dropping invalid source record",
		zap.String("provider", string(p)),
		zap.String("raw", excerpt),
		zap.Error(err),
	)
}
