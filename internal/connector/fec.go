package connector

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/choices-civics/repsync/internal/governor"
	"github.com/choices-civics/repsync/internal/model"
	"github.com/choices-civics/repsync/internal/normalize"
	"github.com/choices-civics/repsync/internal/resilience"
	"github.com/choices-civics/repsync/pkg/fec"
)

// FECConnector ingests campaign-finance candidate records. The provider has
// no current-roster semantics; it only enriches entities created from roster
// sources.
type FECConnector struct {
	base
	client   *fec.Client
	pageSize int
	now      func() time.Time
}

// NewFEC wires the FEC client into the connector contract.
func NewFEC(client *fec.Client, gov *governor.Governor, policy governor.Policy, pageSize int) *FECConnector {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &FECConnector{
		base:     base{provider: model.ProviderFEC, gov: gov, policy: policy, retry: resilience.DefaultRetryConfig()},
		client:   client,
		pageSize: pageSize,
		now:      time.Now,
	}
}

func (c *FECConnector) Provider() model.Provider     { return model.ProviderFEC }
func (c *FECConnector) QuotaPolicy() governor.Policy { return c.policy }

// CurrentCapable is false: campaign-finance data says who filed, not who
// serves. First-time runs skip this provider entirely.
func (c *FECConnector) CurrentCapable() bool { return false }

// FetchCurrent is unsupported; the stream terminates immediately.
func (c *FECConnector) FetchCurrent(_, _ string) *Stream {
	return NewStream("", func(context.Context, string) (Page, error) {
		return Page{Done: true}, nil
	})
}

// FetchAll streams candidate filings for a state.
func (c *FECConnector) FetchAll(jurisdiction, cursor string) *Stream {
	return NewStream(cursor, func(ctx context.Context, cur string) (Page, error) {
		return c.fetchPage(ctx, jurisdiction, cur)
	})
}

func (c *FECConnector) fetchPage(ctx context.Context, state, cursor string) (Page, error) {
	pageNum := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return Page{}, eris.Wrapf(err, "fec: bad cursor %q", cursor)
		}
		pageNum = n
	}

	return c.fetchGoverned(ctx, "list_candidates", func(ctx context.Context) (Page, error) {
		cp, err := c.client.ListCandidates(ctx, state, pageNum, c.pageSize)
		if err != nil {
			return Page{}, err
		}

		page := Page{Done: !cp.HasNext}
		if cp.HasNext {
			page.Cursor = strconv.Itoa(cp.Page + 1)
		}
		fetchedAt := c.now().UTC()
		for _, raw := range cp.Candidates {
			rec, err := MapFECCandidate(raw, fetchedAt)
			if err != nil {
				logInvalid(model.ProviderFEC, raw, err)
				page.Invalid++
				continue
			}
			page.Records = append(page.Records, rec)
		}
		return page, nil
	})
}

// MapFECCandidate is the pure mapping from a raw candidate payload to the
// intermediate shape.
func MapFECCandidate(raw json.RawMessage, fetchedAt time.Time) (model.SourceRecord, error) {
	cd, err := fec.ParseCandidate(raw)
	if err != nil {
		return model.SourceRecord{}, resilience.Invalid(err)
	}

	fields := model.Fields{
		Name:           normalize.FlipComma(cd.Name),
		Level:          model.LevelFederal,
		Jurisdiction:   cd.State,
		District:       trimLeadingZeros(cd.District),
		Party:          cd.Party,
		FECCandidateID: cd.CandidateID,
		BioguideID:     cd.BioguideID,
	}
	switch cd.OfficeFull {
	case "Senate":
		fields.Office = "U.S. Senator"
	case "House":
		fields.Office = "U.S. Representative"
	default:
		fields.Office = cd.OfficeFull
	}

	return model.SourceRecord{
		Source:     model.ProviderFEC,
		ExternalID: cd.CandidateID,
		FetchedAt:  fetchedAt,
		Fields:     fields,
		Confidence: 0.7,
		Raw:        raw,
	}, nil
}

// trimLeadingZeros normalizes FEC's zero-padded districts ("03") to the
// roster form ("3").
func trimLeadingZeros(s string) string {
	for len(s) > 1 && s[0] == '0' {
		s = s[1:]
	}
	return s
}
