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
	"github.com/choices-civics/repsync/pkg/congress"
)

// CongressConnector ingests the federal legislature roster.
type CongressConnector struct {
	base
	client   *congress.Client
	pageSize int
	now      func() time.Time
}

// NewCongress wires the congress client into the connector contract.
func NewCongress(client *congress.Client, gov *governor.Governor, policy governor.Policy, pageSize int) *CongressConnector {
	if pageSize <= 0 {
		pageSize = 250
	}
	return &CongressConnector{
		base:     base{provider: model.ProviderCongress, gov: gov, policy: policy, retry: resilience.DefaultRetryConfig()},
		client:   client,
		pageSize: pageSize,
		now:      time.Now,
	}
}

func (c *CongressConnector) Provider() model.Provider        { return model.ProviderCongress }
func (c *CongressConnector) QuotaPolicy() governor.Policy    { return c.policy }
func (c *CongressConnector) CurrentCapable() bool            { return true }

// FetchCurrent streams currently-serving members. The roster API supports
// current-only queries server-side.
func (c *CongressConnector) FetchCurrent(_, cursor string) *Stream {
	return NewStream(cursor, func(ctx context.Context, cur string) (Page, error) {
		return c.fetchPage(ctx, cur, true)
	})
}

// FetchAll streams the full historical member set.
func (c *CongressConnector) FetchAll(_, cursor string) *Stream {
	return NewStream(cursor, func(ctx context.Context, cur string) (Page, error) {
		return c.fetchPage(ctx, cur, false)
	})
}

func (c *CongressConnector) fetchPage(ctx context.Context, cursor string, currentOnly bool) (Page, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return Page{}, eris.Wrapf(err, "congress: bad cursor %q", cursor)
		}
		offset = n
	}

	return c.fetchGoverned(ctx, "list_members", func(ctx context.Context) (Page, error) {
		mp, err := c.client.ListMembers(ctx, currentOnly, offset, c.pageSize)
		if err != nil {
			return Page{}, err
		}

		page := Page{Done: mp.NextOffset == nil}
		if mp.NextOffset != nil {
			page.Cursor = strconv.Itoa(*mp.NextOffset)
		}
		fetchedAt := c.now().UTC()
		for _, raw := range mp.Members {
			rec, err := MapCongressMember(raw, fetchedAt)
			if err != nil {
				logInvalid(model.ProviderCongress, raw, err)
				page.Invalid++
				continue
			}
			page.Records = append(page.Records, rec)
		}
		return page, nil
	})
}

// MapCongressMember is the pure mapping from a raw member payload to the
// intermediate shape. Never contacts the network.
func MapCongressMember(raw json.RawMessage, fetchedAt time.Time) (model.SourceRecord, error) {
	m, err := congress.ParseMember(raw)
	if err != nil {
		return model.SourceRecord{}, resilience.Invalid(err)
	}

	fields := model.Fields{
		Name:         normalize.FlipComma(m.Name),
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		Level:        model.LevelFederal,
		Jurisdiction: m.State,
		Party:        m.PartyName,
		URL:          m.OfficialWebsiteURL,
		BioguideID:   m.BioguideID,
	}
	if m.District != nil {
		fields.District = strconv.Itoa(*m.District)
	}

	if len(m.Terms.Item) > 0 {
		last := m.Terms.Item[len(m.Terms.Item)-1]
		switch last.Chamber {
		case "Senate":
			fields.Office = "U.S. Senator"
		case "House of Representatives":
			fields.Office = "U.S. Representative"
		default:
			fields.Office = last.Chamber
		}
		// Federal terms begin and end on January 3.
		start := time.Date(last.StartYear, time.January, 3, 0, 0, 0, 0, time.UTC)
		fields.TermStart = &start
		if last.EndYear != nil {
			end := time.Date(*last.EndYear, time.January, 3, 0, 0, 0, 0, time.UTC)
			fields.TermEnd = &end
		}
	}
	if fields.Office == "" {
		return model.SourceRecord{}, resilience.Invalid(eris.Errorf("congress: member %s has no terms", m.BioguideID))
	}

	return model.SourceRecord{
		Source:     model.ProviderCongress,
		ExternalID: m.BioguideID,
		FetchedAt:  fetchedAt,
		Fields:     fields,
		Confidence: 0.95,
		Raw:        raw,
	}, nil
}
