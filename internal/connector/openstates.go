package connector

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/choices-civics/repsync/internal/governor"
	"github.com/choices-civics/repsync/internal/model"
	"github.com/choices-civics/repsync/internal/resilience"
	"github.com/choices-civics/repsync/pkg/openstates"
)

// OpenStatesConnector ingests state legislators. The upstream API returns the
// full person set for a jurisdiction, so the current roster is derived by
// client-side filtering on current_role.
type OpenStatesConnector struct {
	base
	client   *openstates.Client
	pageSize int
	now      func() time.Time
}

// NewOpenStates wires the openstates client into the connector contract.
func NewOpenStates(client *openstates.Client, gov *governor.Governor, policy governor.Policy, pageSize int) *OpenStatesConnector {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &OpenStatesConnector{
		base:     base{provider: model.ProviderOpenStates, gov: gov, policy: policy, retry: resilience.DefaultRetryConfig()},
		client:   client,
		pageSize: pageSize,
		now:      time.Now,
	}
}

func (c *OpenStatesConnector) Provider() model.Provider     { return model.ProviderOpenStates }
func (c *OpenStatesConnector) QuotaPolicy() governor.Policy { return c.policy }
func (c *OpenStatesConnector) CurrentCapable() bool         { return true }

// FetchCurrent streams people currently holding a role, filtered client-side.
func (c *OpenStatesConnector) FetchCurrent(jurisdiction, cursor string) *Stream {
	return NewStream(cursor, func(ctx context.Context, cur string) (Page, error) {
		return c.fetchPage(ctx, jurisdiction, cur, true)
	})
}

// FetchAll streams every person the provider knows for the jurisdiction.
func (c *OpenStatesConnector) FetchAll(jurisdiction, cursor string) *Stream {
	return NewStream(cursor, func(ctx context.Context, cur string) (Page, error) {
		return c.fetchPage(ctx, jurisdiction, cur, false)
	})
}

func (c *OpenStatesConnector) fetchPage(ctx context.Context, jurisdiction, cursor string, currentOnly bool) (Page, error) {
	pageNum := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return Page{}, eris.Wrapf(err, "openstates: bad cursor %q", cursor)
		}
		pageNum = n
	}

	return c.fetchGoverned(ctx, "list_people", func(ctx context.Context) (Page, error) {
		pp, err := c.client.ListPeople(ctx, jurisdiction, pageNum, c.pageSize)
		if err != nil {
			return Page{}, err
		}

		page := Page{Done: !pp.HasNext}
		if pp.HasNext {
			page.Cursor = strconv.Itoa(pp.Page + 1)
		}
		fetchedAt := c.now().UTC()
		for _, raw := range pp.People {
			rec, err := MapOpenStatesPerson(raw, jurisdiction, fetchedAt)
			if err != nil {
				logInvalid(model.ProviderOpenStates, raw, err)
				page.Invalid++
				continue
			}
			if currentOnly && rec.Fields.Office == "" {
				// No current role: not part of the current roster.
				continue
			}
			page.Records = append(page.Records, rec)
		}
		return page, nil
	})
}

// MapOpenStatesPerson is the pure mapping from a raw person payload to the
// intermediate shape.
func MapOpenStatesPerson(raw json.RawMessage, jurisdiction string, fetchedAt time.Time) (model.SourceRecord, error) {
	p, err := openstates.ParsePerson(raw)
	if err != nil {
		return model.SourceRecord{}, resilience.Invalid(err)
	}

	fields := model.Fields{
		Name:         p.Name,
		FirstName:    p.GivenName,
		LastName:     p.FamilyName,
		Level:        model.LevelState,
		Jurisdiction: jurisdiction,
		Party:        p.Party,
		Email:        p.Email,
	}
	if len(p.Links) > 0 {
		fields.URL = p.Links[0].URL
	}
	if p.CurrentRole != nil {
		fields.District = p.CurrentRole.District
		switch p.CurrentRole.OrgClassification {
		case "upper":
			fields.Office = "State Senator"
		case "lower":
			fields.Office = "State Representative"
		default:
			fields.Office = p.CurrentRole.Title
		}
	}

	confidence := 0.9
	if p.CurrentRole == nil {
		confidence = 0.75
	}

	return model.SourceRecord{
		Source:     model.ProviderOpenStates,
		ExternalID: p.ID,
		FetchedAt:  fetchedAt,
		Fields:     fields,
		Confidence: confidence,
		Raw:        raw,
	}, nil
}
