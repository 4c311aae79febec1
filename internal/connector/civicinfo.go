package connector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/choices-civics/repsync/internal/governor"
	"github.com/choices-civics/repsync/internal/model"
	"github.com/choices-civics/repsync/internal/normalize"
	"github.com/choices-civics/repsync/internal/resilience"
	"github.com/choices-civics/repsync/pkg/civicinfo"
)

// CivicInfoConnector ingests local officials by OCD division. The provider
// is current-only and unpaginated, and exposes no stable identifier for many
// offices; external IDs are synthesized from (division, office, normalized
// name) so re-fetches of an unchanged officeholder stay idempotent, while
// genuinely new people still go through the audited fuzzy path.
type CivicInfoConnector struct {
	base
	client *civicinfo.Client
	now    func() time.Time
}

// NewCivicInfo wires the civic info client into the connector contract.
func NewCivicInfo(client *civicinfo.Client, gov *governor.Governor, policy governor.Policy) *CivicInfoConnector {
	return &CivicInfoConnector{
		base:   base{provider: model.ProviderCivicInfo, gov: gov, policy: policy, retry: resilience.DefaultRetryConfig()},
		client: client,
		now:    time.Now,
	}
}

func (c *CivicInfoConnector) Provider() model.Provider     { return model.ProviderCivicInfo }
func (c *CivicInfoConnector) QuotaPolicy() governor.Policy { return c.policy }
func (c *CivicInfoConnector) CurrentCapable() bool         { return true }

// FetchCurrent streams the division's current officials in a single page.
func (c *CivicInfoConnector) FetchCurrent(jurisdiction, cursor string) *Stream {
	return NewStream(cursor, func(ctx context.Context, _ string) (Page, error) {
		return c.fetchDivision(ctx, jurisdiction)
	})
}

// FetchAll is identical to FetchCurrent: the provider has no history.
func (c *CivicInfoConnector) FetchAll(jurisdiction, cursor string) *Stream {
	return c.FetchCurrent(jurisdiction, cursor)
}

func (c *CivicInfoConnector) fetchDivision(ctx context.Context, divisionID string) (Page, error) {
	if divisionID == "" {
		return Page{}, eris.New("civicinfo: division id is required")
	}

	return c.fetchGoverned(ctx, "representatives_by_division", func(ctx context.Context) (Page, error) {
		resp, err := c.client.RepresentativesByDivision(ctx, divisionID)
		if err != nil {
			return Page{}, err
		}

		page := Page{Done: true}
		fetchedAt := c.now().UTC()
		for _, office := range resp.Offices {
			for _, idx := range office.OfficialIndices {
				if idx < 0 || idx >= len(resp.Officials) {
					logInvalid(model.ProviderCivicInfo, resp.Raw,
						eris.Errorf("civicinfo: office %q references official index %d out of range", office.Name, idx))
					page.Invalid++
					continue
				}
				rec, err := MapCivicOfficial(office, resp.Officials[idx], divisionID, fetchedAt)
				if err != nil {
					logInvalid(model.ProviderCivicInfo, resp.Raw, err)
					page.Invalid++
					continue
				}
				page.Records = append(page.Records, rec)
			}
		}
		return page, nil
	})
}

// MapCivicOfficial is the pure mapping from one (office, official) pair to
// the intermediate shape.
func MapCivicOfficial(office civicinfo.Office, official civicinfo.Official, divisionID string, fetchedAt time.Time) (model.SourceRecord, error) {
	if official.Name == "" {
		return model.SourceRecord{}, resilience.Invalid(eris.Errorf("civicinfo: official for %q has no name", office.Name))
	}

	fields := model.Fields{
		Name:         official.Name,
		Level:        model.LevelLocal,
		Office:       office.Name,
		Jurisdiction: divisionID,
		Party:        official.Party,
	}
	if len(official.Emails) > 0 {
		fields.Email = official.Emails[0]
	}
	if len(official.Phones) > 0 {
		fields.Phone = official.Phones[0]
	}
	if len(official.URLs) > 0 {
		fields.URL = official.URLs[0]
	}

	externalID := divisionID + "/" + normalize.Name(office.Name) + "/" + normalize.Name(official.Name)

	raw, err := json.Marshal(struct {
		Office   civicinfo.Office   `json:"office"`
		Official civicinfo.Official `json:"official"`
	}{office, official})
	if err != nil {
		return model.SourceRecord{}, resilience.Invalid(eris.Wrap(err, "civicinfo: marshal raw"))
	}

	return model.SourceRecord{
		Source:     model.ProviderCivicInfo,
		ExternalID: externalID,
		FetchedAt:  fetchedAt,
		Fields:     fields,
		Confidence: 0.8,
		Raw:        raw,
	}, nil
}
