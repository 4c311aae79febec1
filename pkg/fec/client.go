// Package fec is a client for the campaign finance candidate API.
package fec

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/choices-civics/repsync/pkg/httpapi"
)

const defaultBaseURL = "https://api.open.fec.gov/v1"

// Candidate is one entry of the candidates response.
type Candidate struct {
	CandidateID    string   `json:"candidate_id"`
	Name           string   `json:"name"` // "LAST, FIRST" display form
	Party          string   `json:"party_full"`
	OfficeFull     string   `json:"office_full"`
	State          string   `json:"state"`
	District       string   `json:"district,omitempty"`
	ElectionYears  []int    `json:"election_years,omitempty"`
	CandidateStatus string  `json:"candidate_status,omitempty"`
	LoadDate       string   `json:"load_date,omitempty"`
	// BioguideID, when present among the candidate's other identifiers,
	// links the filing to the federal roster without a fuzzy pass.
	BioguideID string `json:"bioguide_id,omitempty"`
}

// CandidatePage is one page of the candidates list.
type CandidatePage struct {
	Candidates []json.RawMessage
	Page       int
	Pages      int
	HasNext    bool
}

// Client fetches candidates from the FEC API.
type Client struct {
	key     string
	baseURL string
	http    *httpapi.Client
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithTransport overrides the transport client.
func WithTransport(h *httpapi.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates an FEC API client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		key:     apiKey,
		baseURL: defaultBaseURL,
		http:    httpapi.New(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type candidatesResponse struct {
	Results    []json.RawMessage `json:"results"`
	Pagination struct {
		Page  int `json:"page"`
		Pages int `json:"pages"`
	} `json:"pagination"`
}

// ListCandidates fetches one page of candidates for a state. The FEC has no
// notion of a current roster; it is an enrichment-only provider.
func (c *Client) ListCandidates(ctx context.Context, state string, page, perPage int) (*CandidatePage, error) {
	q := url.Values{}
	q.Set("api_key", c.key)
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("sort", "name")
	if state != "" {
		q.Set("state", state)
	}

	body, err := c.http.Get(ctx, c.baseURL+"/candidates/", q, nil)
	if err != nil {
		return nil, err
	}

	var resp candidatesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "fec: unmarshal candidates")
	}

	return &CandidatePage{
		Candidates: resp.Results,
		Page:       resp.Pagination.Page,
		Pages:      resp.Pagination.Pages,
		HasNext:    resp.Pagination.Page < resp.Pagination.Pages,
	}, nil
}

// ParseCandidate decodes one raw candidate entry.
func ParseCandidate(raw json.RawMessage) (Candidate, error) {
	var cd Candidate
	if err := json.Unmarshal(raw, &cd); err != nil {
		return cd, eris.Wrap(err, "fec: unmarshal candidate")
	}
	if cd.CandidateID == "" {
		return cd, eris.New("fec: candidate missing candidate_id")
	}
	return cd, nil
}
