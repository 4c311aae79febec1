// Package civicinfo is a client for the local civic office lookup API.
package civicinfo

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/choices-civics/repsync/pkg/httpapi"
)

const defaultBaseURL = "https://www.googleapis.com/civicinfo/v2"

// Office is an elected office with indices into the officials list.
type Office struct {
	Name            string `json:"name"`
	DivisionID      string `json:"divisionId"`
	Levels          []string `json:"levels,omitempty"`
	OfficialIndices []int  `json:"officialIndices"`
}

// Official is one officeholder. The API exposes no stable external ID for
// many local offices, which is why this provider feeds the fuzzy resolution
// path.
type Official struct {
	Name   string   `json:"name"`
	Party  string   `json:"party,omitempty"`
	Phones []string `json:"phones,omitempty"`
	URLs   []string `json:"urls,omitempty"`
	Emails []string `json:"emails,omitempty"`
}

// RepresentativesResponse is the full lookup result for one division. The
// endpoint is current-only and unpaginated.
type RepresentativesResponse struct {
	Offices   []Office   `json:"offices"`
	Officials []Official `json:"officials"`
	Raw       []byte     `json:"-"`
}

// Client fetches representatives from the civic info API.
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

// New creates a civic info API client.
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

// RepresentativesByDivision fetches officials for an OCD division.
func (c *Client) RepresentativesByDivision(ctx context.Context, divisionID string) (*RepresentativesResponse, error) {
	q := url.Values{}
	q.Set("key", c.key)

	endpoint := c.baseURL + "/representatives/" + url.PathEscape(divisionID)
	body, err := c.http.Get(ctx, endpoint, q, nil)
	if err != nil {
		return nil, err
	}

	var resp RepresentativesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "civicinfo: unmarshal representatives")
	}
	resp.Raw = body
	return &resp, nil
}
