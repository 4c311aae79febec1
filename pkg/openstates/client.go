// Package openstates is a client for the state legislature people API.
package openstates

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/choices-civics/repsync/pkg/httpapi"
)

const defaultBaseURL = "https://v3.openstates.org"

// Person is one entry of the people response.
type Person struct {
	ID          string `json:"id"` // ocd-person UUID
	Name        string `json:"name"`
	GivenName   string `json:"given_name"`
	FamilyName  string `json:"family_name"`
	Party       string `json:"party"`
	Email       string `json:"email,omitempty"`
	CurrentRole *Role  `json:"current_role,omitempty"`
	DeathDate   string `json:"death_date,omitempty"`
	Links       []struct {
		URL string `json:"url"`
	} `json:"links,omitempty"`
}

// Role is a person's current legislative role.
type Role struct {
	Title             string `json:"title"`
	OrgClassification string `json:"org_classification"`
	District          string `json:"district"`
	DivisionID        string `json:"division_id"`
}

// PeoplePage is one page of the people list.
type PeoplePage struct {
	People   []json.RawMessage
	Page     int
	MaxPage  int
	PerPage  int
	HasNext  bool
}

// Client fetches people from the openstates API.
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

// New creates an openstates API client.
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

type peopleResponse struct {
	Results    []json.RawMessage `json:"results"`
	Pagination struct {
		Page    int `json:"page"`
		MaxPage int `json:"max_page"`
		PerPage int `json:"per_page"`
	} `json:"pagination"`
}

// ListPeople fetches one page of people for a jurisdiction. The API returns
// the full historical set; callers filter to current office-holders via
// each person's current_role.
func (c *Client) ListPeople(ctx context.Context, jurisdiction string, page, perPage int) (*PeoplePage, error) {
	q := url.Values{}
	q.Set("jurisdiction", jurisdiction)
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("include", "links")

	body, err := c.http.Get(ctx, c.baseURL+"/people", q, map[string]string{"X-API-KEY": c.key})
	if err != nil {
		return nil, err
	}

	var resp peopleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "openstates: unmarshal people")
	}

	return &PeoplePage{
		People:  resp.Results,
		Page:    resp.Pagination.Page,
		MaxPage: resp.Pagination.MaxPage,
		PerPage: resp.Pagination.PerPage,
		HasNext: resp.Pagination.Page < resp.Pagination.MaxPage,
	}, nil
}

// ParsePerson decodes one raw person entry.
func ParsePerson(raw json.RawMessage) (Person, error) {
	var p Person
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, eris.Wrap(err, "openstates: unmarshal person")
	}
	if p.ID == "" {
		return p, eris.New("openstates: person missing id")
	}
	return p, nil
}
