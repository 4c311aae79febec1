// Package congress is a client for the federal legislature roster API.
package congress

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/choices-civics/repsync/pkg/httpapi"
)

const defaultBaseURL = "https://api.congress.gov/v3"

// Member is one entry of the member list response.
type Member struct {
	BioguideID string `json:"bioguideId"`
	Name       string `json:"name"` // "Last, First" display form
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	State      string `json:"state"`
	District   *int   `json:"district,omitempty"`
	PartyName  string `json:"partyName"`
	Terms      struct {
		Item []Term `json:"item"`
	} `json:"terms"`
	OfficialWebsiteURL string `json:"officialWebsiteUrl,omitempty"`
	CurrentMember      bool   `json:"currentMember"`
}

// Term is one chamber term of a member.
type Term struct {
	Chamber   string `json:"chamber"`
	StartYear int    `json:"startYear"`
	EndYear   *int   `json:"endYear,omitempty"`
}

// MemberPage is one page of the member list.
type MemberPage struct {
	Members    []json.RawMessage
	NextOffset *int
	Count      int
}

// Client fetches members from the congress API.
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

// New creates a congress API client.
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

type memberListResponse struct {
	Members    []json.RawMessage `json:"members"`
	Pagination struct {
		Count int     `json:"count"`
		Next  *string `json:"next,omitempty"`
	} `json:"pagination"`
}

// ListMembers fetches one page of members. Members are returned raw so the
// connector's pure mapper owns all parsing; a member that fails to parse is
// an Invalid record, not a failed page.
func (c *Client) ListMembers(ctx context.Context, currentOnly bool, offset, limit int) (*MemberPage, error) {
	q := url.Values{}
	q.Set("api_key", c.key)
	q.Set("format", "json")
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	if currentOnly {
		q.Set("currentMember", "true")
	}

	body, err := c.http.Get(ctx, c.baseURL+"/member", q, nil)
	if err != nil {
		return nil, err
	}

	var resp memberListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "congress: unmarshal member list")
	}

	page := &MemberPage{Members: resp.Members, Count: resp.Pagination.Count}
	if resp.Pagination.Next != nil && *resp.Pagination.Next != "" && len(resp.Members) > 0 {
		next := offset + len(resp.Members)
		page.NextOffset = &next
	}
	return page, nil
}

// ParseMember decodes one raw member entry.
func ParseMember(raw json.RawMessage) (Member, error) {
	var m Member
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, eris.Wrap(err, "congress: unmarshal member")
	}
	if m.BioguideID == "" {
		return m, eris.New("congress: member missing bioguideId")
	}
	return m, nil
}
