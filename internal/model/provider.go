package model

// Provider identifies an upstream civic data source.
type Provider string

const (
	// ProviderCongress is the federal legislature roster API (bioguide IDs).
	ProviderCongress Provider = "congress"
	// ProviderOpenStates is the state legislature API (ocd-person IDs).
	ProviderOpenStates Provider = "openstates"
	// ProviderFEC is the campaign finance API (candidate IDs). Enrichment only.
	ProviderFEC Provider = "fec"
	// ProviderCivicInfo is the local/civic office lookup API. Some offices carry
	// no stable external ID, which forces the fuzzy resolution path.
	ProviderCivicInfo Provider = "civicinfo"
)

// AllProviders lists every wired provider in a stable order.
func AllProviders() []Provider {
	return []Provider{ProviderCongress, ProviderOpenStates, ProviderFEC, ProviderCivicInfo}
}

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderCongress, ProviderOpenStates, ProviderFEC, ProviderCivicInfo:
		return true
	}
	return false
}

// Government reports whether the provider is an authoritative government
// source. Values from government sources are never overwritten by
// non-government providers during reconciliation.
func (p Provider) Government() bool {
	switch p {
	case ProviderCongress, ProviderOpenStates, ProviderCivicInfo:
		return true
	}
	return false
}

// CurrentRoster reports whether the provider publishes an authoritative
// "currently serving" roster. Replacement detection only trusts roster
// providers.
func (p Provider) CurrentRoster() bool {
	switch p {
	case ProviderCongress, ProviderOpenStates, ProviderCivicInfo:
		return true
	}
	return false
}
