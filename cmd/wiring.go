package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/choices-civics/repsync/internal/config"
	"github.com/choices-civics/repsync/internal/connector"
	"github.com/choices-civics/repsync/internal/governor"
	"github.com/choices-civics/repsync/internal/ingest"
	"github.com/choices-civics/repsync/internal/lifecycle"
	"github.com/choices-civics/repsync/internal/model"
	"github.com/choices-civics/repsync/internal/reconcile"
	"github.com/choices-civics/repsync/internal/resolver"
	"github.com/choices-civics/repsync/internal/store"
	"github.com/choices-civics/repsync/pkg/civicinfo"
	"github.com/choices-civics/repsync/pkg/congress"
	"github.com/choices-civics/repsync/pkg/fec"
	"github.com/choices-civics/repsync/pkg/openstates"
)

// initStore opens the configured backend. sqlite is the default for
// single-operator use; postgres for shared deployments.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("cmd: unknown store driver %q", cfg.Store.Driver)
	}
}

// policyFor translates a provider's config block into a governor policy.
func policyFor(pc config.ProviderConfig) governor.Policy {
	return governor.Policy{
		DailyBudget:    pc.DailyBudget,
		RequestsPerSec: pc.RequestsPerSec,
		Burst:          pc.Burst,
		MinDelay:       pc.MinDelay(),
		WaitTimeout:    pc.WaitTimeout(),
	}
}

// buildConnectors constructs one connector per enabled provider, each
// registered with the shared governor.
func buildConnectors() map[model.Provider]connector.Connector {
	gov := governor.New()
	conns := make(map[model.Provider]connector.Connector)

	if pc := cfg.Congress; pc.Enabled {
		pol := policyFor(pc)
		gov.Register(model.ProviderCongress, pol)
		client := congress.New(pc.Key, congress.WithBaseURL(pc.BaseURL))
		conns[model.ProviderCongress] = connector.NewCongress(client, gov, pol, pc.PageSize)
	}
	if pc := cfg.OpenStates; pc.Enabled {
		pol := policyFor(pc)
		gov.Register(model.ProviderOpenStates, pol)
		client := openstates.New(pc.Key, openstates.WithBaseURL(pc.BaseURL))
		conns[model.ProviderOpenStates] = connector.NewOpenStates(client, gov, pol, pc.PageSize)
	}
	if pc := cfg.FEC; pc.Enabled {
		pol := policyFor(pc)
		gov.Register(model.ProviderFEC, pol)
		client := fec.New(pc.Key, fec.WithBaseURL(pc.BaseURL))
		conns[model.ProviderFEC] = connector.NewFEC(client, gov, pol, pc.PageSize)
	}
	if pc := cfg.CivicInfo; pc.Enabled {
		pol := policyFor(pc)
		gov.Register(model.ProviderCivicInfo, pol)
		client := civicinfo.New(pc.Key, civicinfo.WithBaseURL(pc.BaseURL))
		conns[model.ProviderCivicInfo] = connector.NewCivicInfo(client, gov, pol)
	}
	return conns
}

// buildOrchestrator assembles the full ingestion stack over an open store.
func buildOrchestrator(st store.Store) (*ingest.Orchestrator, error) {
	eng, err := reconcile.New()
	if err != nil {
		return nil, err
	}
	res := resolver.New(st, cfg.Resolver.FuzzyThreshold).
		WithMaxCandidates(cfg.Resolver.MaxCandidates)
	lc := lifecycle.New(st, lifecycle.Options{
		Retention: cfg.Lifecycle.Retention(),
		ChunkSize: cfg.Ingest.ChunkSize,
	})
	return ingest.New(st, res, eng, lc, buildConnectors()), nil
}
