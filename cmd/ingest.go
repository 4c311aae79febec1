package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/choices-civics/repsync/internal/ingest"
	"github.com/choices-civics/repsync/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run a multi-provider ingestion pass",
	Long:  "Fetches officials from the enabled providers, resolves them into canonical entities, merges fields by precedence, and applies lifecycle transitions.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		mode, _ := cmd.Flags().GetString("mode")
		providers, _ := cmd.Flags().GetStringSlice("providers")
		jurisdiction, _ := cmd.Flags().GetString("jurisdiction")
		skipAdd, _ := cmd.Flags().GetBool("skip-add")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		resume, _ := cmd.Flags().GetBool("resume")

		opts, err := buildIngestOptions(mode, providers, jurisdiction, skipAdd, dryRun, resume)
		if err != nil {
			return err
		}
		opts.Timeout = cfg.Ingest.Deadline()

		selected := opts.Providers
		if len(selected) == 0 {
			selected = model.AllProviders()
		}
		if err := cfg.Validate(selected); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		orch, err := buildOrchestrator(st)
		if err != nil {
			return err
		}

		run, err := orch.Run(ctx, opts)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		formatRunSummary(os.Stdout, run)
		if run.Status == model.RunStatusFailed {
			return eris.Errorf("ingest: run %s failed", run.ID)
		}
		return nil
	},
}

// buildIngestOptions validates the flag surface into orchestrator options.
func buildIngestOptions(mode string, providers []string, jurisdiction string, skipAdd, dryRun, resume bool) (ingest.Options, error) {
	opts := ingest.Options{
		Jurisdiction: jurisdiction,
		SkipAdd:      skipAdd,
		DryRun:       dryRun,
		Resume:       resume,
	}

	switch model.RunMode(mode) {
	case model.RunModeFirstTime, model.RunModeEnrichment:
		opts.Mode = model.RunMode(mode)
	default:
		return opts, eris.Errorf("ingest: unknown mode %q (first_time, enrichment)", mode)
	}

	for _, raw := range providers {
		p := model.Provider(raw)
		if !p.Valid() {
			return opts, eris.Errorf("ingest: unknown provider %q", raw)
		}
		opts.Providers = append(opts.Providers, p)
	}
	return opts, nil
}

// formatRunSummary writes a per-provider table for one finished run.
func formatRunSummary(out io.Writer, run *model.IngestRun) {
	fmt.Fprintf(out, "Run %s: %s (mode %s)\n", run.ID, run.Status, run.Mode)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROVIDER\tFETCHED\tMERGED\tCREATED\tDEACTIVATED\tREPLACED\tINVALID\tSKIPPED\tEXHAUSTED")
	for _, p := range model.AllProviders() {
		c, ok := run.Counts[p]
		if !ok {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%v\n",
			p, c.Fetched, c.Merged, c.Created, c.Deactivated, c.Replaced, c.Invalid, c.Skipped, c.Exhausted)
	}
	_ = w.Flush()

	if run.ErrorCount > 0 {
		fmt.Fprintf(out, "Errors: %d\n", run.ErrorCount)
	}
	if len(run.FlaggedFuzzy) > 0 {
		fmt.Fprintf(out, "Fuzzy matches flagged for review: %d (repsync review fuzzy)\n", len(run.FlaggedFuzzy))
	}
	if len(run.FlaggedAmbiguous) > 0 {
		fmt.Fprintf(out, "Ambiguous replacements held: %d (repsync review ambiguous)\n", len(run.FlaggedAmbiguous))
	}
}

func init() {
	ingestCmd.Flags().String("mode", string(model.RunModeEnrichment), "run mode (first_time, enrichment)")
	ingestCmd.Flags().StringSlice("providers", nil, "restrict to specific providers (congress, openstates, fec, civicinfo)")
	ingestCmd.Flags().String("jurisdiction", "", "restrict to one jurisdiction (e.g. a state)")
	ingestCmd.Flags().Bool("skip-add", false, "do not create new entities, only enrich existing ones")
	ingestCmd.Flags().Bool("dry-run", false, "resolve and merge without writing")
	ingestCmd.Flags().Bool("resume", false, "resume providers from their latest incomplete checkpoint")

	rootCmd.AddCommand(ingestCmd)
}
