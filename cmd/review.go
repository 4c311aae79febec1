package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/choices-civics/repsync/internal/model"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review flagged resolution decisions",
	Long:  "Lists and resolves fuzzy-match audits and ambiguous replacements held for a human decision.",
}

// -- review fuzzy --

var reviewFuzzyCmd = &cobra.Command{
	Use:   "fuzzy",
	Short: "List fuzzy-match audit records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		all, _ := cmd.Flags().GetBool("all")
		matches, err := st.ListFuzzyMatches(ctx, !all)
		if err != nil {
			return eris.Wrap(err, "review fuzzy")
		}
		if len(matches) == 0 {
			fmt.Fprintln(os.Stderr, "No fuzzy matches pending review.")
			return nil
		}
		formatFuzzyMatches(os.Stdout, matches)
		return nil
	},
}

var reviewFuzzyResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Mark a fuzzy match as reviewed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "review fuzzy resolve: bad id %q", args[0])
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if err := st.ResolveFuzzyMatch(ctx, id); err != nil {
			return eris.Wrap(err, "review fuzzy resolve")
		}
		fmt.Fprintf(os.Stdout, "Fuzzy match %d resolved.\n", id)
		return nil
	},
}

// -- review ambiguous --

var reviewAmbiguousCmd = &cobra.Command{
	Use:   "ambiguous",
	Short: "List ambiguous replacement holds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		all, _ := cmd.Flags().GetBool("all")
		holds, err := st.ListAmbiguousReplacements(ctx, !all)
		if err != nil {
			return eris.Wrap(err, "review ambiguous")
		}
		if len(holds) == 0 {
			fmt.Fprintln(os.Stderr, "No ambiguous replacements pending review.")
			return nil
		}
		formatAmbiguousHolds(os.Stdout, holds)
		return nil
	},
}

var reviewAmbiguousResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Mark an ambiguous replacement as reviewed",
	Long:  "Marks the hold reviewed. The incumbent stays active until a later ingest run observes the settled roster.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "review ambiguous resolve: bad id %q", args[0])
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		if err := st.ResolveAmbiguousReplacement(ctx, id); err != nil {
			return eris.Wrap(err, "review ambiguous resolve")
		}
		fmt.Fprintf(os.Stdout, "Ambiguous replacement %d resolved.\n", id)
		return nil
	},
}

func init() {
	reviewFuzzyCmd.Flags().Bool("all", false, "include already-reviewed records")
	reviewAmbiguousCmd.Flags().Bool("all", false, "include already-reviewed records")

	reviewFuzzyCmd.AddCommand(reviewFuzzyResolveCmd)
	reviewAmbiguousCmd.AddCommand(reviewAmbiguousResolveCmd)
	reviewCmd.AddCommand(reviewFuzzyCmd)
	reviewCmd.AddCommand(reviewAmbiguousCmd)
	rootCmd.AddCommand(reviewCmd)
}

func formatFuzzyMatches(out io.Writer, matches []model.FuzzyMatch) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCANONICAL\tSOURCE\tEXTERNAL_ID\tINCOMING\tMATCHED\tSCORE\tRESOLVED")
	for _, m := range matches {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%.3f\t%v\n",
			m.ID, truncateID(m.CanonicalID), m.Source, m.ExternalID,
			m.IncomingName, m.MatchedName, m.Score, m.Resolved)
	}
	_ = w.Flush()
}

func formatAmbiguousHolds(out io.Writer, holds []model.AmbiguousReplacement) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSLOT\tINCUMBENT\tCLAIMANTS\tRESOLVED")
	for _, h := range holds {
		claimants := make([]string, len(h.ClaimantIDs))
		for i, c := range h.ClaimantIDs {
			claimants[i] = truncateID(c)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%v\n",
			h.ID, h.Slot.Key(), truncateID(h.IncumbentID),
			strings.Join(claimants, ","), h.Resolved)
	}
	_ = w.Flush()
}
