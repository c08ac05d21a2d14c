package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/ingestion/failures"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/ingestion/spool"
)

func newIngestCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest snippet records from .json or .jsonl files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.openIndex()
			if err != nil {
				return err
			}
			defer m.Close()

			failed := failures.New(nil)
			totals := make(map[indexer.Decision]int)
			for _, path := range args {
				recs, bad, err := spool.ReadRecords(path)
				if err != nil {
					return fmt.Errorf("reading %s: %w", path, err)
				}
				for _, lineErr := range bad {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, lineErr)
				}
				results := m.IngestBatch(cmd.Context(), recs)
				for i, r := range results {
					totals[r.Decision]++
					if r.Err != nil && failures.IsRecordable(r.Err) {
						failed.Record(cmd.Context(), failures.FromError(recs[i], "cli", r.Err))
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, r.Err)
					}
				}
				if err := indexer.FirstError(results); err != nil {
					return err
				}
			}
			printSummary(cmd, totals)
			return nil
		},
	}
}

func printSummary(cmd *cobra.Command, totals map[indexer.Decision]int) {
	decisions := make([]string, 0, len(totals))
	for d := range totals {
		decisions = append(decisions, string(d))
	}
	sort.Strings(decisions)
	for _, d := range decisions {
		fmt.Fprintf(cmd.OutOrStdout(), "%-10s %d\n", d, totals[indexer.Decision(d)])
	}
}

func newRemoveCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <snippet-id>",
		Short: "Tombstone a snippet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.openIndex()
			if err != nil {
				return err
			}
			defer m.Close()
			if err := m.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newFlushCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Seal the active segment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.openIndex()
			if err != nil {
				return err
			}
			defer m.Close()
			if err := m.Flush(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sealed segments: %d\n", len(m.Stats().SealedSegments))
			return nil
		},
	}
}

func newCompactCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Run one compaction round and wait for it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.openIndex()
			if err != nil {
				return err
			}
			defer m.Close()
			before := len(m.Stats().SealedSegments)
			if err := m.Compact(cmd.Context()); err != nil {
				return err
			}
			st := m.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "sealed segments: %d -> %d, tombstones: %d\n",
				before, len(st.SealedSegments), st.Tombstones)
			return nil
		},
	}
}

func newStatsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print index statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.openIndex()
			if err != nil {
				return err
			}
			defer m.Close()
			return printJSON(cmd.OutOrStdout(), m.Stats())
		},
	}
}

var errVerifyFailed = errors.New("segment verification failed")

func newVerifyCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the checksum of every sealed segment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.openIndex()
			if err != nil {
				return err
			}
			defer m.Close()
			results, err := m.Verify(cmd.Context())
			if err != nil {
				return err
			}
			bad := 0
			for _, r := range results {
				status := "ok"
				if r.Error != "" {
					status = r.Error
					bad++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "segment %d (%d docs): %s\n", r.SegmentID, r.Docs, status)
			}
			for _, q := range m.Stats().Quarantined {
				fmt.Fprintf(cmd.OutOrStdout(), "segment %d quarantined: %s\n", q.ID, q.Reason)
			}
			if bad > 0 {
				return fmt.Errorf("%w: %d of %d segments", errVerifyFailed, bad, len(results))
			}
			return nil
		},
	}
}
