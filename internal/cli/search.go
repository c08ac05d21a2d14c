package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
)

func newSearchCommand(opts *options) *cobra.Command {
	var (
		langs, sources, tags []string
		limit                int
		cursor               string
		asJSON               bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a query against the index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := index.Filters{Languages: langs, Tags: tags}
			for _, s := range sources {
				kind, err := snippet.ParseSourceKind(s)
				if err != nil {
					return err
				}
				filters.SourceKinds = append(filters.SourceKinds, kind)
			}
			query := ""
			if len(args) == 1 {
				query = args[0]
			}

			m, err := opts.openIndex()
			if err != nil {
				return err
			}
			defer m.Close()

			ex := executor.New(m, opts.cfg.Ranking, opts.cfg.Search)
			page, err := ex.Search(cmd.Context(), executor.Request{
				Query:   query,
				Filters: filters,
				Cursor:  cursor,
				Limit:   limit,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), page)
			}
			printPage(cmd, page)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&langs, "lang", nil, "restrict to languages (repeatable)")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "restrict to source kinds (repeatable)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "require tags (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "results per page (0 uses the configured default)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue from a previous page")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result page as JSON")
	return cmd
}

func printPage(cmd *cobra.Command, page *executor.Page) {
	out := cmd.OutOrStdout()
	if page.Degraded {
		fmt.Fprintf(out, "warning: results exclude quarantined segments %v\n", page.Quarantined)
	}
	if len(page.Results) == 0 {
		fmt.Fprintln(out, "no results")
		return
	}
	for _, h := range page.Results {
		summary := strings.ReplaceAll(h.Summary, "\n", " ")
		fmt.Fprintf(out, "[%.4f] %s (%s) %s\n", h.Score, h.SnippetID, h.Language, summary)
	}
	fmt.Fprintf(out, "%d of %d hits\n", len(page.Results), page.TotalHits)
	if page.NextCursor != "" {
		fmt.Fprintf(out, "next: --cursor %s\n", page.NextCursor)
	}
}
