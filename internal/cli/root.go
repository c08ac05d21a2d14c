// Package cli implements snipctl, the administration tool that works
// directly on an index data directory.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/logger"
)

type options struct {
	configPath string
	dataDir    string
	logLevel   string
	cfg        *config.Config
}

// NewRootCommand builds the snipctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "snipctl",
		Short:         "Inspect and maintain a snippet index",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if opts.dataDir != "" {
				cfg.Index.DataDir = opts.dataDir
			}
			level := cfg.Logging.Level
			if opts.logLevel != "" {
				level = opts.logLevel
			}
			logger.SetupTo(cmd.ErrOrStderr(), level, "text")
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "index data directory (overrides config)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newIngestCommand(opts),
		newSearchCommand(opts),
		newRemoveCommand(opts),
		newFlushCommand(opts),
		newCompactCommand(opts),
		newStatsCommand(opts),
		newVerifyCommand(opts),
		newNormalizeCommand(opts),
		newPublishCommand(opts),
	)
	return root
}

// openIndex opens the manager for one command. Callers must Close it; Close
// seals whatever the command ingested.
func (o *options) openIndex() (*indexer.Manager, error) {
	m, err := indexer.Open(o.cfg.Index, indexer.Options{Dedup: o.cfg.Dedup, Ingest: o.cfg.Ingest})
	if err != nil {
		return nil, fmt.Errorf("opening index in %s: %w", o.cfg.Index.DataDir, err)
	}
	return m, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
