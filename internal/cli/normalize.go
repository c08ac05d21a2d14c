package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/normalize"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/kafka"
)

func convertFile(cmd *cobra.Command, kindName, path string) ([]snippet.Record, error) {
	kind, err := normalize.ParseKind(kindName)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	recs, rejected, err := normalize.Convert(kind, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	positions := make([]int, 0, len(rejected))
	for i := range rejected {
		positions = append(positions, i)
	}
	sort.Ints(positions)
	for _, i := range positions {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s[%d]: %v\n", path, i, rejected[i])
	}
	return recs, nil
}

func newNormalizeCommand(opts *options) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "normalize <file>",
		Short: "Convert a scraper dump into snippet records (JSON lines on stdout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := convertFile(cmd, kind, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, r := range recs {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "stackoverflow", "scraper kind: stackoverflow or gist")
	return cmd
}

func newPublishCommand(opts *options) *cobra.Command {
	var kind, topic string
	cmd := &cobra.Command{
		Use:   "publish <file>",
		Short: "Normalize a scraper dump and publish the records to Kafka",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := convertFile(cmd, kind, args[0])
			if err != nil {
				return err
			}
			if topic == "" {
				topic = opts.cfg.Kafka.Topics.SnippetIngest
			}
			producer := kafka.NewProducer(opts.cfg.Kafka, topic)
			defer producer.Close()

			sent, err := normalize.NewPublisher(producer).Publish(cmd.Context(), recs)
			fmt.Fprintf(cmd.OutOrStdout(), "published %d of %d records to %s\n", sent, len(recs), topic)
			return err
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "stackoverflow", "scraper kind: stackoverflow or gist")
	cmd.Flags().StringVar(&topic, "topic", "", "Kafka topic (defaults to kafka.topics.snippetIngest)")
	return cmd
}
