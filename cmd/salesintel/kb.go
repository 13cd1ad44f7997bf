package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"SalesIntel/internal/knowledge"
	"SalesIntel/pkg/logger"
)

func newKnowledgeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Inspect the local sales knowledge base",
	}
	cmd.AddCommand(newLookupCommand(opts), newTopicsCommand(opts))
	return cmd
}

// openKnowledge 只装配知识库，不初始化模型与存储。
func openKnowledge(opts *rootOptions) (*knowledge.Engine, error) {
	cfg, err := opts.loadConfig(true)
	if err != nil {
		return nil, err
	}
	return knowledge.New(
		knowledge.Load(cfg.Knowledge.Path, logger.Named("knowledge")),
		knowledge.WithIndustryPriority(cfg.Knowledge.IndustryPriority),
	), nil
}

func newLookupCommand(opts *rootOptions) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "lookup <query>",
		Short: "Answer a query from the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openKnowledge(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			result := engine.Match(strings.Join(args, " "))
			out := cmd.OutOrStdout()
			if verbose {
				fmt.Fprintf(out, "tier: %s\n", result.Tier)
				if result.Category != "" {
					fmt.Fprintf(out, "category: %s\n", result.Category)
				}
				if result.Topic != "" {
					fmt.Fprintf(out, "topic: %s\n", result.Topic)
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, result.Text)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show which matching tier produced the answer")
	return cmd
}

func newTopicsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "topics [category]",
		Short: "List knowledge categories, or the topics of one category",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openKnowledge(opts)
			if err != nil {
				return err
			}
			defer logger.Sync()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, category := range engine.Categories() {
					fmt.Fprintln(out, category)
				}
				return nil
			}
			for _, topic := range engine.Topics(args[0]) {
				fmt.Fprintln(out, topic)
			}
			return nil
		},
	}
}
