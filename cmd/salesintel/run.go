package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"SalesIntel/internal/pipeline"
	"SalesIntel/pkg/logger"
)

// targetFlags 收集目标组织相关的命令行参数，run 与 submit 共用。
type targetFlags struct {
	name             string
	industry         string
	keyDecisionMaker string
	position         string
	milestone        string
	recipients       []string
	sendEmail        bool
}

func (f *targetFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "target", "", "Target organisation name (required)")
	cmd.Flags().StringVar(&f.industry, "industry", "", "Industry of the target organisation (required)")
	cmd.Flags().StringVar(&f.keyDecisionMaker, "decision-maker", "", "Key decision maker at the target")
	cmd.Flags().StringVar(&f.position, "position", "", "Position of the key decision maker")
	cmd.Flags().StringVar(&f.milestone, "milestone", "", "Recent milestone worth referencing")
	cmd.Flags().StringSliceVar(&f.recipients, "recipient", nil, "Email recipient for the report (repeatable)")
	cmd.Flags().BoolVar(&f.sendEmail, "email", false, "Email the finished report")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("industry")
}

func (f *targetFlags) target() pipeline.Target {
	return pipeline.Target{
		Name:             f.name,
		Industry:         f.industry,
		KeyDecisionMaker: f.keyDecisionMaker,
		Position:         f.position,
		Milestone:        f.milestone,
	}
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var (
		flags  targetFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the analysis pipeline once in the foreground",
		Example: `  salesintel run --target "Hindustan Unilever" --industry FMCG \
    --decision-maker "Rohit Jawa" --position CEO --milestone "Q3 results"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := flags.target()
			if err := target.Validate(); err != nil {
				return err
			}

			cfg, err := opts.loadConfig(true)
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.runner.Execute(cmd.Context(), pipeline.RunRequest{
				RunID:      uuid.NewString(),
				Target:     target,
				Recipients: flags.recipients,
				SendEmail:  flags.sendEmail,
			})
			if err != nil {
				return err
			}
			return printRunResult(cmd.OutOrStdout(), result, asJSON)
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full run result as JSON")
	return cmd
}

func printRunResult(w io.Writer, result *pipeline.RunResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintf(w, "Run %s finished for %s (%d stages)\n", result.RunID, result.Target.Name, len(result.Stages))
	fmt.Fprintf(w, "Report: %s\n", result.ReportPath)
	fmt.Fprintf(w, "Emailed: %t\n", result.Emailed)
	for _, note := range result.Notes {
		fmt.Fprintf(w, "Note: %s\n", note)
	}
	if summary := result.Summary(); summary != "" {
		fmt.Fprintf(w, "\n%s\n", summary)
	}
	return nil
}
