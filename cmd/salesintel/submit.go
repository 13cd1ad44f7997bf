package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"SalesIntel/sdk/go/salesintel"
)

const (
	envServerURL = "SALESINTEL_SERVER"
	envAPIKey    = "SALESINTEL_API_KEY"
)

// clientFlags 描述访问远端 API 所需的参数。
type clientFlags struct {
	server string
	apiKey string
}

func (f *clientFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "SalesIntel API base URL (defaults to $SALESINTEL_SERVER or http://127.0.0.1:8080)")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "API key sent as X-API-Key (defaults to $SALESINTEL_API_KEY)")
}

func (f *clientFlags) client() (*salesintel.Client, error) {
	server := firstSet(f.server, os.Getenv(envServerURL), "http://127.0.0.1:8080")
	client, err := salesintel.NewClient(server, nil)
	if err != nil {
		return nil, err
	}
	client.SetAPIKey(firstSet(f.apiKey, os.Getenv(envAPIKey)))
	return client, nil
}

func newSubmitCommand() *cobra.Command {
	var (
		target   targetFlags
		remote   clientFlags
		id       string
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue an analysis run on a running salesintel server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := remote.client()
			if err != nil {
				return err
			}
			run, err := client.SubmitRun(cmd.Context(), salesintel.RunSubmission{
				ID:               id,
				TargetName:       target.name,
				Industry:         target.industry,
				KeyDecisionMaker: target.keyDecisionMaker,
				Position:         target.position,
				Milestone:        target.milestone,
				Recipients:       target.recipients,
				SendEmail:        target.sendEmail,
			})
			if err != nil {
				return err
			}
			if wait {
				if run, err = client.WaitForRun(cmd.Context(), run.ID, interval); err != nil {
					return err
				}
			}
			return printRun(cmd.OutOrStdout(), run)
		},
	}
	target.bind(cmd)
	remote.bind(cmd)
	cmd.Flags().StringVar(&id, "id", "", "Client supplied run id for idempotent resubmission")
	cmd.Flags().BoolVar(&wait, "wait", false, "Poll until the run finishes")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Polling interval used with --wait")
	return cmd
}

func printRun(w io.Writer, run salesintel.Run) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(run); err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	return nil
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
