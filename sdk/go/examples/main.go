package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"SalesIntel/sdk/go/salesintel"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(salesintel.Run{
			ID:        "run-demo",
			Target:    salesintel.Target{Name: "Hindustan Unilever Limited", Industry: "FMCG"},
			Status:    salesintel.StatusPending,
			CreatedAt: time.Now().Unix(),
		})
	})
	mux.HandleFunc("GET /api/v1/runs/run-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(salesintel.Run{
			ID:     "run-demo",
			Status: salesintel.StatusSucceeded,
			Result: &salesintel.RunResult{
				ReportPath: "reports/hindustan_unilever_limited_report_20250409_103000.txt",
				Stages:     5,
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := salesintel.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	client.SetAPIKey("demo-key")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	run, err := client.SubmitRun(ctx, salesintel.RunSubmission{
		TargetName:       "Hindustan Unilever Limited",
		Industry:         "FMCG",
		KeyDecisionMaker: "Rohit Jawa",
		Position:         "CEO",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("queued run %s (status=%s)\n", run.ID, run.Status)

	done, err := client.WaitForRun(ctx, run.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("run %s finished: report=%s stages=%d\n", done.ID, done.Result.ReportPath, done.Result.Stages)
}
