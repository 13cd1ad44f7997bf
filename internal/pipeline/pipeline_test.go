package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SalesIntel/internal/agent"
	xerrors "SalesIntel/internal/errors"
	"SalesIntel/internal/knowledge"
	"SalesIntel/internal/llm"
	"SalesIntel/internal/llm/offline"
	"SalesIntel/internal/mailer"
	"SalesIntel/internal/report"
	"SalesIntel/internal/search"
	"SalesIntel/internal/storage/mysql"
	"SalesIntel/internal/tools"
	"SalesIntel/pkg/logger"
)

var hul = Target{
	Name:             "Hindustan Unilever Limited",
	Industry:         "Fast-moving consumer goods",
	KeyDecisionMaker: "Rohit Jawa",
	Position:         "CEO",
	Milestone:        "HUL exceeded INR 50,000 Crore in revenue",
}

func newRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	engine := knowledge.Open(filepath.Join("..", "knowledge", "testdata", knowledge.DefaultFileName),
		knowledge.WithLogger(logger.Discard()))
	searcher := search.SearcherFunc(func(ctx context.Context, query string) ([]search.Result, error) {
		return []search.Result{{Title: "HUL results", URL: "https://example.com/hul", Snippet: "Revenue grew."}}, nil
	})
	reg := tools.NewRegistry(tools.WithLogger(logger.Discard()))
	require.NoError(t, reg.Register(
		tools.Knowledge{Engine: engine},
		tools.Research{Searcher: searcher},
		tools.Market{},
		tools.SentimentAnalyzer{},
		tools.Strategy{},
		tools.Communication{},
	))
	return reg
}

func newCrew(t *testing.T, client llm.Client, opts ...CrewOption) *Crew {
	t.Helper()
	members := NewAgents(client, newRegistry(t), agent.WithLogger(logger.Discard()))
	opts = append([]CrewOption{WithCrewLogger(logger.Discard())}, opts...)
	crew, err := NewCrew(DefaultStages(), members, opts...)
	require.NoError(t, err)
	return crew
}

type recordingLLM struct {
	requests []llm.Request
	failOn   string
	err      error
}

func (r *recordingLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	r.requests = append(r.requests, req)
	if r.failOn != "" && strings.Contains(req.Task, r.failOn) {
		return nil, r.err
	}
	return offline.NewClient().Generate(ctx, req)
}

func TestTargetValidate(t *testing.T) {
	assert.NoError(t, hul.Validate())
	assert.Equal(t, xerrors.CodeInvalidTarget, xerrors.CodeOf(Target{Industry: "Retail"}.Validate()))
	assert.Equal(t, xerrors.CodeInvalidTarget, xerrors.CodeOf(Target{Name: "Acme", Industry: "  "}.Validate()))

	normalized := Target{Name: " Acme ", Industry: "Retail"}.Normalize()
	assert.Equal(t, "Acme", normalized.Name)
	assert.Equal(t, "Key Stakeholder", normalized.KeyDecisionMaker)
}

func TestDefaultStagesRender(t *testing.T) {
	stages := DefaultStages()
	require.Len(t, stages, 5)

	description, expected, err := stages[0].Render(hul)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(description, "Conduct comprehensive research on Hindustan Unilever Limited in the Fast-moving consumer goods sector."))
	assert.Contains(t, description, "key decision-makers (like Rohit Jawa, CEO)")
	assert.Contains(t, expected, "(mention 'HUL exceeded INR 50,000 Crore in revenue')")

	for _, stage := range stages {
		for _, call := range stage.Calls(hul) {
			assert.True(t, stage.Persona.Allows(call.Tool), "%s cannot use %s", stage.Name, call.Tool)
		}
	}
}

func TestCrewRunsStagesInOrderWithContext(t *testing.T) {
	client := &recordingLLM{}
	var observed []string
	crew := newCrew(t, client, WithStageObserver(func(stage string, _ time.Duration, err error) {
		assert.NoError(t, err)
		observed = append(observed, stage)
	}))

	outputs, err := crew.Run(context.Background(), hul)
	require.NoError(t, err)

	want := []string{StageResearch, StageMarket, StageStrategy, StageCommunication, StageReflection}
	require.Len(t, outputs, len(want))
	for i, out := range outputs {
		assert.Equal(t, want[i], out.Stage)
		assert.NotEmpty(t, out.Output)
	}
	assert.Equal(t, want, observed)

	require.Len(t, client.requests, 5)
	assert.Empty(t, client.requests[0].Context)
	reflection := client.requests[4]
	require.Len(t, reflection.Context, 2)
	assert.Equal(t, StageStrategy, reflection.Context[0].Stage)
	assert.Equal(t, StageCommunication, reflection.Context[1].Stage)
	assert.Equal(t, "Strategic Planning Expert", reflection.Role)

	research := outputs[0].Observations
	require.Len(t, research, 4)
	assert.Contains(t, research[0].Output, "Research Findings for")
	assert.True(t, strings.HasPrefix(research[1].Output, "Knowledge Base: Competitive Analysis"))
	assert.True(t, strings.HasPrefix(research[3].Output, "Knowledge Base: "))
	assert.Contains(t, research[3].Output, "The FMCG sector focuses on brand building")

	strategy := outputs[2].Observations
	assert.Contains(t, strategy[0].Output, "Hindustan Unilever Limited")
	assert.NotContains(t, strategy[0].Output, "Tool Error")
}

func TestCrewWrapsStageFailure(t *testing.T) {
	client := &recordingLLM{failOn: "Develop a strategic engagement plan", err: errors.New("upstream 503")}
	crew := newCrew(t, client)

	outputs, err := crew.Run(context.Background(), hul)
	require.Error(t, err)
	assert.Len(t, outputs, 2)
	assert.Equal(t, xerrors.CodeStageFailed, xerrors.CodeOf(err))
	assert.True(t, xerrors.RetryableError(err))
	coded, ok := xerrors.From(err)
	require.True(t, ok)
	assert.Equal(t, StageStrategy, coded.Metadata()["stage"])
	assert.Contains(t, err.Error(), "upstream 503")
}

func TestCrewStopsWhenContextCancelled(t *testing.T) {
	crew := newCrew(t, &recordingLLM{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := crew.Run(ctx, hul)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewCrewRejectsInvalidDefinitions(t *testing.T) {
	members := NewAgents(&recordingLLM{}, nil)

	_, err := NewCrew(nil, members)
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))

	stages := DefaultStages()
	stages[0], stages[1] = stages[1], stages[0]
	_, err = NewCrew(stages, members)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `depends on "research"`)

	_, err = NewCrew(DefaultStages(), members[:1])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires crew member")

	_, err = NewCrew(DefaultStages(), append(members, members[0]))
	assert.Error(t, err)
}

type fakeSender struct {
	msgs []mailer.Message
	err  error
}

func (f *fakeSender) SendReport(_ context.Context, msg mailer.Message) error {
	f.msgs = append(f.msgs, msg)
	return f.err
}

func TestRunnerExecuteWritesReportAndHistory(t *testing.T) {
	dir := t.TempDir()
	history, err := mysql.NewMemoryReportRepository(filepath.Join(dir, "data"))
	require.NoError(t, err)
	sender := &fakeSender{}
	at := time.Date(2025, 4, 9, 10, 30, 0, 0, time.UTC)

	runner := NewRunner(newCrew(t, offline.NewClient()), report.NewWriter(filepath.Join(dir, "reports")),
		WithSender(sender),
		WithHistory(history),
		WithDefaultRecipients([]string{"sales@example.com"}),
		WithClock(func() time.Time { return at }),
		WithRunnerLogger(logger.Discard()))

	result, err := runner.Execute(context.Background(), RunRequest{RunID: "run-1", Target: hul, SendEmail: true})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "reports", "hindustan_unilever_limited_report_20250409_103000.txt"), result.ReportPath)
	content, err := os.ReadFile(result.ReportPath)
	require.NoError(t, err)
	assert.Equal(t, result.Report, string(content))
	assert.True(t, strings.HasPrefix(result.Report, "Hindustan Unilever Limited Strategic Analysis Report\nIndustry: Fast-moving consumer goods\n"))
	assert.Contains(t, result.Report, "## Task: Conduct comprehensive research on Hindustan Unilever Limited in the Fast-moving consumer goods sector")
	assert.Contains(t, result.Report, "- **Agents Used:** Research Coordinator, Market Research Specialist, Strategic Planning Expert, Communication Specialist")
	assert.Contains(t, result.Report, "- **Tasks Defined:** 5")

	require.Len(t, sender.msgs, 1)
	assert.Equal(t, []string{"sales@example.com"}, sender.msgs[0].To)
	assert.Equal(t, "Hindustan Unilever Limited Strategic Analysis Report", sender.msgs[0].Subject)
	assert.Equal(t, result.ReportPath, sender.msgs[0].AttachmentPath)
	assert.True(t, result.Emailed)

	record, err := history.FindByRunID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, record.Emailed)
	assert.Equal(t, result.ReportPath, record.ReportPath)
	assert.NotEmpty(t, record.Summary)
}

func TestRunnerEmailFailureDoesNotFailRun(t *testing.T) {
	sender := &fakeSender{err: xerrors.New(xerrors.CodeDeliveryFailed, "smtp down")}
	runner := NewRunner(newCrew(t, offline.NewClient()), report.NewWriter(t.TempDir()),
		WithSender(sender), WithRunnerLogger(logger.Discard()))

	result, err := runner.Execute(context.Background(), RunRequest{
		RunID: "run-2", Target: hul, SendEmail: true, Recipients: []string{"ceo@example.com"},
	})
	require.NoError(t, err)
	assert.False(t, result.Emailed)
	require.Len(t, result.Notes, 1)
	assert.Contains(t, result.Notes[0], "email failed")
	assert.FileExists(t, result.ReportPath)
}

func TestRunnerRejectsInvalidTarget(t *testing.T) {
	runner := NewRunner(newCrew(t, offline.NewClient()), report.NewWriter(t.TempDir()), WithRunnerLogger(logger.Discard()))
	_, err := runner.Execute(context.Background(), RunRequest{Target: Target{Name: "Acme"}})
	assert.Equal(t, xerrors.CodeInvalidTarget, xerrors.CodeOf(err))
}
