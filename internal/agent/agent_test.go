package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "SalesIntel/internal/errors"
	"SalesIntel/internal/llm"
	"SalesIntel/internal/tools"
	"SalesIntel/pkg/logger"
)

type stubLLM struct {
	resp *llm.Response
	err  error
	wait time.Duration
	last llm.Request
}

func (s *stubLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.last = req
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func newRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(tools.WithLogger(logger.Discard()))
	require.NoError(t, reg.Register(tools.Market{}, tools.Strategy{}, tools.SentimentAnalyzer{}))
	return reg
}

func TestPerformSuccess(t *testing.T) {
	llmClient := &stubLLM{resp: &llm.Response{Thought: "ok", Reply: "  Strategic Plan:\n- Grow  "}}
	ag := New(StrategicPlanningExpert, llmClient, newRegistry(t), WithLogger(logger.Discard()))

	prior := StageOutput{Stage: "market", Role: MarketResearchSpecialist.Role, Output: "FMCG outlook"}
	out, err := ag.Perform(context.Background(), Assignment{
		Stage:          "strategy",
		Description:    "Develop a strategy for HUL.",
		ExpectedOutput: "A plan",
		Context:        []StageOutput{prior},
		Calls: []ToolCall{
			{Tool: tools.NameStrategy, Input: tools.StrategyInput{Objectives: []string{"growth"}, TargetInfo: "HUL"}},
			{Tool: tools.NameMarket, Input: "FMCG"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "strategy", out.Stage)
	assert.Equal(t, "Strategic Planning Expert", out.Role)
	assert.Equal(t, "Strategic Plan:\n- Grow", out.Output)
	require.Len(t, out.Observations, 2)
	assert.Contains(t, out.Observations[0].Output, "Expand market presence for HUL")
	assert.Equal(t, `{"organization_type":"","objectives":["growth"],"target_info":"HUL","market_context":""}`, out.Observations[0].Input)
	assert.Equal(t, "Tool Error: Market Analysis Tool is not available to the Strategic Planning Expert.", out.Observations[1].Output)
	assert.False(t, out.FinishedAt.Before(out.StartedAt))

	assert.Equal(t, StrategicPlanningExpert.Goal, llmClient.last.Goal)
	require.Len(t, llmClient.last.Context, 1)
	assert.Equal(t, "FMCG outlook", llmClient.last.Context[0].Output)
}

func TestPerformTimeout(t *testing.T) {
	llmClient := &stubLLM{wait: 50 * time.Millisecond}
	ag := New(ResearchCoordinator, llmClient, nil, WithLLMTimeout(10*time.Millisecond), WithLogger(logger.Discard()))

	_, err := ag.Perform(context.Background(), Assignment{Stage: "research", Description: "Research HUL."})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
}

func TestPerformMapsProviderErrors(t *testing.T) {
	ag := New(ResearchCoordinator, &stubLLM{err: errors.New("quota exceeded")}, nil, WithLogger(logger.Discard()))
	_, err := ag.Perform(context.Background(), Assignment{Stage: "research", Description: "Research HUL."})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeExecutorFailure, xerrors.CodeOf(err))
	e, ok := xerrors.From(err)
	require.True(t, ok)
	assert.Equal(t, "research", e.Metadata()["stage"])

	empty := New(ResearchCoordinator, &stubLLM{resp: &llm.Response{Reply: "  "}}, nil, WithLogger(logger.Discard()))
	_, err = empty.Perform(context.Background(), Assignment{Stage: "research", Description: "Research HUL."})
	assert.Equal(t, xerrors.CodeExecutorFailure, xerrors.CodeOf(err))
}

func TestPerformValidatesInput(t *testing.T) {
	_, err := New(ResearchCoordinator, nil, nil).Perform(context.Background(), Assignment{Description: "x"})
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))

	_, err = New(ResearchCoordinator, &stubLLM{}, nil).Perform(context.Background(), Assignment{})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestPersonas(t *testing.T) {
	personas := Personas()
	require.Len(t, personas, 4)
	for _, p := range personas {
		assert.NotEmpty(t, p.Goal, p.Role)
		assert.True(t, p.Allows(tools.NameKnowledge), p.Role)
	}
	assert.False(t, CommunicationSpecialist.Allows(tools.NameStrategy))
}
