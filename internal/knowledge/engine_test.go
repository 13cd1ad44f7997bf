package knowledge

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SalesIntel/pkg/logger"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	return Open(filepath.Join("testdata", DefaultFileName), opts...)
}

func TestLookupExactTopic(t *testing.T) {
	engine := newTestEngine(t)

	for _, query := range []string{"swot analysis", "SWOT_Analysis", "  Swot   Analysis  ", "swot\tanalysis"} {
		result := engine.Match(query)
		require.Equal(t, TierExact, result.Tier, query)
		assert.Equal(t, "strategic_models", result.Category)
		assert.Equal(t, "swot_analysis", result.Topic)
		assert.True(t, strings.HasPrefix(result.Text, "Knowledge Base: Swot Analysis\n\n"), result.Text)
		assert.Contains(t, result.Text, "SWOT Analysis Framework:")
	}
}

func TestLookupSubstringTopic(t *testing.T) {
	engine := newTestEngine(t)

	result := engine.Match("Please share the objection handling framework")
	require.Equal(t, TierSubstring, result.Tier)
	assert.Equal(t, "objection_handling", result.Topic)
	assert.True(t, strings.HasPrefix(result.Text, "Relevant Knowledge: Objection Handling\n\n"))
}

func TestLookupPrefersLongestTopic(t *testing.T) {
	base := NewBase().
		Add("basics", "analysis", "generic analysis").
		Add("research_frameworks", "competitive_analysis", "competitor deep dive")
	engine := New(base, WithLogger(logger.Discard()))

	result := engine.Match("give me competitive analysis please")
	require.Equal(t, TierSubstring, result.Tier)
	assert.Equal(t, "competitive_analysis", result.Topic)
	assert.Contains(t, result.Text, "competitor deep dive")
}

func TestLookupSubstringTieKeepsFirst(t *testing.T) {
	base := NewBase().
		Add("one", "alpha", "first").
		Add("two", "omega", "second")
	engine := New(base, WithLogger(logger.Discard()))

	result := engine.Match("omega then alpha")
	require.Equal(t, TierSubstring, result.Tier)
	assert.Equal(t, "alpha", result.Topic)
}

func TestLookupPreconditions(t *testing.T) {
	engine := newTestEngine(t)
	assert.Equal(t, MessageEmptyQuery, engine.Lookup(""))
	assert.Equal(t, MessageEmptyQuery, engine.Lookup("   "))

	empty := New(NewBase(), WithLogger(logger.Discard()))
	assert.Equal(t, MessageUnavailable, empty.Lookup("swot analysis"))
	assert.Equal(t, MessageUnavailable, empty.Lookup(""))
}

func TestOpenMissingFileDegradesToEmpty(t *testing.T) {
	engine := Open(filepath.Join(t.TempDir(), "missing.json"), WithLogger(logger.Discard()))
	assert.True(t, engine.Empty())
	assert.Equal(t, MessageUnavailable, engine.Lookup("technology"))
}

func TestOpenMalformedFileDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"strategic_models": [`), 0o644))

	engine := Open(path, WithLogger(logger.Discard()))
	assert.True(t, engine.Empty())
	assert.Equal(t, MessageUnavailable, engine.Lookup("swot"))
}

func TestLookupCategoryLastWins(t *testing.T) {
	base := NewBase().
		Add("models", "first_topic", "a").
		Add("strategic_models", "second_topic", "b").
		Add("strategic_models", "third_topic", "c")
	engine := New(base, WithLogger(logger.Discard()))

	result := engine.Match("tell me about strategic models")
	require.Equal(t, TierCategory, result.Tier)
	assert.Equal(t, "strategic_models", result.Category)
	assert.Equal(t,
		"Found knowledge related to 'Strategic Models'. Specific topics available: Second Topic, Third Topic. Please refine your query with one of these topics.",
		result.Text)
}

func TestLookupFallbackListsCategoriesOnce(t *testing.T) {
	engine := newTestEngine(t)

	result := engine.Match("quantum gardening")
	require.Equal(t, TierFallback, result.Tier)
	assert.Equal(t,
		"No specific match found in the Knowledge Base for 'quantum gardening'. Available top-level categories: Research Frameworks, Strategic Models, Communication Guidelines, Industry Insights. Please refine your query.",
		result.Text)
	for _, title := range []string{"Research Frameworks", "Strategic Models", "Communication Guidelines", "Industry Insights"} {
		assert.Equal(t, 1, strings.Count(result.Text, title), title)
	}
}

func TestLookupRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"strategic_models": {"swot_analysis": "X"}}`), 0o644))

	engine := Open(path, WithLogger(logger.Discard()))
	text := engine.Lookup("swot analysis")
	assert.Equal(t, 1, strings.Count(text, "X"))
	assert.True(t, strings.HasSuffix(text, "\n\nX"))
}

func TestLookupIsIdempotent(t *testing.T) {
	engine := newTestEngine(t)
	for _, query := range []string{"technology", "stakeholder", "nothing relevant", ""} {
		assert.Equal(t, engine.Lookup(query), engine.Lookup(query), query)
	}
}

func TestIndustryPriority(t *testing.T) {
	query := "technology competitive analysis"

	standard := newTestEngine(t)
	result := standard.Match(query)
	require.Equal(t, TierSubstring, result.Tier)
	assert.Equal(t, "competitive_analysis", result.Topic)

	prioritized := newTestEngine(t, WithIndustryPriority(true))
	result = prioritized.Match(query)
	require.Equal(t, TierIndustry, result.Tier)
	assert.Equal(t, "technology", result.Topic)
	assert.True(t, strings.HasPrefix(result.Text, "Knowledge Base: Industry Insights - Technology\n\n"))

	// 精确匹配仍然优先。
	assert.Equal(t, TierExact, prioritized.Match("swot analysis").Tier)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	content := "communication_guidelines:\n  objection_handling: listen first\nindustry_insights:\n  retail: omnichannel\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	engine := Open(path, WithLogger(logger.Discard()))
	assert.Equal(t, []string{"communication_guidelines", "industry_insights"}, engine.Categories())
	assert.Equal(t, "Knowledge Base: Retail\n\nomnichannel", engine.Lookup("retail"))
}

func TestObserverSeesEveryLookup(t *testing.T) {
	var tiers []Tier
	engine := newTestEngine(t, WithObserver(func(r Result) { tiers = append(tiers, r.Tier) }))

	engine.Lookup("swot analysis")
	engine.Lookup("")
	engine.Lookup("unknown")
	assert.Equal(t, []Tier{TierExact, TierEmptyQuery, TierFallback}, tiers)
}

func TestOpenAppliesOptionsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"strategic_models": {"swot_analysis": "X"}}`), 0o644))

	applied := 0
	countOption := func(*Engine) { applied++ }
	engine := Open(path, WithLogger(logger.Discard()), countOption)
	assert.Equal(t, 1, applied)
	assert.Equal(t, "Knowledge Base: Swot Analysis\n\nX", engine.Lookup("swot analysis"))
}

func TestEngineIgnoresLaterBaseMutation(t *testing.T) {
	base := NewBase().Add("strategic_models", "swot_analysis", "X")
	engine := New(base, WithLogger(logger.Discard()))
	base.Add("strategic_models", "swot_analysis", "Y")

	assert.True(t, strings.HasSuffix(engine.Lookup("swot analysis"), "\n\nX"))
}

func TestConcurrentLookups(t *testing.T) {
	engine := newTestEngine(t)
	want := engine.Lookup("value proposition")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if got := engine.Lookup("value proposition"); got != want {
					t.Errorf("unexpected result: %q", got)
					return
				}
			}
		}()
	}
	wg.Wait()
}
