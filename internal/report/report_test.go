package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "SalesIntel/internal/errors"
)

var generatedAt = time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)

func TestFormatRendersSections(t *testing.T) {
	text := Format(Document{
		Target:      "Hindustan Unilever Limited",
		Industry:    "Fast-moving consumer goods",
		GeneratedAt: generatedAt,
		Sections: []Section{
			{
				Description: "Conduct comprehensive research on HUL. Analyze everything.",
				Output:      "Organization Overview:\n- Large FMCG company\n\n1. Strong brands\nPlain sentence here.\nThis line is a very long heading that should not be bold:",
			},
			{Description: "Analyze the market. More.", Output: "   "},
		},
		Agents:       []string{"Research Coordinator", "Market Research Specialist"},
		TasksDefined: 5,
	})

	want := strings.Join([]string{
		"Hindustan Unilever Limited Strategic Analysis Report",
		"Industry: Fast-moving consumer goods",
		"Generated on: 2025-03-14T09:26:53.589793",
		strings.Repeat("=", 50),
		"",
		"## Task: Conduct comprehensive research on HUL",
		strings.Repeat("-", 40),
		"### Output:",
		"\n**Organization Overview:**",
		"- Large FMCG company",
		"1. Strong brands",
		"  Plain sentence here.",
		"  This line is a very long heading that should not be bold:",
		"\n" + strings.Repeat("-", 40) + "\n",
		"## Task: Analyze the market",
		strings.Repeat("-", 40),
		"  *No valid output content found for this task.*",
		"\n" + strings.Repeat("-", 40) + "\n",
		"## Execution Metadata",
		strings.Repeat("-", 40),
		"- **Agents Used:** Research Coordinator, Market Research Specialist",
		"- **Tasks Defined:** 5",
		"- **Tasks with Output Objects:** 2",
	}, "\n")
	assert.Equal(t, want, text)
}

func TestFormatWithoutSections(t *testing.T) {
	text := Format(Document{GeneratedAt: generatedAt})
	assert.True(t, strings.HasPrefix(text, "Unknown Target Strategic Analysis Report\nIndustry: Unknown Industry\n"))
	assert.Contains(t, text, "No task outputs generated. The crew execution might have failed or produced no results.")
	assert.Contains(t, text, "- **Tasks with Output Objects:** 0")
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "hindustan_unilever_limited_report_20250314_092653.txt", FileName("Hindustan Unilever Limited", generatedAt))
	assert.Equal(t, "analysis_report_20250314_092653.txt", FileName("", generatedAt))
}

func TestWriterCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "reports")
	w := NewWriter(dir)

	path, err := w.Write("acme_report.txt", "body")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "acme_report.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "body", string(data))

	path, err = w.Write("../escape.txt", "x")
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
}

func TestWriterReportsFailures(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := NewWriter(filepath.Join(blocker, "sub")).Write("r.txt", "body")
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeReportWriteFailed, xerrors.CodeOf(err))
}
