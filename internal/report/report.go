package report

import (
	"fmt"
	"strings"
	"time"
)

const (
	headerRule  = 50
	sectionRule = 40
	// TimestampLayout 是报告头部 Generated on 字段的时间格式。
	TimestampLayout = "2006-01-02T15:04:05.000000"
)

// Section 是报告中的一个阶段产出。
type Section struct {
	Description string
	Output      string
}

// Document 汇总生成一份报告所需的信息。
type Document struct {
	Target       string
	Industry     string
	GeneratedAt  time.Time
	Sections     []Section
	Agents       []string
	TasksDefined int
}

// Format 把阶段产出渲染成纯文本报告。
func Format(doc Document) string {
	target := doc.Target
	if strings.TrimSpace(target) == "" {
		target = "Unknown Target"
	}
	industry := doc.Industry
	if strings.TrimSpace(industry) == "" {
		industry = "Unknown Industry"
	}

	lines := []string{
		fmt.Sprintf("%s Strategic Analysis Report", target),
		fmt.Sprintf("Industry: %s", industry),
		fmt.Sprintf("Generated on: %s", doc.GeneratedAt.Format(TimestampLayout)),
		strings.Repeat("=", headerRule),
		"",
	}

	if len(doc.Sections) == 0 {
		lines = append(lines, "No task outputs generated. The crew execution might have failed or produced no results.")
	}
	for i, section := range doc.Sections {
		lines = append(lines,
			fmt.Sprintf("## Task: %s", title(section.Description, i)),
			strings.Repeat("-", sectionRule))

		output := strings.TrimSpace(section.Output)
		if output == "" {
			lines = append(lines, "  *No valid output content found for this task.*")
		} else {
			lines = append(lines, "### Output:")
			lines = append(lines, formatOutput(output)...)
		}
		lines = append(lines, "\n"+strings.Repeat("-", sectionRule)+"\n")
	}

	lines = append(lines,
		"## Execution Metadata",
		strings.Repeat("-", sectionRule),
		fmt.Sprintf("- **Agents Used:** %s", strings.Join(doc.Agents, ", ")),
		fmt.Sprintf("- **Tasks Defined:** %d", doc.TasksDefined),
		fmt.Sprintf("- **Tasks with Output Objects:** %d", len(doc.Sections)),
	)
	return strings.Join(lines, "\n")
}

// title 取描述的第一句作为小节标题。
func title(description string, index int) string {
	if strings.TrimSpace(description) == "" {
		return fmt.Sprintf("Unknown Task %d", index+1)
	}
	first, _, _ := strings.Cut(description, ".")
	return first
}

var listMarkers = []string{"- ", "* ", "1. ", "2. ", "3. ", "4. ", "5. "}

func formatOutput(output string) []string {
	var lines []string
	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		switch {
		case hasListMarker(line):
			lines = append(lines, line)
		case strings.HasSuffix(line, ":") && len(line) < 50:
			lines = append(lines, "\n**"+line+"**")
		default:
			lines = append(lines, "  "+line)
		}
	}
	return lines
}

func hasListMarker(line string) bool {
	for _, marker := range listMarkers {
		if strings.HasPrefix(line, marker) {
			return true
		}
	}
	return false
}

// FileName 生成报告文件名：目标名称小写、空格替换为下划线，并附带时间戳。
func FileName(target string, at time.Time) string {
	if strings.TrimSpace(target) == "" {
		target = "analysis"
	}
	name := strings.ToLower(strings.ReplaceAll(target, " ", "_"))
	return fmt.Sprintf("%s_report_%s.txt", name, at.Format("20060102_150405"))
}
