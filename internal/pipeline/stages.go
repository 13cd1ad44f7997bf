package pipeline

import (
	"bytes"
	"fmt"
	"text/template"

	"SalesIntel/internal/agent"
	"SalesIntel/internal/tools"
)

// 阶段名称。
const (
	StageResearch      = "research"
	StageMarket        = "market"
	StageStrategy      = "strategy"
	StageCommunication = "communication"
	StageReflection    = "reflection"
)

// Stage 描述流水线中的一个阶段。Description 与 ExpectedOutput 是以 Target 为数据的模板。
type Stage struct {
	Name           string
	Persona        agent.Persona
	Description    string
	ExpectedOutput string
	DependsOn      []string
	Plan           func(Target) []agent.ToolCall
}

// Render 渲染阶段描述与期望产出。
func (s Stage) Render(target Target) (description, expected string, err error) {
	description, err = render(s.Name+"/description", s.Description, target)
	if err != nil {
		return "", "", err
	}
	expected, err = render(s.Name+"/expected_output", s.ExpectedOutput, target)
	if err != nil {
		return "", "", err
	}
	return description, expected, nil
}

// Calls 返回阶段执行前需要调用的工具。
func (s Stage) Calls(target Target) []agent.ToolCall {
	if s.Plan == nil {
		return nil
	}
	return s.Plan(target)
}

func render(name, text string, target Target) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, target); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return buf.String(), nil
}

// DefaultStages 返回完整的五阶段分析流程：调研、市场、战略、沟通、复盘。
func DefaultStages() []Stage {
	return []Stage{
		{
			Name:    StageResearch,
			Persona: agent.ResearchCoordinator,
			Description: "Conduct comprehensive research on {{.Name}} in the {{.Industry}} sector. " +
				"Analyze their current market position, recent developments (including milestones like '{{.Milestone}}'), " +
				"key decision-makers (like {{.KeyDecisionMaker}}, {{.Position}}), organizational structure, and strategic initiatives. " +
				"Identify potential needs, challenges, and opportunities relevant to our offerings. Use the Advanced Research Tool primarily. " +
				"Consult the Knowledge Base for relevant research frameworks (like competitive analysis or stakeholder mapping) and industry insights if needed.",
			ExpectedOutput: "A detailed intelligence report on {{.Name}} including:\n" +
				"1. Organization Overview: Size, structure, main business lines.\n" +
				"2. Market Position: Market share (if available), key competitors, perceived strengths/weaknesses.\n" +
				"3. Key Stakeholders: Identify key decision-makers beyond the CEO if possible, reporting structure insights.\n" +
				"4. Recent Developments & Strategy: Summarize recent news, announcements, strategic shifts (mention '{{.Milestone}}').\n" +
				"5. Needs & Challenges: Infer potential pain points based on research (e.g., digital transformation needs, competitive pressure).\n" +
				"6. Opportunities: Suggest potential areas where our offerings could provide value.\n" +
				"7. Recommended Next Steps: Initial thoughts on engagement approach vectors.",
			Plan: func(t Target) []agent.ToolCall {
				return []agent.ToolCall{
					{Tool: tools.NameResearch, Input: fmt.Sprintf(
						"Comprehensive research request for: %s (%s sector). Key contact: %s (%s). Notable milestone: %s. "+
							"Focus on: market position, recent developments, decision-making structure, strategy, needs, challenges, opportunities.",
						t.Name, t.Industry, t.KeyDecisionMaker, t.Position, t.Milestone)},
					{Tool: tools.NameKnowledge, Input: "competitive analysis"},
					{Tool: tools.NameKnowledge, Input: "stakeholder mapping"},
					{Tool: tools.NameKnowledge, Input: t.Industry},
				}
			},
		},
		{
			Name:    StageMarket,
			Persona: agent.MarketResearchSpecialist,
			Description: "Analyze the {{.Industry}} market landscape, considering the context of {{.Name}} (from previous research). " +
				"Identify key market trends (e.g., technology, consumer behavior), competitive dynamics, and potential market gaps or opportunities. " +
				"Use the Market Analysis Tool and supplement with Advanced Research Tool for recent news or specific competitor data if needed. " +
				"Check Knowledge Base for general industry insights.",
			ExpectedOutput: "A concise market analysis report for the {{.Industry}} industry, relevant to {{.Name}}, including:\n" +
				"1. Industry Trends: Top 3-5 trends impacting the sector.\n" +
				"2. Competitive Landscape: Major players, competitive intensity, and {{.Name}}'s relative position.\n" +
				"3. Market Opportunities: Potential gaps or emerging areas where solutions could be valuable.\n" +
				"4. Strategic Considerations: How market dynamics might influence engagement with {{.Name}}.",
			DependsOn: []string{StageResearch},
			Plan: func(t Target) []agent.ToolCall {
				return []agent.ToolCall{
					{Tool: tools.NameMarket, Input: t.Industry},
					{Tool: tools.NameResearch, Input: fmt.Sprintf("%s %s market trends competitors", t.Name, t.Industry)},
					{Tool: tools.NameKnowledge, Input: t.Industry},
				}
			},
		},
		{
			Name:    StageStrategy,
			Persona: agent.StrategicPlanningExpert,
			Description: "Develop a strategic engagement plan for {{.Name}}, using insights from the target research and market analysis tasks. " +
				"Define a tailored value proposition, outline an engagement approach, and consider potential objections. " +
				"Use the Strategic Planning Tool, providing context about the organization type ({{.Industry}}) and desired objectives (e.g., growth, efficiency). " +
				"Consult the Knowledge Base for strategic models (like value proposition framework) or objection handling frameworks.",
			ExpectedOutput: "A strategic engagement plan document for {{.Name}} including:\n" +
				"1. Tailored Value Proposition: How our offerings specifically address {{.Name}}'s likely needs/challenges.\n" +
				"2. Engagement Approach: Recommended sequence of interactions or key themes.\n" +
				"3. Positioning: How to position our solution against potential alternatives or competitors.\n" +
				"4. Objection Handling: Anticipated objections and potential responses (using KB framework).\n" +
				"5. Key Success Metrics (Initial): How to measure successful engagement.",
			DependsOn: []string{StageResearch, StageMarket},
			Plan: func(t Target) []agent.ToolCall {
				return []agent.ToolCall{
					{Tool: tools.NameStrategy, Input: tools.StrategyInput{
						OrganizationType: t.Industry,
						Objectives:       []string{"growth", "efficiency", "innovation"},
						TargetInfo:       t.Name,
						MarketContext:    fmt.Sprintf("Operating in the %s market, considering recent trends and competitive landscape.", t.Industry),
					}},
					{Tool: tools.NameKnowledge, Input: "value proposition"},
					{Tool: tools.NameKnowledge, Input: "objection handling"},
				}
			},
		},
		{
			Name:    StageCommunication,
			Persona: agent.CommunicationSpecialist,
			Description: "Based on the strategic engagement plan, develop specific communication points and potentially draft initial outreach message frameworks for engaging with key stakeholders at {{.Name}}, such as {{.KeyDecisionMaker}}. " +
				"Use the Communication Optimization Tool, providing context on the audience and objective. " +
				"Analyze the sentiment of potential messaging using the Sentiment Analysis Tool. " +
				"Consult the Knowledge Base for stakeholder messaging guidelines.",
			ExpectedOutput: "A communication guidance document including:\n" +
				"1. Key Talking Points: Core messages aligned with the value proposition for stakeholders like {{.KeyDecisionMaker}}.\n" +
				"2. Messaging Frameworks: Templates or outlines for initial outreach (e.g., email, LinkedIn message).\n" +
				"3. Tone and Style Recommendations: Guidance on appropriate communication style.\n" +
				"4. Sentiment Check Summary: Analysis of the proposed messaging tone.",
			DependsOn: []string{StageStrategy},
			Plan: func(t Target) []agent.ToolCall {
				message := fmt.Sprintf("Initial strategic engagement outreach based on developed plan, focusing on value proposition "+
					"related to growth/efficiency/innovation in the %s sector.", t.Industry)
				return []agent.ToolCall{
					{Tool: tools.NameCommunication, Input: tools.CommunicationInput{
						Audience:  fmt.Sprintf("%s at %s", t.KeyDecisionMaker, t.Name),
						Message:   message,
						Objective: "Initiate engagement / Schedule exploratory call",
					}},
					{Tool: tools.NameSentiment, Input: message},
					{Tool: tools.NameKnowledge, Input: "stakeholder messaging"},
				}
			},
		},
		{
			Name:    StageReflection,
			Persona: agent.StrategicPlanningExpert,
			Description: "Critically review the developed strategy and communication approach for {{.Name}}. " +
				"Identify potential weaknesses, risks, or overlooked considerations. Challenge assumptions made. " +
				"Use the Strategic Planning Tool with objectives like 'risk_assessment' and 'improvement'. " +
				"Consult Knowledge Base for frameworks like SWOT analysis if relevant to identify internal/external factors.",
			ExpectedOutput: "A concise reflection memo including:\n" +
				"1. Identified Weaknesses/Risks: Potential gaps or challenges in the current plan.\n" +
				"2. Challenged Assumptions: Key assumptions that might need validation.\n" +
				"3. Alternative Considerations: Suggestions for alternative tactics or contingency plans.\n" +
				"4. Recommended Adjustments: Specific, actionable recommendations to strengthen the plan.",
			DependsOn: []string{StageStrategy, StageCommunication},
			Plan: func(t Target) []agent.ToolCall {
				return []agent.ToolCall{
					{Tool: tools.NameStrategy, Input: tools.StrategyInput{
						OrganizationType: t.Industry,
						Objectives:       []string{"risk_assessment", "improvement", "contingency_planning"},
						TargetInfo:       "The strategy for " + t.Name,
						MarketContext:    fmt.Sprintf("Reviewing the plan within the %s market context and potential competitor reactions.", t.Industry),
					}},
					{Tool: tools.NameKnowledge, Input: "swot analysis"},
				}
			},
		},
	}
}
