package tools

import (
	"context"
	"fmt"
	"strings"
)

var (
	positiveWords = []string{"growth", "innovation", "success", "strong", "increase", "profit", "opportunity", "positive", "good", "excellent"}
	negativeWords = []string{"decline", "struggle", "loss", "failure", "problem", "decrease", "challenge", "risk", "weak", "poor", "negative"}
)

// Sentiment 是基于关键词计数的情感判断结果。
type Sentiment struct {
	Label string
	Score int
}

// ScoreSentiment 统计出现过的正负关键词（每个词最多计一次），得分为两者之差。
func ScoreSentiment(text string) Sentiment {
	lower := strings.ToLower(text)
	score := 0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			score++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			score--
		}
	}
	switch {
	case score > 1:
		return Sentiment{Label: "Positive", Score: score}
	case score < 0:
		return Sentiment{Label: "Negative", Score: score}
	default:
		return Sentiment{Label: "Neutral", Score: score}
	}
}

// SentimentAnalyzer 把 ScoreSentiment 暴露为工具。
type SentimentAnalyzer struct{}

func (SentimentAnalyzer) Name() string { return NameSentiment }

func (SentimentAnalyzer) Description() string {
	return "Analyzes sentiment (positive, negative, neutral) expressed in text, such as communications or public feedback."
}

func (SentimentAnalyzer) Call(_ context.Context, text string) (string, error) {
	s := ScoreSentiment(text)
	var comment string
	switch s.Label {
	case "Positive":
		comment = fmt.Sprintf("Positive sentiment detected (Score: %d). Key indicators suggest opportunities or strengths.", s.Score)
	case "Negative":
		comment = fmt.Sprintf("Negative sentiment detected (Score: %d). Potential concerns or challenges may need addressing.", s.Score)
	default:
		comment = "Recommend balanced approach focusing on factual information and value proposition."
	}
	return fmt.Sprintf("Sentiment Analysis Result: %s. %s", s.Label, comment), nil
}
