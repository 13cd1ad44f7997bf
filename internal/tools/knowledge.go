package tools

import (
	"context"

	"SalesIntel/internal/knowledge"
)

// Knowledge 把知识库引擎暴露为工具。
type Knowledge struct {
	Engine *knowledge.Engine
}

func (Knowledge) Name() string { return NameKnowledge }

func (Knowledge) Description() string {
	return "Provides access to internal knowledge on frameworks, models, guidelines, and industry insights based on a query string."
}

func (k Knowledge) Call(_ context.Context, input string) (string, error) {
	return k.Engine.Lookup(input), nil
}
