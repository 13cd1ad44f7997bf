package pipeline

import (
	"strings"

	xerrors "SalesIntel/internal/errors"
)

// Target 描述一次分析的目标组织。
type Target struct {
	Name             string `json:"target_name"`
	Industry         string `json:"industry"`
	KeyDecisionMaker string `json:"key_decision_maker,omitempty"`
	Position         string `json:"position,omitempty"`
	Milestone        string `json:"milestone,omitempty"`
}

// Validate 校验必填字段。
func (t Target) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return xerrors.New(xerrors.CodeInvalidTarget, "target_name is required")
	}
	if strings.TrimSpace(t.Industry) == "" {
		return xerrors.New(xerrors.CodeInvalidTarget, "industry is required")
	}
	return nil
}

// Normalize 去除首尾空白并为可选字段补默认值。
func (t Target) Normalize() Target {
	t.Name = strings.TrimSpace(t.Name)
	t.Industry = strings.TrimSpace(t.Industry)
	t.KeyDecisionMaker = strings.TrimSpace(t.KeyDecisionMaker)
	t.Position = strings.TrimSpace(t.Position)
	t.Milestone = strings.TrimSpace(t.Milestone)
	if t.KeyDecisionMaker == "" {
		t.KeyDecisionMaker = "Key Stakeholder"
	}
	if t.Position == "" {
		t.Position = "decision maker"
	}
	if t.Milestone == "" {
		t.Milestone = "recent announcements"
	}
	return t
}
