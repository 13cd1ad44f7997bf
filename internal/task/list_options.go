package task

import (
	"strings"
	"time"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// SortOrder 决定列表按更新时间的排序方向。
type SortOrder int

const (
	// SortByUpdatedDesc 最近更新的运行在前，默认值。
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc 最早更新的运行在前。
	SortByUpdatedAsc
)

// ListOptions 是列表与统计查询共用的过滤条件。Stats 忽略分页与排序。
type ListOptions struct {
	Limit      int
	Offset     int
	Statuses   []Status
	Industry   string
	UpdatedGTE int64
	UpdatedLTE int64
	HasResult  *bool
	Order      SortOrder
	Query      string
}

func (opts *ListOptions) applyDefaults() {
	switch {
	case opts.Limit <= 0:
		opts.Limit = defaultListLimit
	case opts.Limit > maxListLimit:
		opts.Limit = maxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	opts.Statuses = normalizeStatuses(opts.Statuses)
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
	opts.Industry = strings.TrimSpace(opts.Industry)
	opts.Query = strings.TrimSpace(opts.Query)
}

// ListOption 以函数式选项修改 ListOptions。
type ListOption func(*ListOptions)

// WithLimit 限制返回条数，取值范围 1..100。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

// WithOffset 跳过前 offset 条匹配结果。
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithStatuses 只保留指定状态，未知状态会被忽略。
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithIndustry 按目标行业过滤，大小写不敏感。
func WithIndustry(industry string) ListOption {
	return func(opts *ListOptions) { opts.Industry = industry }
}

// WithUpdatedSince 只保留在 ts 及之后更新的运行，零值表示不限制。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedGTE = unixOrZero(ts) }
}

// WithUpdatedUntil 只保留在 ts 及之前更新的运行，零值表示不限制。
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedLTE = unixOrZero(ts) }
}

// WithResultPresence 按是否已经产出报告或摘要过滤。
func WithResultPresence(hasResult bool) ListOption {
	return func(opts *ListOptions) { opts.HasResult = &hasResult }
}

// WithSortOrder 修改排序方向。
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

// WithQuery 在目标名称、行业、决策人、错误信息、报告路径与摘要中做不区分大小写的子串匹配。
func WithQuery(query string) ListOption {
	return func(opts *ListOptions) { opts.Query = query }
}

func buildListOptions(opts []ListOption) ListOptions {
	var options ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

func normalizeStatuses(input []Status) []Status {
	var result []Status
	seen := make(map[Status]struct{}, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	return result
}
