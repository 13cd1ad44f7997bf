package knowledge

import (
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"SalesIntel/pkg/logger"
)

const (
	// MessageUnavailable 在知识库为空时返回。
	MessageUnavailable = "Knowledge base is unavailable: no knowledge has been loaded."
	// MessageEmptyQuery 在查询为空或只有空白时返回。
	MessageEmptyQuery = "Knowledge base query must be non-empty."
)

// Tier 标识一次查询由哪一层匹配规则给出答案。
type Tier int

const (
	TierUnavailable Tier = iota
	TierEmptyQuery
	TierExact
	TierSubstring
	TierCategory
	TierIndustry
	TierFallback
	TierFailed
)

func (t Tier) String() string {
	switch t {
	case TierUnavailable:
		return "unavailable"
	case TierEmptyQuery:
		return "empty_query"
	case TierExact:
		return "exact"
	case TierSubstring:
		return "substring"
	case TierCategory:
		return "category"
	case TierIndustry:
		return "industry"
	case TierFallback:
		return "fallback"
	default:
		return "failed"
	}
}

// Result 是一次查询的结构化结果。
type Result struct {
	Tier     Tier   `json:"tier"`
	Category string `json:"category,omitempty"`
	Topic    string `json:"topic,omitempty"`
	Text     string `json:"text"`
}

type topicEntry struct {
	category string
	key      string
	norm     string
	title    string
	content  string
}

type categoryEntry struct {
	key    string
	norm   string
	title  string
	topics []string
}

// Engine 在构建时把知识库展开成只读索引，之后可被多个 goroutine 并发查询。
type Engine struct {
	topics           []topicEntry
	categories       []categoryEntry
	industries       []topicEntry
	industryPriority bool
	observer         func(Result)
	logger           *slog.Logger
}

// Option 定义 Engine 的可选配置。
type Option func(*Engine)

// WithIndustryPriority 让行业洞察在精确匹配之后、子串匹配之前生效。
// 默认关闭，保持原有的分层顺序。
func WithIndustryPriority(enabled bool) Option {
	return func(e *Engine) {
		e.industryPriority = enabled
	}
}

// WithObserver 在每次查询结束后回调，用于统计命中层级。
func WithObserver(fn func(Result)) Option {
	return func(e *Engine) {
		e.observer = fn
	}
}

// WithLogger 指定诊断日志输出。
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.logger = log
		}
	}
}

// New 基于知识库构建查询引擎。Engine 持有自己的一份索引，之后对 base 的修改不会影响它。
func New(base *Base, opts ...Option) *Engine {
	e := newEngine(opts)
	e.index(base)
	return e
}

// Open 从文件加载知识库并构建引擎。加载失败时得到一个空引擎。
func Open(path string, opts ...Option) *Engine {
	e := newEngine(opts)
	e.index(Load(path, e.logger))
	return e
}

func newEngine(opts []Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.logger == nil {
		e.logger = logger.Named("knowledge")
	}
	return e
}

func (e *Engine) index(base *Base) {
	caser := cases.Title(language.English)
	title := func(key string) string {
		return caser.String(strings.ReplaceAll(key, "_", " "))
	}

	for _, category := range base.Categories() {
		entry := categoryEntry{
			key:   category,
			norm:  normalizeKey(category),
			title: title(category),
		}
		for _, topic := range base.Topics(category) {
			entry.topics = append(entry.topics, title(topic))
		}
		e.categories = append(e.categories, entry)
	}

	base.each(func(category, topic, content string) {
		entry := topicEntry{
			category: category,
			key:      topic,
			norm:     normalizeKey(topic),
			title:    title(topic),
			content:  content,
		}
		e.topics = append(e.topics, entry)
		if category == IndustryInsightsCategory {
			e.industries = append(e.industries, entry)
		}
	})
}

// Empty 判断引擎是否没有加载任何分类。
func (e *Engine) Empty() bool {
	return len(e.categories) == 0
}

// Categories 返回分类键，顺序与配置文件一致。
func (e *Engine) Categories() []string {
	keys := make([]string, 0, len(e.categories))
	for _, c := range e.categories {
		keys = append(keys, c.key)
	}
	return keys
}

// Topics 返回某个分类下的 topic 键。
func (e *Engine) Topics(category string) []string {
	var keys []string
	for _, t := range e.topics {
		if t.category == category {
			keys = append(keys, t.key)
		}
	}
	return keys
}

// Len 返回已索引的 topic 总数。
func (e *Engine) Len() int {
	return len(e.topics)
}

// Lookup 返回查询的文字答案，任何情况下都不会返回错误或 panic。
func (e *Engine) Lookup(query string) string {
	return e.Match(query).Text
}

// Match 与 Lookup 相同，但额外返回命中的层级与条目。
func (e *Engine) Match(query string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{
				Tier: TierFailed,
				Text: fmt.Sprintf("Knowledge base lookup failed for '%s': %v", strings.TrimSpace(query), r),
			}
			e.logger.Error("knowledge lookup panicked", slog.Any("panic", r))
		}
		if e.observer != nil {
			e.observer(result)
		}
	}()

	if e.Empty() {
		return Result{Tier: TierUnavailable, Text: MessageUnavailable}
	}
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return Result{Tier: TierEmptyQuery, Text: MessageEmptyQuery}
	}
	normalized := normalizeQuery(trimmed)

	if r, ok := e.matchExact(normalized); ok {
		return e.trace(r)
	}
	if e.industryPriority {
		if r, ok := e.matchIndustry(normalized); ok {
			return e.trace(r)
		}
	}
	if r, ok := e.matchSubstring(normalized); ok {
		return e.trace(r)
	}
	if r, ok := e.matchCategory(normalized); ok {
		return e.trace(r)
	}
	if !e.industryPriority {
		if r, ok := e.matchIndustry(normalized); ok {
			return e.trace(r)
		}
	}
	return e.trace(e.fallback(trimmed))
}

func (e *Engine) trace(r Result) Result {
	e.logger.Debug("knowledge lookup answered",
		slog.String("tier", r.Tier.String()),
		slog.String("category", r.Category),
		slog.String("topic", r.Topic))
	return r
}

func (e *Engine) matchExact(query string) (Result, bool) {
	for _, t := range e.topics {
		if t.norm == query {
			return Result{
				Tier:     TierExact,
				Category: t.category,
				Topic:    t.key,
				Text:     fmt.Sprintf("Knowledge Base: %s\n\n%s", t.title, t.content),
			}, true
		}
	}
	return Result{}, false
}

func (e *Engine) matchSubstring(query string) (Result, bool) {
	best := -1
	for i, t := range e.topics {
		if t.norm == "" || !strings.Contains(query, t.norm) {
			continue
		}
		if best < 0 || len(t.norm) > len(e.topics[best].norm) {
			best = i
		}
	}
	if best < 0 {
		return Result{}, false
	}
	t := e.topics[best]
	return Result{
		Tier:     TierSubstring,
		Category: t.category,
		Topic:    t.key,
		Text:     fmt.Sprintf("Relevant Knowledge: %s\n\n%s", t.title, t.content),
	}, true
}

// matchCategory 采用最后命中者胜出的策略。
func (e *Engine) matchCategory(query string) (Result, bool) {
	matched := -1
	for i, c := range e.categories {
		if c.norm != "" && strings.Contains(query, c.norm) {
			matched = i
		}
	}
	if matched < 0 {
		return Result{}, false
	}
	c := e.categories[matched]
	return Result{
		Tier:     TierCategory,
		Category: c.key,
		Text: fmt.Sprintf("Found knowledge related to '%s'. Specific topics available: %s. Please refine your query with one of these topics.",
			c.title, strings.Join(c.topics, ", ")),
	}, true
}

func (e *Engine) matchIndustry(query string) (Result, bool) {
	for _, t := range e.industries {
		if t.norm != "" && strings.Contains(query, t.norm) {
			return Result{
				Tier:     TierIndustry,
				Category: t.category,
				Topic:    t.key,
				Text:     fmt.Sprintf("Knowledge Base: Industry Insights - %s\n\n%s", t.title, t.content),
			}, true
		}
	}
	return Result{}, false
}

func (e *Engine) fallback(query string) Result {
	titles := make([]string, 0, len(e.categories))
	for _, c := range e.categories {
		titles = append(titles, c.title)
	}
	return Result{
		Tier: TierFallback,
		Text: fmt.Sprintf("No specific match found in the Knowledge Base for '%s'. Available top-level categories: %s. Please refine your query.",
			query, strings.Join(titles, ", ")),
	}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(strings.ReplaceAll(key, "_", " ")))
}

// normalizeQuery 小写化查询，把下划线视为空格并折叠连续空白（含制表符），与主题键的比较形式一致。
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(normalizeKey(query)), " ")
}
