package knowledge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"

	"SalesIntel/pkg/logger"
)

// DefaultFileName 是知识库配置文件的默认名称。
const DefaultFileName = "knowledge_base.json"

// IndustryInsightsCategory 是存放行业洞察的特殊分类。
const IndustryInsightsCategory = "industry_insights"

// Section 保存某个分类下 topic → content 的有序映射。
type Section = orderedmap.OrderedMap[string, string]

type categoryMap = orderedmap.OrderedMap[string, *Section]

// Base 是按文件顺序保存的两级知识映射：category → topic → content。
// Base 仅在构建阶段可写，交给 Engine 之后即视为只读。
type Base struct {
	categories *categoryMap
}

// NewBase 创建一个空知识库。
func NewBase() *Base {
	return &Base{categories: orderedmap.New[string, *Section]()}
}

// Add 写入一条知识。重复的 topic 会覆盖内容但保留原有顺序。
func (b *Base) Add(category, topic, content string) *Base {
	section, ok := b.categories.Get(category)
	if !ok || section == nil {
		section = orderedmap.New[string, string]()
		b.categories.Set(category, section)
	}
	section.Set(topic, content)
	return b
}

// Len 返回分类数量。
func (b *Base) Len() int {
	if b == nil || b.categories == nil {
		return 0
	}
	return b.categories.Len()
}

// Empty 判断知识库是否没有任何分类。
func (b *Base) Empty() bool {
	return b.Len() == 0
}

// Categories 按插入顺序返回分类键。
func (b *Base) Categories() []string {
	if b.Empty() {
		return nil
	}
	keys := make([]string, 0, b.categories.Len())
	for pair := b.categories.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Topics 按插入顺序返回某个分类下的 topic 键。
func (b *Base) Topics(category string) []string {
	if b.Empty() {
		return nil
	}
	section, ok := b.categories.Get(category)
	if !ok || section == nil {
		return nil
	}
	keys := make([]string, 0, section.Len())
	for pair := section.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Content 返回指定条目的内容。
func (b *Base) Content(category, topic string) (string, bool) {
	if b.Empty() {
		return "", false
	}
	section, ok := b.categories.Get(category)
	if !ok || section == nil {
		return "", false
	}
	return section.Get(topic)
}

// each 以 (category, topic, content) 的顺序遍历全部条目。
func (b *Base) each(fn func(category, topic, content string)) {
	if b.Empty() {
		return
	}
	for cat := b.categories.Oldest(); cat != nil; cat = cat.Next() {
		if cat.Value == nil {
			continue
		}
		for topic := cat.Value.Oldest(); topic != nil; topic = topic.Next() {
			fn(cat.Key, topic.Key, topic.Value)
		}
	}
}

// ParseJSON 解析 {category: {topic: content}} 结构的 JSON 文档。
func ParseJSON(data []byte) (*Base, error) {
	categories := orderedmap.New[string, *Section]()
	if err := json.Unmarshal(data, categories); err != nil {
		return nil, fmt.Errorf("decode knowledge json: %w", err)
	}
	return &Base{categories: categories}, nil
}

// ParseYAML 解析与 JSON 同构的 YAML 文档。
func ParseYAML(data []byte) (*Base, error) {
	categories := orderedmap.New[string, *Section]()
	if err := yaml.Unmarshal(data, categories); err != nil {
		return nil, fmt.Errorf("decode knowledge yaml: %w", err)
	}
	return &Base{categories: categories}, nil
}

func loadBase(path string) (*Base, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("knowledge base path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// Load 从文件加载知识库。文件缺失或格式错误时返回空知识库并记录诊断日志，
// 调用方永远拿到可用的 *Base。
func Load(path string, log *slog.Logger) *Base {
	if log == nil {
		log = logger.Named("knowledge")
	}
	base, err := loadBase(path)
	if err != nil {
		log.Warn("knowledge base unavailable, continuing with empty base",
			slog.String("path", path),
			slog.Any("error", err))
		return NewBase()
	}
	log.Info("knowledge base loaded",
		slog.String("path", path),
		slog.Int("categories", base.Len()))
	return base
}
