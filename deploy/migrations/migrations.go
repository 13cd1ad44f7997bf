// Package migrations 内嵌报告历史库的 SQL 迁移脚本，文件名形如 0001_说明.sql。
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"slices"
	"strings"
)

//go:embed *.sql
var files embed.FS

// Script 是拆分成单条语句后的迁移脚本。
type Script struct {
	Version    string
	Name       string
	Statements []string
}

// Load 读取全部脚本并按版本号升序返回，没有语句的脚本被跳过。
func Load() ([]Script, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	scripts := make([]Script, 0, len(names))
	for _, name := range names {
		body, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		statements := Split(string(body))
		if len(statements) == 0 {
			continue
		}
		version, _, _ := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		scripts = append(scripts, Script{Version: version, Name: name, Statements: statements})
	}

	slices.SortFunc(scripts, func(a, b Script) int {
		if c := strings.Compare(a.Version, b.Version); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return scripts, nil
}

// Split 按分号拆分 SQL 文本，丢弃空语句。脚本中不允许出现字符串字面量里的分号。
func Split(content string) []string {
	var statements []string
	for _, stmt := range strings.Split(content, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
