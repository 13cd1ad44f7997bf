package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	xerrors "SalesIntel/internal/errors"
)

// Writer 把报告写入输出目录。
type Writer struct {
	dir string
}

// NewWriter 创建写入器，dir 为空时写入当前目录。
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Dir 返回输出目录。
func (w *Writer) Dir() string {
	return w.dir
}

// Write 写入报告并返回文件路径。文件名中的路径分隔符会被替换，防止逃逸出输出目录。
func (w *Writer) Write(name, content string) (string, error) {
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	if name == "" || name == "." || name == ".." {
		return "", xerrors.New(xerrors.CodeReportWriteFailed, fmt.Sprintf("invalid report file name %q", name))
	}
	if w.dir != "" {
		if err := os.MkdirAll(w.dir, 0o755); err != nil {
			return "", xerrors.Wrap(xerrors.CodeReportWriteFailed, err, "create report directory")
		}
	}
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", xerrors.Wrap(xerrors.CodeReportWriteFailed, err, "write report file")
	}
	return path, nil
}
