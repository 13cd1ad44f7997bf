// Package pythonbridge 把阶段推理委托给外部脚本：请求以 JSON 写入 stdin，
// 脚本在 stdout 输出 {"thought","reply"} 对象或纯文本。
package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	xerrors "SalesIntel/internal/errors"
	"SalesIntel/internal/llm"
)

const stderrTail = 512

// Client 每次推理启动一个脚本进程。
type Client struct {
	interpreter string
	script      string
	dir         string
}

// NewClient 创建客户端，interpreter 为空时使用 python3。
func NewClient(interpreter, script, dir string) (*Client, error) {
	if strings.TrimSpace(script) == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "python bridge script path is required")
	}
	if interpreter == "" {
		interpreter = "python3"
	}
	return &Client{interpreter: interpreter, script: script, dir: dir}, nil
}

type bridgeContext struct {
	Stage  string `json:"stage"`
	Role   string `json:"role"`
	Output string `json:"output"`
}

type bridgeObservation struct {
	Tool   string `json:"tool"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

type bridgeRequest struct {
	Role           string              `json:"role"`
	Goal           string              `json:"goal"`
	Backstory      string              `json:"backstory"`
	Task           string              `json:"task"`
	ExpectedOutput string              `json:"expected_output"`
	Context        []bridgeContext     `json:"context"`
	Observations   []bridgeObservation `json:"observations"`
	SystemPrompt   string              `json:"system_prompt"`
	UserPrompt     string              `json:"user_prompt"`
}

func newBridgeRequest(req llm.Request) bridgeRequest {
	out := bridgeRequest{
		Role:           req.Role,
		Goal:           req.Goal,
		Backstory:      req.Backstory,
		Task:           req.Task,
		ExpectedOutput: req.ExpectedOutput,
		Context:        make([]bridgeContext, len(req.Context)),
		Observations:   make([]bridgeObservation, len(req.Observations)),
		SystemPrompt:   llm.SystemPrompt(req) + "\n" + llm.ReplyFormat,
		UserPrompt:     llm.UserPrompt(req),
	}
	for i, entry := range req.Context {
		out.Context[i] = bridgeContext(entry)
	}
	for i, obs := range req.Observations {
		out.Observations[i] = bridgeObservation(obs)
	}
	return out
}

// Generate 运行脚本并解析其标准输出。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	input, err := json.Marshal(newBridgeRequest(req))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "encode bridge request")
	}

	cmd := exec.CommandContext(ctx, c.interpreter, c.script)
	cmd.Dir = c.dir
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		opts := []xerrors.Option{xerrors.WithMetadata("script", c.script)}
		var exitErr *exec.ExitError
		if stdErrors.As(err, &exitErr) {
			opts = append(opts, xerrors.WithMetadata("exit_code", strconv.Itoa(exitErr.ExitCode())))
		}
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "bridge script failed: "+tail(stderr.String()), opts...)
	}

	resp := llm.ParseReply(stdout.String())
	if resp.Reply == "" {
		return nil, xerrors.New(xerrors.CodeExecutorFailure, "bridge script returned no reply",
			xerrors.WithMetadata("script", c.script))
	}
	return &resp, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		s = "..." + s[len(s)-stderrTail:]
	}
	return s
}

// ResolveScriptPath 把相对脚本路径解析到 baseDir 下。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" || filepath.IsAbs(script) || baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
