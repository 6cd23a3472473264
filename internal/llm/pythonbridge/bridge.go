package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"VoiceSwap/internal/llm"
)

// Client 通过调用 Python 脚本完成语义解析。脚本从 stdin 读取 JSON，
// 向 stdout 输出一个意图 JSON 对象。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

// Generate 调用外部脚本，并返回其输出的 JSON。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload := map[string]any{
		"utterance": req.Utterance,
		"symbols":   req.Symbols,
		"actions":   req.Actions,
		"timestamp": time.Now().Unix(),
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("执行 Python 脚本失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	output := bytes.TrimSpace(stdout.Bytes())
	if !json.Valid(output) {
		return nil, fmt.Errorf("Python 输出不是合法 JSON: %q", truncate(string(output)))
	}
	return &llm.Response{Content: string(output)}, nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}

func truncate(text string) string {
	if len([]rune(text)) > 120 {
		return string([]rune(text)[:120]) + "..."
	}
	return text
}
