package llm

import "context"

// Request 描述一次语义解析请求。
type Request struct {
	Utterance string
	// Symbols 是目录中可用的代币符号，用于约束模型输出。
	Symbols []string
	// Actions 是允许返回的指令类别。
	Actions []string
}

// Response 是模型返回的原始 JSON 文本，结构由调用方解析。
type Response struct {
	Content string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
