package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/infergate/types"
)

// Route 标识工作负载类映射到的后端端点。
type Route string

const (
	RouteCompletions Route = "completions"
	RouteEmbeddings  Route = "embeddings"
)

// HTTPConfig 配置 OpenAI 兼容后端（llama.cpp server / vLLM 等本地推理服务）。
type HTTPConfig struct {
	BaseURL         string           `yaml:"base_url"`
	APIKey          string           `yaml:"api_key"`
	CompletionModel string           `yaml:"completion_model"`
	EmbeddingModel  string           `yaml:"embedding_model"`
	Timeout         time.Duration    `yaml:"timeout"`
	Routes          map[string]Route `yaml:"routes"` // class -> endpoint
}

// HTTPInvoker 通过 OpenAI 兼容 HTTP API 调用本地模型服务。
// 批量 payload 仅对 embeddings 端点有意义；completions 每次一个 payload。
type HTTPInvoker struct {
	cfg    HTTPConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPInvoker 创建 HTTP 后端调用器，缺省值与 agent 框架的 provider 约定一致。
func NewHTTPInvoker(cfg HTTPConfig, logger *zap.Logger) *HTTPInvoker {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:8080"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.CompletionModel == "" {
		cfg.CompletionModel = "default"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = cfg.CompletionModel
	}
	return &HTTPInvoker{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "http_invoker")),
	}
}

type completionRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type completionResponse struct {
	Choices []struct {
		Index int    `json:"index"`
		Text  string `json:"text"`
	} `json:"choices"`
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Invoke implements Invoker.
func (p *HTTPInvoker) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error) {
	switch p.routeFor(req) {
	case RouteEmbeddings:
		return p.invokeEmbeddings(ctx, req)
	default:
		return p.invokeCompletions(ctx, req)
	}
}

// routeFor 解析类到端点的映射；未配置时按 payload 数推断。
func (p *HTTPInvoker) routeFor(req *InvokeRequest) Route {
	if r, ok := p.cfg.Routes[req.Class]; ok {
		return r
	}
	if len(req.Payloads) > 1 {
		return RouteEmbeddings
	}
	return RouteCompletions
}

func (p *HTTPInvoker) invokeCompletions(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error) {
	results := make([]Result, len(req.Payloads))
	for i, payload := range req.Payloads {
		prompt, err := payloadString(payload)
		if err != nil {
			results[i] = Result{Err: err}
			continue
		}
		body := completionRequest{Model: p.cfg.CompletionModel, Prompt: prompt}
		respBody, err := p.doRequest(ctx, "/v1/completions", body)
		if err != nil {
			return nil, err
		}
		var cr completionResponse
		if err := json.Unmarshal(respBody, &cr); err != nil {
			return nil, fmt.Errorf("decode completion response: %w", err)
		}
		if len(cr.Choices) == 0 {
			results[i] = Result{Err: fmt.Errorf("no choices returned")}
			continue
		}
		results[i] = Result{Value: cr.Choices[0].Text}
	}
	return &InvokeResponse{Results: results}, nil
}

func (p *HTTPInvoker) invokeEmbeddings(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error) {
	inputs := make([]string, len(req.Payloads))
	for i, payload := range req.Payloads {
		s, err := payloadString(payload)
		if err != nil {
			return nil, err
		}
		inputs[i] = s
	}

	respBody, err := p.doRequest(ctx, "/v1/embeddings", embedRequest{
		Model: p.cfg.EmbeddingModel,
		Input: inputs,
	})
	if err != nil {
		return nil, err
	}

	var er embedResponse
	if err := json.Unmarshal(respBody, &er); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(er.Data) != len(req.Payloads) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(req.Payloads), len(er.Data))
	}

	// 后端按 index 返回，逐项对位回填。
	results := make([]Result, len(req.Payloads))
	for _, d := range er.Data {
		if d.Index < 0 || d.Index >= len(results) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		results[d.Index] = Result{Value: d.Embedding}
	}
	return &InvokeResponse{Results: results}, nil
}

// doRequest 执行 HTTP 请求，并统一错误映射。
func (p *HTTPInvoker) doRequest(ctx context.Context, endpoint string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.cfg.BaseURL, "/")+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrBackendError, err.Error()).WithRetryable(true)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// mapHTTPError 将 HTTP 状态映射为 types.Error。
func mapHTTPError(status int, msg string) *types.Error {
	retryable := status >= 500 || status == http.StatusTooManyRequests
	return types.NewError(types.ErrBackendError, msg).WithRetryable(retryable)
}

func payloadString(payload any) (string, error) {
	switch v := payload.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("unsupported payload type %T", payload)
	}
}
