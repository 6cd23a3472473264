package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "VoiceSwap/internal/errors"
)

const defaultTimeout = 30 * time.Second

// Config 描述访问报价/执行服务所需的信息。
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// HTTPClient 通过 HTTP+JSON 调用远程兑换服务。
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPClient 根据配置创建客户端。
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("未提供兑换服务地址")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("兑换服务地址无效: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: httpClient,
	}, nil
}

// GetQuote 请求报价。
func (c *HTTPClient) GetQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	var quote Quote
	if err := c.post(ctx, "/v1/quote", req, &quote); err != nil {
		return nil, err
	}
	if quote.TokenOut.Symbol == "" {
		quote.TokenOut.Symbol = req.TokenOut
	}
	if quote.TokenIn.Symbol == "" {
		quote.TokenIn = Amount{Amount: req.AmountIn, Symbol: req.TokenIn}
	}
	return &quote, nil
}

// GetRoute 请求可签名的调用数据。
func (c *HTTPClient) GetRoute(ctx context.Context, req RouteRequest) (*Route, error) {
	var route Route
	if err := c.post(ctx, "/v1/route", req, &route); err != nil {
		return nil, err
	}
	if strings.TrimSpace(route.Calldata) == "" {
		return nil, xerrors.New(CodeBackendFailure, "route response is missing calldata")
	}
	return &route, nil
}

// ExecuteSwap 提交一次执行。
func (c *HTTPClient) ExecuteSwap(ctx context.Context, req ExecuteRequest) (*ExecutionResult, error) {
	var result ExecutionResult
	if err := c.post(ctx, "/v1/execute", req, &result); err != nil {
		return nil, err
	}
	switch result.Status {
	case ExecutionSubmitted, ExecutionFailed:
	default:
		return nil, xerrors.Newf(CodeBackendFailure, "unexpected execution status %q", result.Status)
	}
	return &result, nil
}

// GetStatus 查询交易状态，404 映射为 NOT_FOUND。
func (c *HTTPClient) GetStatus(ctx context.Context, txHash string) (*StatusResult, error) {
	endpoint := "/v1/status"
	if hash := strings.TrimSpace(txHash); hash != "" {
		endpoint += "?txHash=" + url.QueryEscape(hash)
	}
	var status StatusResult
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &status); err != nil {
		if code, _ := xerrors.MetadataValue(err, MetaHTTPStatus); code == strconv.Itoa(http.StatusNotFound) {
			return nil, xerrors.Wrap(xerrors.CodeNotFound, err, "transaction not found")
		}
		return nil, err
	}
	switch status.Status {
	case TxPending, TxConfirmed, TxFailed:
	default:
		return nil, xerrors.Newf(CodeBackendFailure, "unexpected transaction status %q", status.Status)
	}
	return &status, nil
}

func (c *HTTPClient) post(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, body, out)
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return xerrors.Wrap(xerrors.CodeTimeout, err, "swap service request cancelled")
		}
		return xerrors.Wrap(CodeBackendFailure, err, "swap service unreachable")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return xerrors.Wrap(CodeBackendFailure, err, "read swap service response")
	}

	if apiErr := classify(resp, data); apiErr != nil {
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return xerrors.Wrap(CodeBackendFailure, err, "decode swap service response")
	}
	return nil
}

type errorEnvelope struct {
	Error *struct {
		Code           string `json:"code"`
		Message        string `json:"message"`
		SwapsRemaining *int   `json:"swaps_remaining"`
	} `json:"error"`
}

// classify 将响应映射为统一错误。余额不足的错误体在任何状态码下都生效。
func classify(resp *http.Response, data []byte) error {
	var envelope errorEnvelope
	if len(data) > 0 && json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
		if strings.EqualFold(envelope.Error.Code, string(CodeInsufficientGasTank)) {
			remaining := 0
			if envelope.Error.SwapsRemaining != nil {
				remaining = *envelope.Error.SwapsRemaining
			}
			return NewInsufficientGasTankError(envelope.Error.Message, remaining)
		}
	}

	if resp.StatusCode == http.StatusPaymentRequired {
		requirement, _ := ParsePaymentRequirement(resp.Header)
		return NewPaymentRequiredError(requirement)
	}
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	message := ""
	if envelope.Error != nil {
		message = strings.TrimSpace(envelope.Error.Message)
	}
	if message == "" {
		message = strings.TrimSpace(string(data))
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return xerrors.New(CodeBackendFailure, message,
		xerrors.WithMetadata(MetaHTTPStatus, strconv.Itoa(resp.StatusCode)),
		xerrors.WithRetryable(resp.StatusCode >= http.StatusInternalServerError),
	)
}

var _ Client = (*HTTPClient)(nil)
