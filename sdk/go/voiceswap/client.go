// Package voiceswap is a small Go client for the voiceswapd HTTP API, meant
// for companion apps and scripts that inject transcripts or read state.
package voiceswap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Transcript turns may wait on the swap backend, so it is
// longer than a plain status read needs.
const DefaultHTTPTimeout = 45 * time.Second

// Client wraps the HTTP interactions with the voiceswapd REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// TurnResult is the outcome of one transcript turn.
type TurnResult struct {
	Intent  Intent   `json:"intent"`
	State   string   `json:"state"`
	Replies []string `json:"replies"`
}

// Intent is the parsed command for a turn.
type Intent struct {
	Action   string `json:"action"`
	TokenIn  string `json:"tokenIn,omitempty"`
	TokenOut string `json:"tokenOut,omitempty"`
	AmountIn string `json:"amountIn,omitempty"`
	ParsedBy string `json:"parsedBy"`
	Raw      string `json:"raw,omitempty"`
}

// State is the conversation snapshot.
type State struct {
	State    string          `json:"state"`
	Wallet   string          `json:"wallet,omitempty"`
	Pending  json.RawMessage `json:"pending,omitempty"`
	Tracking []string        `json:"tracking,omitempty"`
}

// HistoryEntry is one submitted swap.
type HistoryEntry struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Intent       Intent    `json:"intent"`
	TxHash       string    `json:"txHash"`
	Status       string    `json:"status"`
	Delegated    bool      `json:"delegated"`
	EstimatedUSD string    `json:"estimatedUsd"`
}

// SessionInfo is the read-only session projection.
type SessionInfo struct {
	Active    bool          `json:"active"`
	ExpiresIn time.Duration `json:"expires_in,omitempty"`
	Remaining *struct {
		PerTx string `json:"per_tx"`
		Total string `json:"total"`
	} `json:"remaining,omitempty"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
}

// GasTank is the prepaid execution balance.
type GasTank struct {
	Balance        string `json:"balance"`
	SwapsRemaining int    `json:"swaps_remaining"`
	IsLow          bool   `json:"is_low"`
	Deposit        *struct {
		Address string `json:"address"`
		ChainID int64  `json:"chain_id"`
		Network string `json:"network"`
		Asset   string `json:"asset"`
	} `json:"deposit,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("voiceswap api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("voiceswap api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the voiceswapd API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken sets the static API token sent as a bearer token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// SendTranscript injects one final transcript and returns the spoken replies.
func (c *Client) SendTranscript(ctx context.Context, text string) (TurnResult, error) {
	var result TurnResult
	if err := c.post(ctx, "/api/v1/transcripts", map[string]string{"text": text}, &result); err != nil {
		return TurnResult{}, err
	}
	return result, nil
}

// State fetches the conversation snapshot.
func (c *Client) State(ctx context.Context) (State, error) {
	var state State
	if err := c.get(ctx, "/api/v1/state", nil, &state); err != nil {
		return State{}, err
	}
	return state, nil
}

// History lists recent swaps, newest first. limit <= 0 uses the server default.
func (c *Client) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var entries []HistoryEntry
	if err := c.get(ctx, "/api/v1/history", query, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Session fetches the session projection.
func (c *Client) Session(ctx context.Context) (SessionInfo, error) {
	var info SessionInfo
	if err := c.get(ctx, "/api/v1/session", nil, &info); err != nil {
		return SessionInfo{}, err
	}
	return info, nil
}

// GasTank fetches the prepaid balance.
func (c *Client) GasTank(ctx context.Context) (GasTank, error) {
	var tank GasTank
	if err := c.get(ctx, "/api/v1/gastank", nil, &tank); err != nil {
		return GasTank{}, err
	}
	return tank, nil
}

// Deposit credits the gas tank with amount dollars.
func (c *Client) Deposit(ctx context.Context, amount, reference string) (GasTank, error) {
	var tank GasTank
	payload := map[string]string{"amount": amount, "reference": reference}
	if err := c.post(ctx, "/api/v1/gastank/deposits", payload, &tank); err != nil {
		return GasTank{}, err
	}
	return tank, nil
}

// Reset clears the local conversation state.
func (c *Client) Reset(ctx context.Context) (State, error) {
	var state State
	if err := c.post(ctx, "/api/v1/reset", nil, &state); err != nil {
		return State{}, err
	}
	return state, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		// 服务端返回 {code, message}；认证失败等场景是纯文本。
		if len(data) > 0 && json.Unmarshal(data, apiErr) != nil {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}
