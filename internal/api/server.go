package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"VoiceSwap/internal/agent"
	"VoiceSwap/internal/auth"
	xerrors "VoiceSwap/internal/errors"
	"VoiceSwap/internal/gastank"
	"VoiceSwap/internal/observability/metrics"
	"VoiceSwap/internal/session"
	"VoiceSwap/pkg/logger"
)

const defaultHistoryLimit = 20

// Server 负责暴露 REST 接口，供配套应用查看状态或注入转写。
type Server struct {
	addr    string
	orch    *agent.Orchestrator
	auth    *auth.TokenAuthenticator
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithAuthenticator 为 /api/v1 路由启用令牌校验。
func WithAuthenticator(a *auth.TokenAuthenticator) Option {
	return func(s *Server) {
		s.auth = a
	}
}

// WithMetrics 记录请求指标并暴露 /metrics。
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Server) {
		s.metrics = r
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, orch *agent.Orchestrator, opts ...Option) *Server {
	s := &Server{addr: addr, orch: orch, logger: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "transcripts", "/api/v1/transcripts", s.handleTranscripts)
	s.route(mux, "state", "/api/v1/state", s.handleState)
	s.route(mux, "history", "/api/v1/history", s.handleHistory)
	s.route(mux, "session", "/api/v1/session", s.handleSession)
	s.route(mux, "gastank", "/api/v1/gastank", s.handleGasTank)
	s.route(mux, "deposits", "/api/v1/gastank/deposits", s.handleDeposits)
	s.route(mux, "reset", "/api/v1/reset", s.handleReset)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) route(mux *http.ServeMux, name, pattern string, fn http.HandlerFunc) {
	var handler http.Handler = fn
	if s.auth != nil {
		handler = s.auth.Middleware(handler)
	}
	if s.metrics != nil {
		handler = s.metrics.Middleware(name, handler)
	}
	mux.Handle(pattern, handler)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("HTTP 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type transcriptRequest struct {
	Text string `json:"text"`
}

// handleTranscripts 注入一条最终转写，与语音通道共用同一串行处理。
func (s *Server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req transcriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	result, err := s.orch.HandleTranscript(r.Context(), req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := s.orch.History().List(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	resp := sessionResponse{Info: s.orch.SessionInfo()}
	if refreshed := s.orch.SessionRefreshedAt(); !refreshed.IsZero() {
		resp.RefreshedAt = &refreshed
	}
	writeJSON(w, http.StatusOK, resp)
}

// sessionResponse 附带缓存刷新时间，便于客户端判断投影的新旧。
type sessionResponse struct {
	session.Info
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
}

type gasTankResponse struct {
	gastank.State
	Deposit gastank.DepositInfo `json:"deposit"`
}

func (s *Server) handleGasTank(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	budget := s.orch.GasBudget()
	if budget == nil {
		http.Error(w, "未配置预付余额", http.StatusNotFound)
		return
	}
	state, err := budget.State(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gasTankResponse{State: state, Deposit: budget.DepositInfo()})
}

type depositRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

// depositor 由支持充值的余额跟踪器实现。
type depositor interface {
	Credit(ctx context.Context, amount decimal.Decimal, reference string) (gastank.State, error)
}

func (s *Server) handleDeposits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	target, ok := s.orch.GasBudget().(depositor)
	if !ok {
		http.Error(w, "未配置预付余额", http.StatusNotFound)
		return
	}
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	state, err := target.Credit(r.Context(), req.Amount, strings.TrimSpace(req.Reference))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	s.orch.Reset()
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败", slog.Any("error", err))
	}
	writeJSON(w, status, errorResponse{Code: string(xerrors.CodeOf(err)), Message: xerrors.MessageOf(err)})
}

func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	// 包装处理器以检查上下文状态。
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
