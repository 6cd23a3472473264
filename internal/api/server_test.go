package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"VoiceSwap/internal/agent"
	"VoiceSwap/internal/auth"
	"VoiceSwap/internal/gastank"
	"VoiceSwap/internal/history"
	"VoiceSwap/internal/intent"
	"VoiceSwap/internal/observability/metrics"
	"VoiceSwap/internal/session"
	"VoiceSwap/internal/swap"
)

// idleSwaps 只用于不会触达兑换后端的请求。
type idleSwaps struct {
	swap.Client
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *history.MemoryStore) {
	t.Helper()
	store := history.NewMemoryStore()
	tank, err := gastank.NewTracker(gastank.NewMemoryStore(decimal.NewFromInt(10)), gastank.Config{CostPerSwap: decimal.NewFromFloat(0.5)})
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	orch, err := agent.New(intent.NewParser(nil), idleSwaps{}, session.NewKeyAuthorizer(session.Options{}), store,
		agent.WithGasBudget(tank))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(orch.Close)
	return NewServer(":0", orch, opts...), store
}

func TestTranscriptReturnsReplies(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcripts", strings.NewReader(`{"text":"help"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var got agent.TurnResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Intent.Action != intent.ActionHelp {
		t.Fatalf("unexpected action %q", got.Intent.Action)
	}
	if len(got.Replies) != 1 || !strings.Contains(got.Replies[0], "swap 100 USDC for ETH") {
		t.Fatalf("unexpected replies %v", got.Replies)
	}
	if got.State != agent.StateIdle {
		t.Fatalf("unexpected state %q", got.State)
	}
}

func TestTranscriptErrors(t *testing.T) {
	handler := func() http.Handler {
		server, _ := newTestServer(t)
		return server.Handler()
	}()

	t.Run("invalid method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/transcripts", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("bad body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/transcripts", strings.NewReader("{")))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("empty text", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/transcripts", strings.NewReader(`{"text":"  "}`)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
		var body errorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body.Code == "" {
			t.Fatal("expected an error code")
		}
	})
}

func TestStateAndHistory(t *testing.T) {
	server, store := newTestServer(t)
	handler := server.Handler()

	if _, err := store.Add(context.Background(), history.Entry{TxHash: "0x1"}); err != nil {
		t.Fatalf("add entry: %v", err)
	}
	if _, err := store.Add(context.Background(), history.Entry{TxHash: "0x2"}); err != nil {
		t.Fatalf("add entry: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history?limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code %d", rec.Code)
	}
	var entries []history.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(entries) != 1 || entries[0].TxHash != "0x2" {
		t.Fatalf("unexpected history %+v", entries)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/state", nil))
	var snap agent.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if snap.State != agent.StateIdle {
		t.Fatalf("unexpected state %q", snap.State)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/session", nil))
	var info session.Info
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if info.Active {
		t.Fatal("expected no active session")
	}
}

func TestSessionReportsCacheRefresh(t *testing.T) {
	authorizer := session.NewKeyAuthorizer(session.Options{})
	orch, err := agent.New(intent.NewParser(nil), idleSwaps{}, authorizer, history.NewMemoryStore(),
		agent.WithSessionCache(session.NewCache(authorizer)))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(orch.Close)
	handler := NewServer(":0", orch).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/session", nil))
	var body struct {
		Active      bool       `json:"active"`
		RefreshedAt *time.Time `json:"refreshed_at"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if body.Active {
		t.Fatal("expected no active session")
	}
	if body.RefreshedAt == nil || body.RefreshedAt.IsZero() {
		t.Fatalf("expected refreshed_at, got %s", rec.Body.String())
	}
}

func TestGasTankDeposit(t *testing.T) {
	server, _ := newTestServer(t)
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/gastank/deposits", strings.NewReader(`{"amount":"5","reference":"0xdep"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/gastank", nil))
	var got gasTankResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode gas tank: %v", err)
	}
	if !got.Balance.Equal(decimal.NewFromInt(15)) || got.SwapsRemaining != 30 {
		t.Fatalf("unexpected gas tank %+v", got.State)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/gastank/deposits", strings.NewReader(`{"amount":"-1"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestTokenRequiredForAPIRoutes(t *testing.T) {
	server, _ := newTestServer(t, WithAuthenticator(auth.NewTokenAuthenticator("secret")), WithMetrics(metrics.NewRecorder()))
	handler := server.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/state", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/state", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	for _, path := range []string{"/healthz", "/metrics"} {
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected status %d, got %d", path, http.StatusOK, rec.Code)
		}
	}
	if !strings.Contains(rec.Body.String(), "voiceswap_http_requests_total") {
		t.Fatal("expected request metrics to be exported")
	}
}

func TestResetReturnsSnapshot(t *testing.T) {
	server, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/reset", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code %d", rec.Code)
	}
}
