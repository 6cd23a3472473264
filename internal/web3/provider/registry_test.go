package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"VoiceSwap/internal/config"
)

func TestRegistryFromDefinitions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "chain.yaml")
	content := "chains:\n  base:\n    chain_id: 8453\n    rpc_url: " + srv.URL + "\n  sepolia:\n    type: evm\n    chain_id: 84532\n    rpc_url: " + srv.URL + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write chain config: %v", err)
	}

	registry, err := NewRegistry(context.Background(), config.Web3Config{ChainConfig: path, DefaultChain: "base"})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer registry.Close()

	if got := registry.Chains(); len(got) != 2 || got[0] != "base" || got[1] != "sepolia" {
		t.Fatalf("unexpected chains %v", got)
	}
	if _, ok := registry.ClientForChainID(84532); !ok {
		t.Fatal("expected client for chain id 84532")
	}
	if _, ok := registry.ClientForChainID(1); ok {
		t.Fatal("unexpected client for chain id 1")
	}
	if _, ok := registry.Client(""); !ok {
		t.Fatal("empty name should resolve to the default chain")
	}
}

func TestRegistryFallsBackToRPCURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	registry, err := NewRegistry(context.Background(), config.Web3Config{RPCURL: srv.URL})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	defer registry.Close()

	if _, err := registry.DefaultClient(); err != nil {
		t.Fatalf("default client: %v", err)
	}
}

func TestRegistryRequiresEndpoints(t *testing.T) {
	if _, err := NewRegistry(context.Background(), config.Web3Config{}); err == nil {
		t.Fatal("expected error without endpoints")
	}
}

func TestRegistryRejectsUnknownDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	if _, err := NewRegistry(context.Background(), config.Web3Config{RPCURL: srv.URL, DefaultChain: "mainnet"}); err == nil {
		t.Fatal("expected error for unknown default chain")
	}
}
