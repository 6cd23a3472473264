package web3

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadChainDefinitions(t *testing.T) {
	t.Setenv("VOICESWAP_TEST_BASE_RPC", "https://base.example")
	path := filepath.Join(t.TempDir(), "chain.yaml")
	content := `chains:
  base:
    type: evm
    chain_id: 8453
    rpc_url: ${VOICESWAP_TEST_BASE_RPC}
    description: Base mainnet
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write chain config: %v", err)
	}

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	base, ok := defs.Chains["base"]
	if !ok {
		t.Fatalf("base chain missing: %+v", defs)
	}
	if base.RPCURL != "https://base.example" || base.ChainID != 8453 {
		t.Fatalf("unexpected definition: %+v", base)
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if defs.Chains == nil || len(defs.Chains) != 0 {
		t.Fatalf("expected empty definitions, got %+v", defs)
	}
}

func TestLoadChainDefinitionsRejectsMissingEndpoint(t *testing.T) {
	t.Setenv("VOICESWAP_TEST_EMPTY_RPC", "")
	path := filepath.Join(t.TempDir(), "chain.yaml")
	content := "chains:\n  Base:\n    rpc_url: ${VOICESWAP_TEST_EMPTY_RPC}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write chain config: %v", err)
	}
	if _, err := LoadChainDefinitions(path); err == nil {
		t.Fatal("expected error for chain without rpc_url")
	}
}

func TestLoadChainDefinitionsLowercasesNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chain.yaml")
	content := "chains:\n  Base-Sepolia:\n    rpc_url: https://sepolia.example\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write chain config: %v", err)
	}
	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := defs.Chains["base-sepolia"]; !ok {
		t.Fatalf("expected lower-cased chain name, got %+v", defs.Chains)
	}
}
