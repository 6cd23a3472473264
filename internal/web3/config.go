package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type        string `yaml:"type"`
	ChainID     int64  `yaml:"chain_id"`
	RPCURL      string `yaml:"rpc_url"`
	Description string `yaml:"description"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
// RPC URLs may reference environment variables as ${NAME}; chain names are
// lower-cased and a definition left without an endpoint is rejected.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	chains := make(map[string]ChainDefinition, len(defs.Chains))
	for name, chain := range defs.Chains {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return ChainDefinitions{}, fmt.Errorf("链配置 %s 存在空的链名称", path)
		}
		if _, dup := chains[key]; dup {
			return ChainDefinitions{}, fmt.Errorf("链 %s 重复定义", key)
		}
		chain.RPCURL = strings.TrimSpace(os.ExpandEnv(chain.RPCURL))
		if chain.RPCURL == "" {
			return ChainDefinitions{}, fmt.Errorf("链 %s 缺少 rpc_url", key)
		}
		chains[key] = chain
	}
	defs.Chains = chains
	return defs, nil
}
