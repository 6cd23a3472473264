package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config 描述了 voiceswapd 启动阶段需要加载的全部配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Wallet     WalletConfig     `json:"wallet"`
	SwapAPI    SwapAPIConfig    `json:"swap_api"`
	Intent     IntentConfig     `json:"intent"`
	Session    SessionConfig    `json:"session"`
	GasTank    GasTankConfig    `json:"gas_tank"`
	Pricing    PricingConfig    `json:"pricing"`
	Settlement SettlementConfig `json:"settlement"`
	Storage    StorageConfig    `json:"storage"`
	Voice      VoiceConfig      `json:"voice"`
	Events     EventsConfig     `json:"events"`
	Web3       Web3Config       `json:"web3"`
	Tokens     TokensConfig     `json:"tokens"`
	Logging    LoggingConfig    `json:"logging"`
	Alerting   AlertingConfig   `json:"alerting"`
	Runtime    RuntimeConfig    `json:"runtime"`
}

// ServerConfig 控制 HTTP API 的监听地址与访问令牌。
type ServerConfig struct {
	Address     string `json:"address"`
	APIToken    string `json:"api_token"`
	APITokenEnv string `json:"api_token_env"`
}

// WalletConfig 描述当前连接的钱包。地址为空表示尚未连接。
type WalletConfig struct {
	Address string `json:"address"`
}

// SwapAPIConfig 描述远程报价/执行服务。
type SwapAPIConfig struct {
	BaseURL           string  `json:"base_url"`
	APIKey            string  `json:"api_key"`
	APIKeyEnv         string  `json:"api_key_env"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	SlippageTolerance float64 `json:"slippage_tolerance"`
}

// Timeout 返回请求超时时间。
func (c SwapAPIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IntentConfig 配置语义解析的兜底实现。
type IntentConfig struct {
	Semantic string             `json:"semantic"`
	OpenAI   OpenAIConfig       `json:"openai"`
	Python   PythonBridgeConfig `json:"python_bridge"`
}

// OpenAIConfig 描述调用 OpenAI Chat Completions 所需的参数。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回 OpenAI 请求的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PythonBridgeConfig 描述通过 Python 脚本完成语义解析时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// SessionConfig 描述会话委托的默认额度与刷新策略。
type SessionConfig struct {
	DefaultPerTxUSD        string         `json:"default_per_tx_usd"`
	DefaultTotalUSD        string         `json:"default_total_usd"`
	DefaultDurationMinutes int            `json:"default_duration_minutes"`
	RefreshIntervalSeconds int            `json:"refresh_interval_seconds"`
	Presence               PresenceConfig `json:"presence"`
}

// DefaultDuration 返回默认会话时长。
func (c SessionConfig) DefaultDuration() time.Duration {
	return time.Duration(c.DefaultDurationMinutes) * time.Minute
}

// RefreshInterval 返回会话信息缓存的刷新周期。
func (c SessionConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// PresenceConfig 配置创建会话前的用户在场校验。
type PresenceConfig struct {
	Mode           string `json:"mode"`
	PassphraseHash string `json:"passphrase_hash"`
}

// GasTankConfig 描述预付执行费用余额的存储与计费方式。
type GasTankConfig struct {
	Driver            string        `json:"driver"`
	Redis             RedisConfig   `json:"redis"`
	Key               string        `json:"key"`
	InitialBalanceUSD string        `json:"initial_balance_usd"`
	CostPerSwapUSD    string        `json:"cost_per_swap_usd"`
	LowThresholdSwaps int           `json:"low_threshold_swaps"`
	Deposit           DepositConfig `json:"deposit"`
}

// DepositConfig 描述充值目标。
type DepositConfig struct {
	Address    string `json:"address"`
	ChainID    int64  `json:"chain_id"`
	Network    string `json:"network"`
	Asset      string `json:"asset"`
	MinimumUSD string `json:"minimum_usd"`
}

// PricingConfig 配置美元估值所用的单价。
type PricingConfig struct {
	DefaultProxyUSD string            `json:"default_proxy_usd"`
	ProxyRates      map[string]string `json:"proxy_rates"`
}

// SettlementConfig 选择结算状态的来源：backend 或 chain。
type SettlementConfig struct {
	Source string `json:"source"`
	Chain  string `json:"chain"`
}

// StorageConfig 统一描述持久化后端。
type StorageConfig struct {
	History HistoryStoreConfig `json:"history"`
}

// HistoryStoreConfig 描述兑换历史的存储驱动。
type HistoryStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	DSNEnv                 string `json:"dsn_env"`
	Path                   string `json:"path"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// VoiceConfig 选择语音通道：console 或 queue。
type VoiceConfig struct {
	Driver          string      `json:"driver"`
	Queue           QueueConfig `json:"queue"`
	TranscriptQueue string      `json:"transcript_queue"`
	SpeechQueue     string      `json:"speech_queue"`
}

// EventsConfig 配置业务事件的发布目标。
type EventsConfig struct {
	Queue QueueConfig `json:"queue"`
	Topic string      `json:"topic"`
}

// QueueConfig 描述 memory/redis/rabbitmq 三种队列驱动。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	PasswordEnv      string `json:"password_env"`
	DB               int    `json:"db"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 连接。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	URLEnv     string `json:"url_env"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// Web3Config 包含访问区块链节点所需的 RPC 地址。
type Web3Config struct {
	RPCURL       string `json:"rpc_url"`
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
}

// TokensConfig 指定代币目录文件，为空时使用内置目录。
type TokensConfig struct {
	Catalog string `json:"catalog"`
}

// LoggingConfig 对应 pkg/logger.Config。
type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 描述审计日志文件。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// AlertingConfig 配置告警 webhook。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件并填充默认值。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回仅包含默认值的配置，便于在没有配置文件时启动。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg
}

// Validate 检查无法通过默认值修复的配置错误。
func (c *Config) Validate() error {
	switch c.Settlement.Source {
	case "backend", "chain":
	default:
		return fmt.Errorf("未知的结算状态来源: %s", c.Settlement.Source)
	}
	switch c.Intent.Semantic {
	case "none", "openai", "python_bridge":
	default:
		return fmt.Errorf("未知的语义解析 provider: %s", c.Intent.Semantic)
	}
	if c.SwapAPI.SlippageTolerance < 0 || c.SwapAPI.SlippageTolerance >= 1 {
		return fmt.Errorf("slippage_tolerance 必须在 [0, 1) 区间内: %v", c.SwapAPI.SlippageTolerance)
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8088"
	}

	if c.SwapAPI.BaseURL == "" {
		c.SwapAPI.BaseURL = "http://127.0.0.1:3000"
	}
	if c.SwapAPI.TimeoutSeconds <= 0 {
		c.SwapAPI.TimeoutSeconds = 30
	}
	if c.SwapAPI.SlippageTolerance == 0 {
		c.SwapAPI.SlippageTolerance = 0.005
	}

	if c.Intent.Semantic == "" {
		c.Intent.Semantic = "none"
	}
	if c.Intent.OpenAI.TimeoutSeconds <= 0 {
		c.Intent.OpenAI.TimeoutSeconds = 15
	}
	if c.Intent.Python.PythonExecutable == "" {
		c.Intent.Python.PythonExecutable = "python3"
	}
	c.Intent.Python.WorkingDir = resolvePath(baseDir, c.Intent.Python.WorkingDir, baseDir)

	if c.Session.DefaultPerTxUSD == "" {
		c.Session.DefaultPerTxUSD = "100"
	}
	if c.Session.DefaultTotalUSD == "" {
		c.Session.DefaultTotalUSD = "500"
	}
	if c.Session.DefaultDurationMinutes <= 0 {
		c.Session.DefaultDurationMinutes = 24 * 60
	}
	if c.Session.RefreshIntervalSeconds <= 0 {
		c.Session.RefreshIntervalSeconds = 30
	}
	if c.Session.Presence.Mode == "" {
		c.Session.Presence.Mode = "none"
	}

	if c.GasTank.Driver == "" {
		c.GasTank.Driver = "memory"
	}
	if c.GasTank.Key == "" {
		c.GasTank.Key = "voiceswap:gastank"
	}
	if c.GasTank.InitialBalanceUSD == "" {
		c.GasTank.InitialBalanceUSD = "0"
	}
	if c.GasTank.CostPerSwapUSD == "" {
		c.GasTank.CostPerSwapUSD = "0.05"
	}
	if c.GasTank.LowThresholdSwaps <= 0 {
		c.GasTank.LowThresholdSwaps = 5
	}
	if c.GasTank.Deposit.Asset == "" {
		c.GasTank.Deposit.Asset = "USDC"
	}
	if c.GasTank.Deposit.Network == "" {
		c.GasTank.Deposit.Network = "Base"
	}
	if c.GasTank.Deposit.ChainID == 0 {
		c.GasTank.Deposit.ChainID = 8453
	}

	if c.Pricing.DefaultProxyUSD == "" {
		c.Pricing.DefaultProxyUSD = "3000"
	}

	if c.Settlement.Source == "" {
		c.Settlement.Source = "backend"
	}

	if c.Storage.History.Driver == "" {
		c.Storage.History.Driver = "memory"
	}

	if c.Voice.Driver == "" {
		c.Voice.Driver = "console"
	}
	if c.Voice.TranscriptQueue == "" {
		c.Voice.TranscriptQueue = "voiceswap.transcripts"
	}
	if c.Voice.SpeechQueue == "" {
		c.Voice.SpeechQueue = "voiceswap.speech"
	}
	if c.Events.Topic == "" {
		c.Events.Topic = "voiceswap.events"
	}

	c.Web3.ChainConfig = resolvePath(baseDir, c.Web3.ChainConfig, "")
	c.Tokens.Catalog = resolvePath(baseDir, c.Tokens.Catalog, "")

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir, filepath.Join(baseDir, "data"))
	if c.Storage.History.Driver == "file" && c.Storage.History.Path == "" {
		c.Storage.History.Path = filepath.Join(c.Runtime.DataDir, "history.log")
	} else {
		c.Storage.History.Path = resolvePath(baseDir, c.Storage.History.Path, "")
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

func resolvePath(baseDir, value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}

// Secret 优先返回直接配置的值，否则从 envName 指定的环境变量读取。
func Secret(value, envName string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	if strings.TrimSpace(envName) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(envName))
}
