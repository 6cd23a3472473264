package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"VoiceSwap/internal/config"
	"VoiceSwap/internal/events"
	"VoiceSwap/internal/gastank"
	"VoiceSwap/internal/history"
	"VoiceSwap/internal/intent"
	"VoiceSwap/internal/llm"
	"VoiceSwap/internal/llm/openai"
	"VoiceSwap/internal/llm/pythonbridge"
	"VoiceSwap/internal/observability/alerting"
	"VoiceSwap/internal/pricing"
	"VoiceSwap/internal/queue"
	"VoiceSwap/internal/session"
	"VoiceSwap/internal/settlement"
	"VoiceSwap/internal/storage/mysql"
	"VoiceSwap/internal/swap"
	"VoiceSwap/internal/tokens"
	"VoiceSwap/internal/voice"
	"VoiceSwap/internal/web3/provider"
	"VoiceSwap/pkg/logger"
)

func loggerConfig(cfg config.LoggingConfig) logger.Config {
	return logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Audit.Enabled,
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
		},
	}
}

func loadCatalog(cfg config.TokensConfig) (*tokens.Catalog, error) {
	if cfg.Catalog == "" {
		return tokens.Default(), nil
	}
	return tokens.Load(cfg.Catalog)
}

func openHistoryStore(ctx context.Context, cfg config.HistoryStoreConfig) (history.Store, error) {
	switch cfg.Driver {
	case "memory", "":
		return history.NewMemoryStore(), nil
	case "file":
		return history.NewFileStore(cfg.Path)
	case "mysql":
		return mysql.NewHistoryStore(ctx, mysql.Config{
			DSN:             config.Secret(cfg.DSN, cfg.DSNEnv),
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的历史存储驱动: %s", cfg.Driver)
	}
}

func openGasTank(ctx context.Context, cfg config.GasTankConfig) (*gastank.Tracker, func(), error) {
	initial, err := decimal.NewFromString(cfg.InitialBalanceUSD)
	if err != nil {
		return nil, nil, fmt.Errorf("解析 initial_balance_usd 失败: %w", err)
	}
	cost, err := decimal.NewFromString(cfg.CostPerSwapUSD)
	if err != nil {
		return nil, nil, fmt.Errorf("解析 cost_per_swap_usd 失败: %w", err)
	}
	minimum := decimal.Zero
	if strings.TrimSpace(cfg.Deposit.MinimumUSD) != "" {
		if minimum, err = decimal.NewFromString(cfg.Deposit.MinimumUSD); err != nil {
			return nil, nil, fmt.Errorf("解析 minimum_usd 失败: %w", err)
		}
	}

	var store gastank.Store
	switch cfg.Driver {
	case "memory", "":
		store = gastank.NewMemoryStore(initial)
	case "redis":
		redisStore, err := gastank.NewRedisStore(ctx, gastank.RedisStoreConfig{
			Address:  cfg.Redis.Address,
			Password: config.Secret(cfg.Redis.Password, cfg.Redis.PasswordEnv),
			DB:       cfg.Redis.DB,
			Key:      cfg.Key,
			Initial:  initial,
		})
		if err != nil {
			return nil, nil, err
		}
		store = redisStore
	default:
		return nil, nil, fmt.Errorf("未知的余额存储驱动: %s", cfg.Driver)
	}

	tracker, err := gastank.NewTracker(store, gastank.Config{
		CostPerSwap:       cost,
		LowThresholdSwaps: cfg.LowThresholdSwaps,
		Deposit: gastank.DepositInfo{
			Address:    cfg.Deposit.Address,
			ChainID:    cfg.Deposit.ChainID,
			Network:    cfg.Deposit.Network,
			Asset:      cfg.Deposit.Asset,
			MinimumUSD: minimum,
		},
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return tracker, func() { _ = store.Close() }, nil
}

func newSwapClient(cfg config.SwapAPIConfig) (*swap.HTTPClient, error) {
	return swap.NewHTTPClient(swap.Config{
		BaseURL: cfg.BaseURL,
		APIKey:  config.Secret(cfg.APIKey, cfg.APIKeyEnv),
		Timeout: cfg.Timeout(),
	})
}

func sessionDefaults(cfg config.SessionConfig) (session.Options, error) {
	perTx, err := decimal.NewFromString(cfg.DefaultPerTxUSD)
	if err != nil {
		return session.Options{}, fmt.Errorf("解析 default_per_tx_usd 失败: %w", err)
	}
	total, err := decimal.NewFromString(cfg.DefaultTotalUSD)
	if err != nil {
		return session.Options{}, fmt.Errorf("解析 default_total_usd 失败: %w", err)
	}
	return session.Options{PerTxLimitUSD: perTx, TotalLimitUSD: total, Duration: cfg.DefaultDuration()}, nil
}

func newIntentParser(cfg config.IntentConfig, catalog *tokens.Catalog) (*intent.Parser, error) {
	client, err := createLLMClient(cfg)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return intent.NewParser(catalog), nil
	}
	opts := []intent.Option{intent.WithSemanticClient(client)}
	if cfg.Semantic == "openai" {
		opts = append(opts, intent.WithSemanticTimeout(cfg.OpenAI.Timeout()))
	}
	return intent.NewParser(catalog, opts...), nil
}

// createLLMClient 返回语义解析所用的大模型客户端，semantic 为 none 时返回 nil。
func createLLMClient(cfg config.IntentConfig) (llm.Client, error) {
	switch cfg.Semantic {
	case "", "none":
		return nil, nil
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.Python.WorkingDir, cfg.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.Python.PythonExecutable, scriptPath, cfg.Python.WorkingDir)
	case "openai":
		apiKey := config.Secret(cfg.OpenAI.APIKey, cfg.OpenAI.APIKeyEnv)
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Timeout: cfg.OpenAI.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的语义解析 provider: %s", cfg.Semantic)
	}
}

func newEstimator(cfg config.PricingConfig, catalog *tokens.Catalog) (*pricing.StaticEstimator, error) {
	opts, err := pricing.ParseRates(cfg.DefaultProxyUSD, cfg.ProxyRates)
	if err != nil {
		return nil, err
	}
	return pricing.NewStaticEstimator(catalog, opts...), nil
}

func newSettlementSource(ctx context.Context, cfg *config.Config, swaps swap.Client) (settlement.StatusSource, func(), error) {
	if cfg.Settlement.Source != "chain" {
		return settlement.NewBackendSource(swaps), func() {}, nil
	}
	registry, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return nil, nil, err
	}
	client, ok := registry.Client(cfg.Settlement.Chain)
	if !ok {
		registry.Close()
		return nil, nil, fmt.Errorf("结算链 %s 未在配置中找到", cfg.Settlement.Chain)
	}
	return settlement.NewChainSource(client), registry.Close, nil
}

// openEvents 打开事件队列。内存队列没有外部消费者，事件只写入调试日志。
func openEvents(ctx context.Context, cfg config.EventsConfig, group *errgroup.Group) (*events.Publisher, func(), error) {
	q, err := queue.Open(ctx, cfg.Queue)
	if err != nil {
		return nil, nil, err
	}
	publisher := events.NewPublisher(q, cfg.Topic)

	driver := strings.ToLower(strings.TrimSpace(cfg.Queue.Driver))
	if driver == "" || driver == "memory" {
		eventLog := logger.Named("events")
		group.Go(func() error {
			err := q.Consume(ctx, publisher.Topic(), func(_ context.Context, body []byte) error {
				event, err := events.Decode(body)
				if err != nil {
					return err
				}
				eventLog.Debug("业务事件", slog.String("type", string(event.Type)), slog.String("id", event.ID))
				return nil
			})
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return ignoreCanceled(err)
		})
	}
	return publisher, func() { _ = q.Close() }, nil
}

func openVoiceChannel(ctx context.Context, cfg config.VoiceConfig) (voice.Channel, func(), error) {
	switch cfg.Driver {
	case "console", "":
		return voice.NewConsoleChannel(os.Stdin, os.Stdout), func() {}, nil
	case "queue":
		q, err := queue.Open(ctx, cfg.Queue)
		if err != nil {
			return nil, nil, err
		}
		return voice.NewQueueChannel(q, cfg.TranscriptQueue, cfg.SpeechQueue), func() { _ = q.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("未知的语音通道: %s", cfg.Driver)
	}
}

func newAlertDispatcher(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alert")}}
	if url := strings.TrimSpace(cfg.WebhookURL); url != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: url})
	}
	return alerting.NewFanout(notifiers...)
}
