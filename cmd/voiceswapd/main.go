package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"VoiceSwap/internal/agent"
	"VoiceSwap/internal/api"
	"VoiceSwap/internal/auth"
	"VoiceSwap/internal/config"
	"VoiceSwap/internal/observability/metrics"
	"VoiceSwap/internal/session"
	"VoiceSwap/pkg/logger"
)

// main 是 VoiceSwap 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("voiceswapd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env 只用于本地开发，不存在时忽略。
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	configPath := os.Getenv("VOICESWAP_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "voiceswap.json")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(loggerConfig(cfg.Logging)); err != nil {
		return err
	}
	defer logger.Sync()
	appLog := logger.Named("voiceswapd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	catalog, err := loadCatalog(cfg.Tokens)
	if err != nil {
		return err
	}

	store, err := openHistoryStore(ctx, cfg.Storage.History)
	if err != nil {
		return err
	}
	defer store.Close()

	tank, closeTank, err := openGasTank(ctx, cfg.GasTank)
	if err != nil {
		return err
	}
	defer closeTank()

	swaps, err := newSwapClient(cfg.SwapAPI)
	if err != nil {
		return err
	}

	presence, err := auth.NewPresenceVerifier(cfg.Session.Presence, auth.TerminalPrompter{Out: os.Stderr})
	if err != nil {
		return err
	}
	defaults, err := sessionDefaults(cfg.Session)
	if err != nil {
		return err
	}
	authorizer := session.NewKeyAuthorizer(defaults, session.WithPresenceVerifier(presence))
	cache := session.NewCache(authorizer)

	parser, err := newIntentParser(cfg.Intent, catalog)
	if err != nil {
		return err
	}
	estimator, err := newEstimator(cfg.Pricing, catalog)
	if err != nil {
		return err
	}

	source, closeSource, err := newSettlementSource(ctx, cfg, swaps)
	if err != nil {
		return err
	}
	defer closeSource()

	recorder := metrics.NewRecorder()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(runCtx)

	publisher, closeEvents, err := openEvents(groupCtx, cfg.Events, group)
	if err != nil {
		return err
	}
	defer closeEvents()

	channel, closeVoice, err := openVoiceChannel(ctx, cfg.Voice)
	if err != nil {
		return err
	}
	defer closeVoice()

	orch, err := agent.New(parser, swaps, authorizer, store,
		agent.WithChannel(channel),
		agent.WithGasBudget(tank),
		agent.WithEstimator(estimator),
		agent.WithSessionCache(cache),
		agent.WithPublisher(publisher),
		agent.WithAlerts(newAlertDispatcher(cfg.Alerting)),
		agent.WithRecorder(recorder),
		agent.WithSlippageTolerance(cfg.SwapAPI.SlippageTolerance),
		agent.WithSettlement(source),
	)
	if err != nil {
		return err
	}
	defer orch.Close()

	if cfg.Wallet.Address != "" {
		if err := orch.ConnectWallet(ctx, cfg.Wallet.Address); err != nil {
			return err
		}
		appLog.Info("钱包已连接", slog.String("wallet", cfg.Wallet.Address))
	} else {
		appLog.Warn("未配置钱包地址，兑换执行将被拒绝")
	}

	if err := channel.Initialize(ctx); err != nil {
		return err
	}

	server := api.NewServer(cfg.Server.Address, orch,
		api.WithAuthenticator(auth.NewTokenAuthenticator(config.Secret(cfg.Server.APIToken, cfg.Server.APITokenEnv))),
		api.WithMetrics(recorder),
	)

	group.Go(func() error {
		cache.Run(groupCtx, cfg.Session.RefreshInterval())
		return nil
	})
	group.Go(func() error {
		return ignoreCanceled(server.Start(groupCtx))
	})
	group.Go(func() error {
		err := orch.Run(groupCtx)
		if err == nil && cfg.Voice.Driver == "console" {
			// 控制台输入结束即退出。
			appLog.Info("控制台输入已结束，准备退出")
			cancel()
		}
		return ignoreCanceled(err)
	})

	appLog.Info("voiceswapd 已启动",
		slog.String("voice", cfg.Voice.Driver),
		slog.String("history", cfg.Storage.History.Driver),
		slog.String("settlement", cfg.Settlement.Source),
		slog.String("api", cfg.Server.Address),
	)
	return group.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
