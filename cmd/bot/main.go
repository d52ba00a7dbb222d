package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/OrWestSide/crypto-trading/internal/config"
	"github.com/OrWestSide/crypto-trading/internal/domain"
	"github.com/OrWestSide/crypto-trading/internal/infrastructure/exchange"
	"github.com/OrWestSide/crypto-trading/internal/infrastructure/logger"
	"github.com/OrWestSide/crypto-trading/internal/infrastructure/storage"
	"github.com/OrWestSide/crypto-trading/internal/usecase"
	"github.com/OrWestSide/crypto-trading/internal/web"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	queue := logger.NewLogQueue(cfg.Logging.QueueSize)
	log, err := logger.NewLogger(cfg.Logging.Level, queue)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Exchanges
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connectors := make(map[string]domain.Connector)
	for _, ex := range cfg.Exchanges {
		connector, err := exchange.New(ex.Name, ex.APIKey, ex.APISecret, ex.Testnet, log,
			exchange.WithEndpoints(ex.RESTEndpoint, ex.WSEndpoint),
			exchange.WithReconnectDelay(cfg.Engine.ReconnectDelay()),
		)
		if err != nil {
			log.Fatal("Failed to create connector", zap.String("exchange", ex.Name), zap.Error(err))
		}
		if err := connector.Start(ctx); err != nil {
			log.Error("Failed to start connector", zap.String("exchange", ex.Name), zap.Error(err))
			continue
		}
		defer connector.Close()
		connectors[ex.Name] = connector
		log.Info("Connector started",
			zap.String("exchange", ex.Name),
			zap.Bool("testnet", ex.Testnet),
			zap.Int("contracts", len(connector.ListContracts())),
		)
	}

	// 5. Init Service
	svc := usecase.NewStrategyService(connectors, store, store, usecase.EngineOptions{
		FillPollInterval:    cfg.Engine.FillPollInterval(),
		FillPollMaxAttempts: cfg.Engine.FillPollMaxAttempts,
		StaleTick:           cfg.Engine.StaleTick(),
	}, log)
	defer svc.StopAll()

	// 6. Restore saved strategies
	if cfg.Engine.RestoreStrategies {
		restored, err := svc.Restore(ctx)
		if err != nil {
			log.Error("Failed to restore strategies", zap.Error(err))
		} else {
			log.Info("Strategies restored", zap.Int("count", restored))
		}
	}

	// 7. Start Server
	server := web.NewServer(cfg.Server.Port, svc, store, queue, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 8. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
}
