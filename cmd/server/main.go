package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ildaroit/algo-trading-server/config"
	"github.com/ildaroit/algo-trading-server/internal/exchange"
	"github.com/ildaroit/algo-trading-server/internal/market"
	"github.com/ildaroit/algo-trading-server/internal/market/pipeline"
	"github.com/ildaroit/algo-trading-server/internal/relay"
	"github.com/ildaroit/algo-trading-server/internal/retention"
	"github.com/ildaroit/algo-trading-server/logger"
	"github.com/ildaroit/algo-trading-server/pkg/storage/postgres"
)

func main() {
	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	interval, err := market.ParseInterval(cfg.Market.Interval)
	if err != nil {
		log.Fatal("invalid market interval", zap.Error(err))
	}

	// Initialize PostgreSQL client
	postgresClient, err := postgres.InitializeAndMigrate(cfg.Postgres, true)
	if err != nil {
		log.Fatal("failed to connect to DB", zap.Error(err))
	}
	defer postgresClient.Close()

	// Optional Redis event relay
	var publisher market.EventPublisher
	if cfg.Redis.Enabled {
		redisPublisher, err := relay.NewPublisher(cfg.Redis, log)
		if err != nil {
			log.Fatal("failed to connect event relay", zap.Error(err))
		}
		defer redisPublisher.Close()
		publisher = redisPublisher
	}

	// One pipeline per configured symbol
	registry := pipeline.NewRegistry()
	for _, symbol := range cfg.Market.Symbols {
		venue := exchange.NewBinance(cfg.Binance, log)

		// Verify the venue knows the symbol before tracking it
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Binance.RESTTimeout)
		err := venue.CheckSymbol(ctx, symbol)
		cancel()
		if err != nil {
			log.Fatal("symbol check failed", zap.String("symbol", symbol), zap.Error(err))
		}

		p := pipeline.New(venue, symbol, pipeline.Config{
			Interval:     interval,
			StreamBuffer: cfg.Market.StreamBuffer,
			CacheSize:    cfg.Market.CacheSize,
			Provider: market.ProviderConfig{
				MaxRetries:  cfg.Market.MaxRetries,
				BaseBackoff: cfg.Market.BaseBackoff,
				MaxBackoff:  cfg.Market.MaxBackoff,
			},
		}, postgresClient, publisher, log)

		if err := registry.Add(p); err != nil {
			log.Fatal("failed to register pipeline", zap.String("symbol", symbol), zap.Error(err))
		}

		// The output stream must always be drained, otherwise a full buffer
		// stalls the pipeline.
		go func(p *pipeline.Pipeline) {
			for range p.Candles() {
			}
		}(p)

		p.Start()
		log.Info("tracking market",
			zap.String("exchange", p.Exchange()),
			zap.String("symbol", symbol),
			zap.String("interval", cfg.Market.Interval))
	}

	// Bounded storage retention
	var sweeper *retention.Scheduler
	if cfg.Retention.Enabled {
		sweeper = retention.NewScheduler(postgresClient, cfg.Retention.MaxAge, log)
		sweeper.Start()
	}

	// Periodically log per-market candle counts for visibility
	go func() {
		for {
			time.Sleep(time.Minute)
			for _, p := range registry.All() {
				log.Info("market status",
					zap.String("exchange", p.Exchange()),
					zap.String("symbol", p.Symbol()),
					zap.String("connection", p.Status().String()),
					zap.Int64("candles", p.Cache().Total()))
			}
		}
	}()

	// Block until shutdown is requested
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	if sweeper != nil {
		sweeper.Stop()
	}
	registry.StopAll()
}
