// Command martistream keeps a local view of a Binance spot account and its markets up to date
// from the exchange websocket streams and serves it over a small status API.
//
// Usage:
//
//	martistream --config config.yaml
//	martistream --setup (runs the config wizard, then starts with config.gen.yaml)
//	martistream --bridge USDT --coins BTC,ETH (uses CLI arguments)
//
// Required environment variables (a .env file is loaded if present):
//
//	BINANCE_API_KEY, BINANCE_API_SECRET
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/martistream/config"
	"github.com/vadiminshakov/martistream/internal"
	"github.com/vadiminshakov/martistream/internal/events"
	"github.com/vadiminshakov/martistream/internal/setup"
	"github.com/vadiminshakov/martistream/internal/storage/orderjournal"
	"github.com/vadiminshakov/martistream/internal/stream"
	"github.com/vadiminshakov/martistream/internal/web"
	"github.com/vadiminshakov/martistream/pkg/logger"
)

const balanceChangeBuffer = 64

func main() {
	conf, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	l, err := logger.New(conf.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, l); err != nil {
		l.Fatal("stream manager failed", zap.Error(err))
	}
}

func loadConfig() (config.Config, error) {
	conf, err := config.Get()
	if err != nil {
		return config.Config{}, err
	}
	if !conf.RunSetup {
		return conf, nil
	}

	if err := setup.RunTUI(config.GeneratedFile); err != nil {
		return config.Config{}, errors.Wrap(err, "setup")
	}

	return config.Load([]string{"--config", config.GeneratedFile}, os.Getenv)
}

func run(ctx context.Context, conf config.Config, l *zap.Logger) error {
	coins, err := internal.EnabledCoins(ctx, conf)
	if err != nil {
		return errors.Wrap(err, "enumerate coins")
	}
	l.Info("coins enabled", zap.Strings("coins", coins), zap.String("bridge", conf.Bridge))

	journal, err := orderjournal.NewWALStore(conf.JournalDir)
	if err != nil {
		return err
	}
	defer journal.Close()

	balances := events.NewBalanceBroadcaster(balanceChangeBuffer)

	manager, _, err := internal.NewBinanceManager(ctx, conf, coins, l,
		internal.WithJournal(journal),
		internal.WithBalancePublisher(balances),
	)
	if err != nil {
		return errors.Wrap(err, "build stream manager")
	}

	if err := manager.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := manager.Wait()
		if errors.Is(err, stream.ErrTransportStopping) && ctx.Err() != nil {
			return nil
		}
		if err == nil && ctx.Err() == nil {
			return errors.New("dispatch loop exited unexpectedly")
		}
		return err
	})

	if conf.HTTPAddr != "" {
		server := web.NewServer(conf.HTTPAddr, manager.Cache(),
			web.WithPending(manager),
			web.WithBalanceStream(balances),
			web.WithJournal(journal),
			web.WithLogger(l),
		)
		g.Go(func() error {
			if len(conf.TLSDomains) > 0 {
				return server.StartWithAutoTLS(gctx, conf.TLSDomains, conf.TLSCacheDir)
			}
			return server.Start(gctx)
		})
	}

	l.Info("stream manager running", zap.String("price_type", conf.PriceType), zap.String("http", conf.HTTPAddr))

	<-gctx.Done()
	l.Info("shutting down")

	closeErr := manager.Close()
	if closeErr != nil {
		l.Error("stream manager closed with error", zap.Error(closeErr))
	} else {
		l.Info("stream manager closed")
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return closeErr
}
