package internal

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/martistream/config"
	"github.com/vadiminshakov/martistream/internal/clients"
	"github.com/vadiminshakov/martistream/internal/services/trader"
	"github.com/vadiminshakov/martistream/internal/storage/coins"
	streambinance "github.com/vadiminshakov/martistream/internal/stream/binance"
)

// StreamSubscriber opens the market and account streams of a transport.
type StreamSubscriber interface {
	SubscribeMiniTickers() string
	SubscribeBookTickers(symbols []string) (string, error)
	SubscribeUserData() (string, error)
}

type coinStore interface {
	Migrate(ctx context.Context) error
	EnabledCoins(ctx context.Context) ([]string, error)
	SetEnabled(ctx context.Context, symbol string, enabled bool) error
}

// EnabledCoins returns the coins to stream: the enabled rows of the coins table when a database is
// configured, the configured list otherwise. The configured coins seed a table with no enabled rows.
func EnabledCoins(ctx context.Context, conf config.Config) ([]string, error) {
	if conf.DatabaseURL == "" {
		return conf.Coins, nil
	}

	store, err := coins.Open(conf.DatabaseURL)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return listCoins(ctx, store, conf.Coins)
}

func listCoins(ctx context.Context, store coinStore, seed []string) ([]string, error) {
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}

	list, err := store.EnabledCoins(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 && len(seed) > 0 {
		for _, coin := range seed {
			if err := store.SetEnabled(ctx, coin, true); err != nil {
				return nil, err
			}
		}
		if list, err = store.EnabledCoins(ctx); err != nil {
			return nil, err
		}
	}
	if len(list) == 0 {
		return nil, errors.New("no enabled coins in the coins table")
	}
	return list, nil
}

// Subscribe opens the all-market mini ticker stream and the user-data stream, plus book tickers of
// every symbol when prices come from the order book.
func Subscribe(s StreamSubscriber, conf config.Config, symbols []string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	id := s.SubscribeMiniTickers()
	logger.Info("subscribed to mini tickers", zap.String("stream_id", id))

	id, err := s.SubscribeUserData()
	if err != nil {
		return errors.Wrap(err, "subscribe to user data")
	}
	logger.Info("subscribed to user data", zap.String("stream_id", id))

	if conf.PriceType != config.PriceTypeOrderbook {
		return nil
	}

	id, err = s.SubscribeBookTickers(symbols)
	if err != nil {
		return errors.Wrap(err, "subscribe to book tickers")
	}
	logger.Info("subscribed to book tickers", zap.String("stream_id", id), zap.Strings("symbols", symbols))

	return nil
}

// NewBinanceManager builds the Binance REST trader, the websocket transport with every subscription
// and the stream manager around them. The returned manager is not started.
func NewBinanceManager(ctx context.Context, conf config.Config, coinList []string, logger *zap.Logger,
	opts ...Option) (*Manager, *trader.Binance, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conf.Coins = coinList
	symbols := conf.Symbols()

	client := clients.NewBinanceClient(conf.APIKey, conf.APISecret, conf.TLD, conf.Testnet)
	binanceTrader := trader.NewBinance(client)

	transport := streambinance.NewManager(ctx, binanceTrader,
		streambinance.WithBaseURL(streambinance.BaseURL(conf.TLD, conf.Testnet)),
		streambinance.WithKeepalive(conf.ListenKeyKeepalive),
		streambinance.WithReconnectInterval(conf.ReconnectInterval),
		streambinance.WithLogger(logger),
	)

	if err := Subscribe(transport, conf, symbols, logger); err != nil {
		transport.Stop()
		return nil, nil, err
	}

	opts = append([]Option{
		WithLogger(logger),
		WithIdleSleep(conf.IdleSleep),
		WithReconcileRetryInterval(conf.ReconcileRetryInterval),
	}, opts...)

	return NewManager(transport, binanceTrader, opts...), binanceTrader, nil
}
