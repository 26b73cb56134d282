package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/martistream/internal/domain"
)

// Price sources for trading decisions.
const (
	PriceTypeTicker    = "ticker"
	PriceTypeOrderbook = "orderbook"
)

const (
	defaultTLD                    = "com"
	defaultBridge                 = "USDT"
	defaultIdleSleep              = 10 * time.Millisecond
	defaultReconcileRetryInterval = time.Second
	defaultListenKeyKeepalive     = 30 * time.Minute
	defaultReconnectInterval      = time.Second
	defaultJournalDir             = "./wal/orders"
	defaultHTTPAddr               = ":8080"
	defaultTLSCacheDir            = "./certs"
	defaultLogLevel               = "info"

	// GeneratedFile is written by the setup wizard.
	GeneratedFile = "config.gen.yaml"
)

type Config struct {
	TLD     string
	Testnet bool
	// Bridge is the quote asset every coin is traded against.
	Bridge string
	// PriceType selects last trade prices (ticker) or best bid/ask (orderbook).
	PriceType string
	// Coins are streamed when DatabaseURL is empty and seed an empty coins table otherwise.
	Coins       []string
	DatabaseURL string

	IdleSleep              time.Duration
	ReconcileRetryInterval time.Duration
	ListenKeyKeepalive     time.Duration
	ReconnectInterval      time.Duration

	JournalDir  string
	HTTPAddr    string
	TLSDomains  []string
	TLSCacheDir string
	LogLevel    string

	APIKey    string
	APISecret string

	// RunSetup asks for the interactive wizard before start.
	RunSetup bool
	// Path of the yaml file the config was read from, empty for CLI flags.
	Path string
}

type ConfigTmp struct {
	TLD                    string        `yaml:"tld,omitempty"`
	Testnet                bool          `yaml:"testnet,omitempty"`
	Bridge                 string        `yaml:"bridge"`
	PriceType              string        `yaml:"price_type,omitempty"`
	Coins                  []string      `yaml:"coins,omitempty"`
	DatabaseURL            string        `yaml:"database_url,omitempty"`
	IdleSleep              time.Duration `yaml:"idle_sleep,omitempty"`
	ReconcileRetryInterval time.Duration `yaml:"reconcile_retry_interval,omitempty"`
	ListenKeyKeepalive     time.Duration `yaml:"listen_key_keepalive,omitempty"`
	ReconnectInterval      time.Duration `yaml:"reconnect_interval,omitempty"`
	JournalDir             string        `yaml:"journal_dir,omitempty"`
	HTTPAddr               string        `yaml:"http_addr,omitempty"`
	TLSDomains             []string      `yaml:"tls_domains,omitempty"`
	TLSCacheDir            string        `yaml:"tls_cache_dir,omitempty"`
	LogLevel               string        `yaml:"log_level,omitempty"`
}

// Get reads the config from the command line, a yaml file and the environment.
// A .env file in the working directory is loaded first if present.
func Get() (Config, error) {
	_ = godotenv.Load()

	return Load(os.Args[1:], os.Getenv)
}

// Load parses args and resolves secrets with getenv.
func Load(args []string, getenv func(string) string) (Config, error) {
	fs := flag.NewFlagSet("martistream", flag.ContinueOnError)
	path := fs.String("config", "", "path to yaml config")
	setup := fs.Bool("setup", false, "run the interactive config wizard")
	tld := fs.String("tld", defaultTLD, "binance top-level domain, example: com, us")
	testnet := fs.Bool("testnet", false, "use the binance spot testnet")
	bridge := fs.String("bridge", defaultBridge, "bridge (quote) asset, example: USDT")
	priceType := fs.String("price-type", PriceTypeTicker, "price source: ticker or orderbook")
	coins := fs.String("coins", "", "comma separated coins, example: BTC,ETH")
	databaseURL := fs.String("database-url", "", "postgres dsn with the coins table")
	httpAddr := fs.String("http", defaultHTTPAddr, "status api listen address, empty disables it")
	logLevel := fs.String("log-level", defaultLogLevel, "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	var (
		conf Config
		err  error
	)
	if *path != "" {
		conf, err = getYaml(*path)
		if err != nil {
			return Config{}, err
		}
	} else {
		conf = fromTmp(ConfigTmp{
			TLD:         *tld,
			Testnet:     *testnet,
			Bridge:      *bridge,
			PriceType:   *priceType,
			Coins:       splitList(*coins),
			DatabaseURL: *databaseURL,
			HTTPAddr:    *httpAddr,
			LogLevel:    *logLevel,
		})
		// an explicit empty --http disables the status api
		conf.HTTPAddr = *httpAddr
	}

	conf.RunSetup = *setup
	conf.APIKey = getenv("BINANCE_API_KEY")
	conf.APISecret = getenv("BINANCE_API_SECRET")

	if conf.RunSetup {
		return conf, nil
	}

	if err := conf.Validate(); err != nil {
		return Config{}, err
	}

	return conf, nil
}

// Validate checks the config for values the stream manager cannot run with.
func (c Config) Validate() error {
	if c.Bridge == "" {
		return errors.New("'bridge' must not be empty")
	}
	if c.PriceType != PriceTypeTicker && c.PriceType != PriceTypeOrderbook {
		return errors.Errorf("incorrect 'price_type' %q, must be %s or %s", c.PriceType, PriceTypeTicker, PriceTypeOrderbook)
	}

	durations := map[string]time.Duration{
		"idle_sleep":               c.IdleSleep,
		"reconcile_retry_interval": c.ReconcileRetryInterval,
		"listen_key_keepalive":     c.ListenKeyKeepalive,
		"reconnect_interval":       c.ReconnectInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return errors.Errorf("'%s' must be positive, got %s", name, d)
		}
	}

	if c.APIKey == "" || c.APISecret == "" {
		return errors.New("BINANCE_API_KEY and BINANCE_API_SECRET environment variables must be set")
	}

	return nil
}

// Symbols returns the exchange symbols of the configured coins against the bridge.
func (c Config) Symbols() []string {
	symbols := make([]string, 0, len(c.Coins))
	for _, coin := range c.Coins {
		if coin == c.Bridge {
			continue
		}
		symbols = append(symbols, domain.NewPair(coin, c.Bridge).Symbol())
	}
	return symbols
}

// Save writes the config as yaml to path.
func Save(path string, tmp ConfigTmp) error {
	data, err := yaml.Marshal(tmp)
	if err != nil {
		return errors.Wrap(err, "failed to generate yaml")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to save config file")
	}
	return nil
}

func getYaml(path string) (Config, error) {
	var tmp ConfigTmp

	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, errors.Wrapf(err, "incorrect yaml config %s", path)
	}

	conf := fromTmp(tmp)
	conf.Path = path

	return conf, nil
}

func fromTmp(c ConfigTmp) Config {
	conf := Config{
		TLD:                    orDefault(c.TLD, defaultTLD),
		Testnet:                c.Testnet,
		Bridge:                 strings.ToUpper(c.Bridge),
		PriceType:              orDefault(strings.ToLower(c.PriceType), PriceTypeTicker),
		DatabaseURL:            c.DatabaseURL,
		IdleSleep:              durationOrDefault(c.IdleSleep, defaultIdleSleep),
		ReconcileRetryInterval: durationOrDefault(c.ReconcileRetryInterval, defaultReconcileRetryInterval),
		ListenKeyKeepalive:     durationOrDefault(c.ListenKeyKeepalive, defaultListenKeyKeepalive),
		ReconnectInterval:      durationOrDefault(c.ReconnectInterval, defaultReconnectInterval),
		JournalDir:             orDefault(c.JournalDir, defaultJournalDir),
		HTTPAddr:               orDefault(c.HTTPAddr, defaultHTTPAddr),
		TLSDomains:             c.TLSDomains,
		TLSCacheDir:            orDefault(c.TLSCacheDir, defaultTLSCacheDir),
		LogLevel:               orDefault(c.LogLevel, defaultLogLevel),
	}

	for _, coin := range c.Coins {
		if coin = strings.ToUpper(strings.TrimSpace(coin)); coin != "" {
			conf.Coins = append(conf.Coins, coin)
		}
	}

	return conf
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func durationOrDefault(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}
	return d
}
