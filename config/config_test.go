package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

var credentials = env(map[string]string{
	"BINANCE_API_KEY":    "key",
	"BINANCE_API_SECRET": "secret",
})

func TestLoad_FromFlags(t *testing.T) {
	conf, err := Load([]string{"--bridge", "usdt", "--coins", "btc, eth", "--price-type", "orderbook"}, credentials)
	require.NoError(t, err)

	assert.Equal(t, "USDT", conf.Bridge)
	assert.Equal(t, []string{"BTC", "ETH"}, conf.Coins)
	assert.Equal(t, PriceTypeOrderbook, conf.PriceType)
	assert.Equal(t, defaultIdleSleep, conf.IdleSleep)
	assert.Equal(t, defaultReconcileRetryInterval, conf.ReconcileRetryInterval)
	assert.Equal(t, "key", conf.APIKey)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, conf.Symbols())
}

func TestLoad_FromYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tld: us
bridge: BUSD
price_type: ticker
coins: [BTC, BNB, BUSD]
idle_sleep: 25ms
reconcile_retry_interval: 2s
journal_dir: /tmp/journal
http_addr: ":9090"
tls_domains: [stream.example.com]
`), 0644))

	conf, err := Load([]string{"--config", path}, credentials)
	require.NoError(t, err)

	assert.Equal(t, path, conf.Path)
	assert.Equal(t, "us", conf.TLD)
	assert.Equal(t, 25*time.Millisecond, conf.IdleSleep)
	assert.Equal(t, 2*time.Second, conf.ReconcileRetryInterval)
	assert.Equal(t, defaultListenKeyKeepalive, conf.ListenKeyKeepalive)
	assert.Equal(t, "/tmp/journal", conf.JournalDir)
	assert.Equal(t, []string{"stream.example.com"}, conf.TLSDomains)
	assert.Equal(t, []string{"BTCBUSD", "BNBBUSD"}, conf.Symbols())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  func(string) string
	}{
		{name: "empty bridge", yaml: "coins: [BTC]", env: credentials},
		{name: "bad price type", yaml: "bridge: USDT\nprice_type: candles", env: credentials},
		{name: "negative duration", yaml: "bridge: USDT\nidle_sleep: -1s", env: credentials},
		{name: "no credentials", yaml: "bridge: USDT", env: env(nil)},
		{name: "broken yaml", yaml: "bridge: [", env: credentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))

			_, err := Load([]string{"--config", path}, tt.env)
			assert.Error(t, err)
		})
	}
}

func TestLoad_SetupSkipsValidation(t *testing.T) {
	conf, err := Load([]string{"--setup", "--bridge", ""}, env(nil))
	require.NoError(t, err)
	assert.True(t, conf.RunSetup)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), GeneratedFile)
	require.NoError(t, Save(path, ConfigTmp{
		Bridge:    "USDT",
		PriceType: PriceTypeOrderbook,
		Coins:     []string{"BTC"},
		IdleSleep: 15 * time.Millisecond,
	}))

	conf, err := Load([]string{"--config", path}, credentials)
	require.NoError(t, err)
	assert.Equal(t, PriceTypeOrderbook, conf.PriceType)
	assert.Equal(t, 15*time.Millisecond, conf.IdleSleep)
	assert.Equal(t, []string{"BTCUSDT"}, conf.Symbols())
}

func TestSave_KeepsWriteCause(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", GeneratedFile)

	err := Save(path, ConfigTmp{Bridge: "USDT"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save config file")
	assert.True(t, os.IsNotExist(errors.Cause(err)))
}
