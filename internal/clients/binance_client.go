package clients

import (
	"github.com/adshao/go-binance/v2"
)

const binanceTestnetURL = "https://testnet.binance.vision"

// NewBinanceClient builds a REST client for the given top-level domain (com, us, ...) or the spot testnet.
func NewBinanceClient(apiKey, apiSecret, tld string, testnet bool) *binance.Client {
	client := binance.NewClient(apiKey, apiSecret)

	switch {
	case testnet:
		client.BaseURL = binanceTestnetURL
	case tld != "" && tld != "com":
		client.BaseURL = "https://api.binance." + tld
	}

	return client
}
