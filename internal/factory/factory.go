package factory

import (
	"fmt"
	"net/http"
	"time"

	"bookfeed/internal/engine"
	"bookfeed/internal/exchange"
	"bookfeed/internal/exchange/hyperliquid"
	"bookfeed/internal/types"

	"github.com/rs/zerolog"
)

// ExchangeConfig holds configuration for creating an exchange feed
type ExchangeConfig struct {
	Name              exchange.ExchangeName
	WSURL             string
	RestURL           string
	HandshakeTimeout  time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	HTTPClient        *http.Client
	Logger            zerolog.Logger
}

// NewExchange creates a new exchange instance for coin
func NewExchange(config ExchangeConfig, coin types.Coin) (exchange.Exchange, error) {
	name, err := exchange.ParseExchangeName(string(config.Name))
	if err != nil {
		return nil, err
	}

	switch name {
	case exchange.Hyperliquid:
		return hyperliquid.New(hyperliquid.Config{
			Coin:              coin,
			WSURL:             config.WSURL,
			RestURL:           config.RestURL,
			HandshakeTimeout:  config.HandshakeTimeout,
			ReconnectDelay:    config.ReconnectDelay,
			MaxReconnectDelay: config.MaxReconnectDelay,
			HTTPClient:        config.HTTPClient,
			Logger:            config.Logger,
		}), nil

	default:
		return nil, fmt.Errorf("unknown exchange: %s", config.Name)
	}
}

// NewConnector validates the exchange name once and returns a connector the
// engine calls for every coin it subscribes to
func NewConnector(config ExchangeConfig) (engine.Connector, error) {
	name, err := exchange.ParseExchangeName(string(config.Name))
	if err != nil {
		return nil, err
	}
	config.Name = name

	return func(coin types.Coin) exchange.Exchange {
		ex, err := NewExchange(config, coin)
		if err != nil {
			// unreachable once the name is validated
			panic(err)
		}
		return ex
	}, nil
}

// ValidateExchangeName checks if the exchange name is supported
func ValidateExchangeName(name string) bool {
	_, err := exchange.ParseExchangeName(name)
	return err == nil
}

// GetSupportedExchanges returns a list of all supported exchanges
func GetSupportedExchanges() []exchange.ExchangeName {
	return append([]exchange.ExchangeName(nil), exchange.SupportedExchanges...)
}
