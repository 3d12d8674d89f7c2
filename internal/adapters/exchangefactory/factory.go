package exchangefactory

import (
	"net/http"

	"tradelog/internal/adapters/config"
	"tradelog/internal/adapters/exchanges"
	"tradelog/internal/adapters/exchanges/binance"
	"tradelog/internal/adapters/exchanges/bitget"
	"tradelog/internal/adapters/exchanges/bybit"
	"tradelog/internal/adapters/exchanges/okx"
	"tradelog/internal/adapters/ratelimit"
	"tradelog/internal/adapters/retry"
	"tradelog/pkg/errors"
	"tradelog/pkg/logger"
)

// FromConfig builds one guarded client per exchange with credentials, in the
// configured sync order.
func FromConfig(cfg *config.Config, limiters *ratelimit.Registry, log *logger.Logger) ([]exchanges.Exchange, error) {
	if cfg == nil {
		return nil, errors.ErrInvalidInput
	}
	if limiters == nil {
		limiters = ratelimit.NewRegistry()
	}
	if log == nil {
		log = logger.Nop()
	}

	httpClient := &http.Client{Timeout: cfg.Sync.RequestTimeout}
	retryCfg := retry.DefaultConfig()

	var out []exchanges.Exchange
	for _, name := range cfg.EnabledExchanges() {
		client, err := instantiateClient(name, cfg, httpClient, limiters.Get(name), retryCfg, log)
		if err != nil {
			return nil, errors.Wrapf(err, "create %s client", name)
		}
		out = append(out, exchanges.Guard(client, log))
		log.Infow("Exchange enabled", "exchange", name, "scheme", client.Scheme().String())
	}
	return out, nil
}

func instantiateClient(
	name string,
	cfg *config.Config,
	httpClient *http.Client,
	limiter *ratelimit.Limiter,
	retryCfg retry.Config,
	log *logger.Logger,
) (exchanges.Exchange, error) {
	switch name {
	case exchanges.NameBinance:
		return binance.NewClient(binance.Config{
			APIKey:         cfg.Binance.APIKey,
			SecretKey:      cfg.Binance.SecretKey,
			BaseURL:        cfg.Binance.BaseURL,
			Testnet:        cfg.Binance.Testnet,
			HTTPClient:     httpClient,
			HistoryWindow:  cfg.Sync.HistoryWindow,
			HistoryWindows: cfg.Sync.HistoryWindows,
			Limiter:        limiter,
			Retry:          retryCfg,
		}, log)
	case exchanges.NameBitget:
		return bitget.NewClient(bitget.Config{
			APIKey:     cfg.Bitget.APIKey,
			SecretKey:  cfg.Bitget.SecretKey,
			Passphrase: cfg.Bitget.Passphrase,
			BaseURL:    cfg.Bitget.BaseURL,
			Lookback:   cfg.Sync.HistoryLookback(),
			HTTPClient: httpClient,
			Limiter:    limiter,
			Retry:      retryCfg,
		})
	case exchanges.NameOKX:
		return okx.NewClient(okx.Config{
			APIKey:     cfg.OKX.APIKey,
			SecretKey:  cfg.OKX.SecretKey,
			Passphrase: cfg.OKX.Passphrase,
			BaseURL:    cfg.OKX.BaseURL,
			Simulated:  cfg.OKX.Simulated,
			HTTPClient: httpClient,
			Limiter:    limiter,
			Retry:      retryCfg,
		})
	case exchanges.NameBybit:
		return bybit.NewClient(bybit.Config{
			APIKey:     cfg.Bybit.APIKey,
			SecretKey:  cfg.Bybit.SecretKey,
			BaseURL:    cfg.Bybit.BaseURL,
			Testnet:    cfg.Bybit.Testnet,
			HTTPClient: httpClient,
			Limiter:    limiter,
			Retry:      retryCfg,
		})
	default:
		return nil, errors.Wrapf(errors.ErrInvalidInput, "unsupported exchange: %s", name)
	}
}
