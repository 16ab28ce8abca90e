package router

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/yieldwatch/internal/clients/alphavantage"
	"github.com/bobmcallan/yieldwatch/internal/clients/eodhd"
	"github.com/bobmcallan/yieldwatch/internal/clients/fmp"
	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/interfaces"
	"github.com/bobmcallan/yieldwatch/internal/models"
)

// ClientFactory builds a provider client from a stored credential.
type ClientFactory interface {
	NewProvider(cred *models.ProviderCredential) (interfaces.MarketDataProvider, error)
}

// ClientFactoryFunc adapts a function to ClientFactory.
type ClientFactoryFunc func(cred *models.ProviderCredential) (interfaces.MarketDataProvider, error)

func (f ClientFactoryFunc) NewProvider(cred *models.ProviderCredential) (interfaces.MarketDataProvider, error) {
	return f(cred)
}

// HTTPClientFactory builds the real HTTP clients. API keys sealed with
// common.EncryptSecret are opened with masterKey.
// One client is kept per provider so its per-minute limiter spans every
// request; it is rebuilt when the credential's key, base URL, rate or
// timeout changes.
type HTTPClientFactory struct {
	masterKey string
	logger    *common.Logger

	mu      sync.Mutex
	clients map[string]cachedClient
}

type cachedClient struct {
	fingerprint string
	client      interfaces.MarketDataProvider
}

// NewHTTPClientFactory creates a factory for the built-in provider clients.
func NewHTTPClientFactory(masterKey string, logger *common.Logger) *HTTPClientFactory {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &HTTPClientFactory{masterKey: masterKey, logger: logger, clients: make(map[string]cachedClient)}
}

// fingerprint identifies the client settings carried by cred.
func fingerprint(cred *models.ProviderCredential) string {
	return strings.Join([]string{
		cred.APIKey,
		cred.BaseURL,
		strconv.Itoa(cred.RequestsPerMinute),
		cred.Timeout,
	}, "|")
}

func credentialTimeout(cred *models.ProviderCredential) time.Duration {
	if cred.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(cred.Timeout)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// NewProvider implements ClientFactory. It returns the cached client for
// cred.Provider unless the credential settings changed.
func (f *HTTPClientFactory) NewProvider(cred *models.ProviderCredential) (interfaces.MarketDataProvider, error) {
	fp := fingerprint(cred)

	f.mu.Lock()
	defer f.mu.Unlock()
	if cached, ok := f.clients[cred.Provider]; ok && cached.fingerprint == fp {
		return cached.client, nil
	}

	client, err := f.build(cred)
	if err != nil {
		return nil, err
	}
	if _, ok := f.clients[cred.Provider]; ok {
		f.logger.Info().Str("provider", cred.Provider).Msg("Provider settings changed, rebuilding client")
	}
	f.clients[cred.Provider] = cachedClient{fingerprint: fp, client: client}
	return client, nil
}

func (f *HTTPClientFactory) build(cred *models.ProviderCredential) (interfaces.MarketDataProvider, error) {
	key, err := common.DecryptSecret(f.masterKey, cred.APIKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s api key: %w", cred.Provider, err)
	}
	timeout := credentialTimeout(cred)

	switch cred.Provider {
	case models.ProviderEODHD:
		opts := []eodhd.ClientOption{eodhd.WithLogger(f.logger), eodhd.WithRateLimit(cred.RequestsPerMinute)}
		if cred.BaseURL != "" {
			opts = append(opts, eodhd.WithBaseURL(cred.BaseURL))
		}
		if timeout > 0 {
			opts = append(opts, eodhd.WithTimeout(timeout))
		}
		return eodhd.NewClient(key, opts...), nil

	case models.ProviderFMP:
		opts := []fmp.ClientOption{fmp.WithLogger(f.logger), fmp.WithRateLimit(cred.RequestsPerMinute)}
		if cred.BaseURL != "" {
			opts = append(opts, fmp.WithBaseURL(cred.BaseURL))
		}
		if timeout > 0 {
			opts = append(opts, fmp.WithTimeout(timeout))
		}
		return fmp.NewClient(key, opts...), nil

	case models.ProviderAlphaVantage:
		opts := []alphavantage.ClientOption{alphavantage.WithLogger(f.logger), alphavantage.WithRateLimit(cred.RequestsPerMinute)}
		if cred.BaseURL != "" {
			opts = append(opts, alphavantage.WithBaseURL(cred.BaseURL))
		}
		if timeout > 0 {
			opts = append(opts, alphavantage.WithTimeout(timeout))
		}
		return alphavantage.NewClient(key, opts...), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cred.Provider)
}
