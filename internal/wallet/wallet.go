// Package wallet describes the active wallet to the send pipeline.
package wallet

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ggonzalez94/sendflow/internal/send"
)

type RateSource interface {
	Rate(ctx context.Context) (decimal.Decimal, error)
}

type KeyHolder interface {
	HasKeyMaterial() bool
}

type Options struct {
	External bool
	Mainnet  bool
	Managed  []string
	Keys     KeyHolder
	Rates    RateSource
	Logger   *zap.Logger
}

type Wallet struct {
	external bool
	mainnet  bool
	managed  map[string]struct{}
	keys     KeyHolder
	rates    RateSource
	logger   *zap.Logger
}

func New(opts Options) *Wallet {
	managed := make(map[string]struct{}, len(opts.Managed))
	for _, addr := range opts.Managed {
		if addr = strings.TrimSpace(addr); addr != "" {
			managed[addr] = struct{}{}
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Wallet{
		external: opts.External,
		mainnet:  opts.Mainnet,
		managed:  managed,
		keys:     opts.Keys,
		rates:    opts.Rates,
		logger:   logger,
	}
}

func (w *Wallet) Capability() send.SigningCapability {
	if w.external {
		return send.External{}
	}
	return send.Embedded{PrivateKeyMaterial: w.keys != nil && w.keys.HasKeyMaterial()}
}

// ExchangeRate is best effort: a failed lookup reports the rate as unavailable.
func (w *Wallet) ExchangeRate(ctx context.Context) (decimal.Decimal, bool) {
	if w.rates == nil {
		return decimal.Zero, false
	}
	rate, err := w.rates.Rate(ctx)
	if err != nil {
		w.logger.Warn("exchange rate unavailable", zap.Error(err))
		return decimal.Zero, false
	}
	return rate, true
}

func (w *Wallet) Mainnet() bool {
	return w.mainnet
}

// AddressExists reports whether address belongs to an account this wallet manages.
func (w *Wallet) AddressExists(address string) bool {
	_, ok := w.managed[strings.TrimSpace(address)]
	return ok
}
