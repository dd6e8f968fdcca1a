// Package rates resolves the native unit's fiat exchange rate used by the
// silent-injection threshold.
package rates

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ggonzalez94/sendflow/internal/httpx"
)

type Config struct {
	URL      string
	Pair     string
	TTL      time.Duration
	MaxStale time.Duration
}

// Source fetches the rate over HTTP, caches it in Store and collapses
// concurrent refreshes into one request.
type Source struct {
	cfg    Config
	http   *httpx.Client
	store  *Store
	logger *zap.Logger
	group  singleflight.Group
}

func NewSource(cfg Config, httpClient *httpx.Client, store *Store, logger *zap.Logger) *Source {
	if cfg.Pair == "" {
		cfg.Pair = "xtz/usd"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, http: httpClient, store: store, logger: logger}
}

type rateResponse struct {
	Rate decimal.Decimal `json:"rate"`
}

// Rate returns a fresh rate, or a stale cached one within the stale budget
// when the upstream is unavailable.
func (s *Source) Rate(ctx context.Context) (decimal.Decimal, error) {
	var cached Entry
	var hit bool
	if s.store != nil {
		var err error
		cached, hit, err = s.store.Get(s.cfg.Pair, s.cfg.MaxStale)
		if err != nil {
			s.logger.Warn("rate cache read failed", zap.Error(err))
		}
		if hit && !cached.Stale {
			return cached.Rate, nil
		}
	}
	if s.cfg.URL == "" {
		if hit && !cached.TooStale {
			return cached.Rate, nil
		}
		return decimal.Zero, fmt.Errorf("no rate source configured")
	}

	v, err, _ := s.group.Do(s.cfg.Pair, func() (interface{}, error) {
		return s.fetch(ctx)
	})
	if err != nil {
		if hit && !cached.TooStale {
			s.logger.Warn("rate refresh failed, using stale rate", zap.Error(err), zap.Duration("age", cached.Age))
			return cached.Rate, nil
		}
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

func (s *Source) fetch(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build rate request: %w", err)
	}
	var resp rateResponse
	if _, err := s.http.DoJSON(ctx, req, &resp); err != nil {
		return decimal.Zero, err
	}
	if !resp.Rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("rate source returned non-positive rate %s", resp.Rate)
	}
	if s.store != nil {
		if err := s.store.Put(s.cfg.Pair, resp.Rate, s.cfg.TTL); err != nil {
			s.logger.Warn("rate cache write failed", zap.Error(err))
		}
	}
	return resp.Rate, nil
}
