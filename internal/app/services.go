package app

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ggonzalez94/sendflow/internal/boost"
	"github.com/ggonzalez94/sendflow/internal/broadcast"
	"github.com/ggonzalez94/sendflow/internal/config"
	clierr "github.com/ggonzalez94/sendflow/internal/errors"
	"github.com/ggonzalez94/sendflow/internal/estimate"
	"github.com/ggonzalez94/sendflow/internal/httpx"
	"github.com/ggonzalez94/sendflow/internal/journal"
	"github.com/ggonzalez94/sendflow/internal/micheline"
	"github.com/ggonzalez94/sendflow/internal/policy"
	"github.com/ggonzalez94/sendflow/internal/progress"
	"github.com/ggonzalez94/sendflow/internal/rates"
	"github.com/ggonzalez94/sendflow/internal/send"
	"github.com/ggonzalez94/sendflow/internal/signer"
	"github.com/ggonzalez94/sendflow/internal/telemetry"
	"github.com/ggonzalez94/sendflow/internal/tokens"
	"github.com/ggonzalez94/sendflow/internal/version"
	"github.com/ggonzalez94/sendflow/internal/wallet"
)

// services are the long-lived collaborators opened lazily by commands that need them.
type services struct {
	pipeline *send.Pipeline
	messages *send.ZapMessageLog
	registry *tokens.Registry
	journal  *journal.Store
	closers  []func() error
}

func (s *services) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

func (s *runtimeState) openRegistry() (*tokens.Registry, error) {
	registry, err := tokens.LoadRegistry(s.settings.TokenRegistryPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "load token registry", err)
	}
	return registry, nil
}

func (s *runtimeState) openJournal() (*journal.Store, error) {
	if s.journal != nil {
		return s.journal, nil
	}
	store, err := journal.OpenStore(s.settings.JournalPath, s.settings.JournalLockPath, s.logger)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open journal", err)
	}
	s.journal = store
	return store, nil
}

// openServices wires the send pipeline from settings.
func (s *runtimeState) openServices(ctx context.Context) (*services, error) {
	if s.svc != nil {
		return s.svc, nil
	}
	settings := s.settings
	if strings.TrimSpace(settings.EstimatorURL) == "" {
		return nil, clierr.New(clierr.CodeUsage, "estimator url is required (estimator.url or SENDFLOW_ESTIMATOR_URL)")
	}
	if strings.TrimSpace(settings.InjectURL) == "" {
		return nil, clierr.New(clierr.CodeUsage, "inject url is required (inject.url or SENDFLOW_INJECT_URL)")
	}

	svc := &services{}
	fail := func(err error) (*services, error) {
		svc.close()
		return nil, err
	}

	shutdown, err := telemetry.Setup(ctx, settings.OTLPEndpoint, version.CLIVersion, s.logger)
	if err != nil {
		return fail(clierr.Wrap(clierr.CodeUsage, "configure tracing", err))
	}
	svc.closers = append(svc.closers, func() error { return shutdown(context.Background()) })

	registry, err := s.openRegistry()
	if err != nil {
		return fail(err)
	}
	svc.registry = registry

	keys, err := signer.NewFromEnv(settings.KeySource, s.privateKey)
	if err != nil {
		return fail(clierr.Wrap(clierr.CodeUsage, "configure signer", err))
	}

	httpClient := httpx.New(settings.Timeout, settings.Retries).
		UserAgent(version.CLIName + "/" + version.CLIVersion).
		WithLogger(s.logger)
	var rateStore *rates.Store
	if settings.CacheEnabled {
		rateStore, err = rates.OpenStore(settings.RatesCachePath, settings.RatesLockPath)
		if err != nil {
			return fail(clierr.Wrap(clierr.CodeInternal, "open rate cache", err))
		}
		svc.closers = append(svc.closers, rateStore.Close)
	}
	rateSource := rates.NewSource(rates.Config{
		URL:      settings.RatesURL,
		Pair:     settings.RatesPair,
		TTL:      settings.RatesTTL,
		MaxStale: settings.MaxStale,
	}, httpClient.Named("rates"), rateStore, s.logger)

	w := wallet.New(wallet.Options{
		External: settings.WalletType == config.WalletExternal,
		Mainnet:  settings.Mainnet(),
		Managed:  settings.ManagedAccounts,
		Keys:     keys,
		Rates:    rateSource,
		Logger:   s.logger,
	})

	booster, err := s.openBooster()
	if err != nil {
		return fail(err)
	}
	svc.closers = append(svc.closers, booster.Close)

	store, err := s.openJournal()
	if err != nil {
		return fail(err)
	}
	svc.journal = store

	indicator := s.runner.progress
	if indicator == nil {
		indicator = progress.ForStderr()
	}
	svc.messages = send.NewZapMessageLog(s.logger, 0)
	svc.pipeline = send.New(send.Deps{
		Oracle:    estimate.New(httpClient.Named("estimator"), settings.EstimatorURL, settings.EstimatorAPIKey, s.logger),
		Registry:  registry,
		Parser:    tokens.NewParser(registry),
		Validator: micheline.Validator{},
		Signer:    keys,
		Channel:   broadcast.New(httpClient.Named("inject"), settings.InjectURL, s.logger),
		Booster:   booster,
		Progress:  indicator,
		Messages:  svc.messages,
		Wallet:    w,
		Policy:    policy.NewEngine(settings.Threshold, settings.FallbackRate),
		Logger:    s.logger,
	})
	svc.closers = append(svc.closers, svc.pipeline.Wait)
	s.svc = svc
	return svc, nil
}

type closableBooster interface {
	send.Booster
	Close() error
}

func (s *runtimeState) openBooster() (closableBooster, error) {
	settings := s.settings
	switch settings.BoostBackend {
	case config.BoostRedis:
		client := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
		s.logger.Debug("boost backend redis", zap.String("addr", settings.RedisAddr), zap.String("stream", settings.RedisStream))
		return boost.NewRedisStream(client, settings.RedisStream, 10000), nil
	case config.BoostKafka:
		s.logger.Debug("boost backend kafka", zap.Strings("brokers", settings.KafkaBrokers), zap.String("topic", settings.KafkaTopic))
		return boost.NewKafka(settings.KafkaBrokers, settings.KafkaTopic), nil
	default:
		return boost.Nop{}, nil
	}
}
