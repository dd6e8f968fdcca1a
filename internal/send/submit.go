package send

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const boostTimeout = 30 * time.Second

// Submitter signs and submits fully prepared batches.
type Submitter struct {
	Wallet   Wallet
	Signer   SigningOracle
	Channel  SubmissionChannel
	Booster  Booster
	Progress ProgressIndicator
	Messages MessageLog
	Logger   *zap.Logger
	// Background runs boost notifications. When nil they run before Submit returns.
	Background *errgroup.Group
}

// Submit returns the op hash on success. In silent mode no progress is shown.
func (s *Submitter) Submit(ctx context.Context, ops []FullyPreparedTransaction, account Account, silent bool) Result {
	ctx, span := tracer.Start(ctx, "send.submit", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.Int("ops", len(ops)), attribute.Bool("silent", silent))
	start := time.Now()
	res := s.submit(ctx, ops, account, silent)
	stageDuration.WithLabelValues("submit").Observe(time.Since(start).Seconds())
	if res.Outcome != OutcomeSuccess {
		span.SetStatus(codes.Error, string(res.Kind))
	}
	span.End()
	return res
}

func (s *Submitter) submit(ctx context.Context, ops []FullyPreparedTransaction, account Account, silent bool) Result {
	logger := s.logger().With(zap.String("address", account.Address))
	if s.Wallet == nil || !s.Wallet.Capability().canSignSilently() {
		return Failure(ErrUnsupportedWalletType, "")
	}
	if len(ops) == 0 {
		logger.Error("submit called with an empty batch")
		return Failure(ErrSubmissionUnknown, "")
	}
	for i, op := range ops {
		if op.Kind != KindTransaction {
			logger.Warn("unsupported operation kind", zap.Int("index", i), zap.String("kind", op.Kind))
			return Failure(ErrUnsupportedKind, "")
		}
	}

	if !silent {
		s.Progress.Start(sendingMessage)
	}
	defer s.Progress.Stop()

	unlock := acquireAccountLock(account.Pkh)
	defer unlock()

	keys, err := s.Signer.GetKeys(ctx, "", account.Pkh)
	if err != nil || keys == nil {
		logger.Error("get signing keys", zap.Error(err))
		return Failure(ErrFailedToSign, "")
	}

	fee := ops[len(ops)-1].Fee
	ans, err := s.Channel.Transfer(ctx, account.Address, ops, fee, keys, "")
	if err != nil {
		logger.Error("submit transfer", zap.Error(err))
		return Failure(ErrSubmissionUnknown, "")
	}
	if !ans.Success {
		logger.Warn("transfer rejected", zap.String("msg", ans.Msg))
		if s.Messages != nil {
			s.Messages.AddError(ans.Msg)
		}
		return Failure(ErrBroadcast, ans.Msg)
	}

	logger.Info("transaction injected", zap.String("op_hash", ans.OpHash))
	s.boost(ctx, ops, account, ans.OpHash)
	return Success(ans.OpHash)
}

// boost notifies the sender with the batch metadata and every distinct
// recipient that is a managed account.
func (s *Submitter) boost(ctx context.Context, ops []FullyPreparedTransaction, account Account, opHash string) {
	if s.Booster == nil {
		return
	}
	type target struct {
		address  string
		metadata *BoostMetadata
	}
	targets := []target{{account.Address, &BoostMetadata{Transactions: ops, OpHash: opHash}}}
	seen := map[string]bool{account.Address: true}
	for _, op := range ops {
		if seen[op.Destination] || s.Wallet == nil || !s.Wallet.AddressExists(op.Destination) {
			continue
		}
		seen[op.Destination] = true
		targets = append(targets, target{address: op.Destination})
	}

	bctx := context.WithoutCancel(ctx)
	run := func() error {
		ctx, cancel := context.WithTimeout(bctx, boostTimeout)
		defer cancel()
		for _, t := range targets {
			if err := s.Booster.Boost(ctx, t.address, t.metadata); err != nil {
				boostsTotal.WithLabelValues("error").Inc()
				s.logger().Warn("boost failed", zap.String("address", t.address), zap.Error(err))
				continue
			}
			boostsTotal.WithLabelValues("ok").Inc()
		}
		return nil
	}
	if s.Background == nil {
		_ = run()
		return
	}
	s.Background.Go(run)
}

func (s *Submitter) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
