package send

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	preparingMessage = "Preparing transaction..."
	sendingMessage   = "Sending transaction..."
)

var tracer = otel.Tracer("github.com/ggonzalez94/sendflow/internal/send")

type Simulator struct {
	Oracle   EstimationOracle
	Progress ProgressIndicator
	Messages MessageLog
	Logger   *zap.Logger
}

// Simulate estimates txs for account and attaches per-operation limits. Only
// the last transaction carries the batch fee. The progress indicator is
// stopped on every return path.
func (s *Simulator) Simulate(ctx context.Context, txs []PartiallyPreparedTransaction, account Account, tokenTransfer string, showProgress bool) (_ []FullyPreparedTransaction, err error) {
	ctx, span := tracer.Start(ctx, "send.simulate", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(attribute.Int("ops", len(txs)), attribute.String("token_transfer", tokenTransfer))
	start := time.Now()
	defer func() {
		stageDuration.WithLabelValues("simulate").Observe(time.Since(start).Seconds())
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if showProgress {
		s.Progress.Start(preparingMessage)
	}
	defer s.Progress.Stop()

	logger := s.logger().With(zap.String("pkh", account.Pkh))
	if err := s.Oracle.PreLoadData(ctx, account.Pkh, account.PublicKey); err != nil {
		logger.Error("pre-load estimation data", zap.Error(err))
		return nil, fail(ErrUnknown, "", err)
	}
	res, err := s.Oracle.EstimateTransactions(ctx, cloneTransactions(txs), account.Pkh, tokenTransfer)
	if err != nil {
		logger.Error("estimate transactions", zap.Error(err))
		return nil, fail(ErrUnknown, "", err)
	}
	if res == nil {
		logger.Error("no simulation result")
		return nil, fail(ErrUnknown, "", fmt.Errorf("no simulation result"))
	}
	if res.Error != nil {
		if s.Messages != nil {
			s.Messages.AddError("Simulation error: " + res.Error.Message)
		}
		return nil, fail(ErrInvalidParameters, res.Error.Message, nil)
	}
	if len(res.CustomLimits) < len(txs) {
		logger.Error("simulation returned too few limits", zap.Int("ops", len(txs)), zap.Int("limits", len(res.CustomLimits)))
		return nil, fail(ErrUnknown, "", fmt.Errorf("got %d limits for %d operations", len(res.CustomLimits), len(txs)))
	}

	out := make([]FullyPreparedTransaction, len(txs))
	for i, tx := range txs {
		fee := "0"
		if i == len(txs)-1 {
			fee = res.Fee.String()
		}
		out[i] = FullyPreparedTransaction{
			PartiallyPreparedTransaction: tx.clone(),
			Fee:                          fee,
			GasLimit:                     res.CustomLimits[i].GasLimit.String(),
			StorageLimit:                 res.CustomLimits[i].StorageLimit.String(),
		}
	}
	return out, nil
}

func (s *Simulator) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
