package send

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ggonzalez94/sendflow/internal/units"
)

// Normalized is a canonical batch ready for simulation. TokenTransfer is the
// detected token id, or empty.
type Normalized struct {
	Transactions  []PartiallyPreparedTransaction
	TokenTransfer string
}

type Normalizer struct {
	Registry  TokenRegistry
	Parser    OperationParser
	Validator DataValidator
	Messages  MessageLog
	Logger    *zap.Logger
}

// Normalize turns raw operations into partially prepared transactions.
// Every failure is an *Error of kind invalid_parameters.
func (n *Normalizer) Normalize(raw []RawOperation, template *Template, capability SigningCapability) (Normalized, error) {
	logger := n.logger()
	if template != nil && template.Silent {
		if embedded, ok := capability.(Embedded); ok && !embedded.PrivateKeyMaterial {
			logger.Warn("silent template requested without key material")
			return Normalized{}, fail(ErrInvalidParameters, "", nil)
		}
	}
	if len(raw) == 0 {
		return Normalized{}, fail(ErrInvalidParameters, "", fmt.Errorf("no operations"))
	}

	txs := make([]PartiallyPreparedTransaction, 0, len(raw))
	for i, op := range raw {
		if op.Kind != KindTransaction {
			logger.Warn("unsupported operation kind", zap.Int("index", i), zap.String("kind", op.Kind))
			return Normalized{}, fail(ErrInvalidParameters, "", fmt.Errorf("invalid op kind %q", op.Kind))
		}
		amount, err := units.FormatUnits(op.Amount.String(), units.NativeDecimals)
		if err != nil {
			logger.Warn("invalid operation amount", zap.Int("index", i), zap.String("amount", op.Amount.String()))
			return Normalized{}, fail(ErrInvalidParameters, "", err)
		}
		txs = append(txs, PartiallyPreparedTransaction{
			Kind:                  KindTransaction,
			Destination:           op.Destination,
			Amount:                amount,
			Parameters:            op.Parameters.clone(),
			GasRecommendation:     op.GasLimit.String(),
			StorageRecommendation: op.StorageLimit.String(),
		})
	}

	if err := ValidateParameters(txs, n.Validator); err != nil {
		if n.Messages != nil {
			n.Messages.AddError("Invalid parameters: " + err.Error())
		}
		return Normalized{}, fail(ErrInvalidParameters, "", err)
	}

	if len(txs) != 1 || template != nil {
		return Normalized{Transactions: txs}, nil
	}
	transfer, ok := DetectTokenTransfer(txs[0], n.Registry, n.Parser)
	if !ok {
		return Normalized{Transactions: txs}, nil
	}
	asset, ok := n.Registry.Asset(transfer.TokenID)
	if !ok {
		return Normalized{Transactions: txs}, nil
	}
	amount, err := units.FormatUnits(transfer.Amount, asset.Decimals)
	if err != nil {
		logger.Debug("token amount not representable, treating as plain transfer", zap.Error(err))
		return Normalized{Transactions: txs}, nil
	}
	txs[0].Destination = transfer.To
	txs[0].Amount = amount
	txs[0].Parameters = nil
	return Normalized{Transactions: txs, TokenTransfer: transfer.TokenID}, nil
}

func (n *Normalizer) logger() *zap.Logger {
	if n.Logger == nil {
		return zap.NewNop()
	}
	return n.Logger
}
