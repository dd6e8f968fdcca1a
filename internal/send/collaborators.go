package send

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/sendflow/internal/tokens"
)

type CustomLimit struct {
	GasLimit     Quantity `json:"gasLimit"`
	StorageLimit Quantity `json:"storageLimit"`
}

type SimulationError struct {
	Message string `json:"message"`
}

// SimulationResult is what the estimation oracle reports for a batch. Fee is
// the aggregate network fee in the native major unit.
type SimulationResult struct {
	Error        *SimulationError `json:"error,omitempty"`
	Fee          Quantity         `json:"fee"`
	CustomLimits []CustomLimit    `json:"customLimits"`
}

// EstimationOracle simulates batches. EstimateTransactions returns a nil
// result when the oracle produced nothing.
type EstimationOracle interface {
	PreLoadData(ctx context.Context, pkh, pk string) error
	EstimateTransactions(ctx context.Context, txs []PartiallyPreparedTransaction, pkh, tokenTransfer string) (*SimulationResult, error)
	CostPerByte() string
}

type TokenRegistry interface {
	IsKnownTokenContract(address string) bool
	IsKnownTokenID(id string) bool
	Asset(id string) (tokens.Asset, bool)
}

type OperationParser interface {
	ParseTokenTransfer(destination, entrypoint string, value json.RawMessage) (tokens.Transfer, bool)
}

type DataValidator interface {
	AssertValid(value json.RawMessage) error
}

// Keys is short-lived signing material for one submission.
type Keys struct {
	Pkh        string
	PublicKey  string
	PrivateKey *ecdsa.PrivateKey
}

// String keeps key material out of logs.
func (k *Keys) String() string {
	if k == nil {
		return "<nil>"
	}
	return fmt.Sprintf("keys(%s)", k.Pkh)
}

type SigningOracle interface {
	GetKeys(ctx context.Context, passphrase, pkh string) (*Keys, error)
}

type TransferAnswer struct {
	Success bool   `json:"success"`
	OpHash  string `json:"opHash,omitempty"`
	Msg     string `json:"msg,omitempty"`
}

type SubmissionChannel interface {
	Transfer(ctx context.Context, from string, ops []FullyPreparedTransaction, fee string, keys *Keys, memo string) (TransferAnswer, error)
}

type BoostMetadata struct {
	Transactions []FullyPreparedTransaction `json:"transactions"`
	OpHash       string                     `json:"opHash"`
}

// Booster refreshes cached chain state for an address. metadata is only set for the sender.
type Booster interface {
	Boost(ctx context.Context, address string, metadata *BoostMetadata) error
}

// ProgressIndicator must tolerate Stop without a running Start.
type ProgressIndicator interface {
	Start(message string)
	Stop()
}

type MessageLog interface {
	AddError(message string)
}

type Wallet interface {
	Capability() SigningCapability
	ExchangeRate(ctx context.Context) (decimal.Decimal, bool)
	Mainnet() bool
	AddressExists(address string) bool
}
