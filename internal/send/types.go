package send

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ggonzalez94/sendflow/internal/policy"
)

const KindTransaction = "transaction"

// Quantity is a numeric field that callers send either as a JSON string or a JSON number.
// The textual form is preserved.
type Quantity string

func (q *Quantity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*q = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*q = Quantity(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("quantity must be a string or number: %w", err)
	}
	*q = Quantity(n.String())
	return nil
}

func (q Quantity) String() string { return string(q) }

type Parameters struct {
	Entrypoint string          `json:"entrypoint"`
	Value      json.RawMessage `json:"value"`
}

func (p *Parameters) clone() *Parameters {
	if p == nil {
		return nil
	}
	out := &Parameters{Entrypoint: p.Entrypoint}
	if p.Value != nil {
		out.Value = append(json.RawMessage(nil), p.Value...)
	}
	return out
}

// RawOperation is one operation as received from a dApp, a template or the CLI.
type RawOperation struct {
	Kind         string      `json:"kind"`
	Destination  string      `json:"destination"`
	Amount       Quantity    `json:"amount"`
	Parameters   *Parameters `json:"parameters,omitempty"`
	GasLimit     Quantity    `json:"gas_limit,omitempty"`
	StorageLimit Quantity    `json:"storage_limit,omitempty"`
}

// ParseOperations accepts either a bare JSON array of operations or an
// object wrapping them in "operationDetails".
func ParseOperations(body []byte) ([]RawOperation, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty operation request")
	}
	var ops []RawOperation
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &ops); err != nil {
			return nil, fmt.Errorf("decode operations: %w", err)
		}
	} else {
		var wrapped struct {
			OperationDetails []RawOperation `json:"operationDetails"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode operation request: %w", err)
		}
		ops = wrapped.OperationDetails
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("operation request has no operations")
	}
	return ops, nil
}

type PartiallyPreparedTransaction struct {
	Kind                  string      `json:"kind"`
	Destination           string      `json:"destination"`
	Amount                string      `json:"amount"`
	Parameters            *Parameters `json:"parameters,omitempty"`
	GasRecommendation     string      `json:"gasRecommendation,omitempty"`
	StorageRecommendation string      `json:"storageRecommendation,omitempty"`
}

func (t PartiallyPreparedTransaction) clone() PartiallyPreparedTransaction {
	t.Parameters = t.Parameters.clone()
	return t
}

// cloneTransactions returns a copy sharing no mutable state with txs.
func cloneTransactions(txs []PartiallyPreparedTransaction) []PartiallyPreparedTransaction {
	out := make([]PartiallyPreparedTransaction, len(txs))
	for i, tx := range txs {
		out[i] = tx.clone()
	}
	return out
}

type FullyPreparedTransaction struct {
	PartiallyPreparedTransaction
	Fee          string `json:"fee"`
	GasLimit     string `json:"gasLimit"`
	StorageLimit string `json:"storageLimit"`
}

func feeLines(ops []FullyPreparedTransaction) []policy.Line {
	lines := make([]policy.Line, len(ops))
	for i, op := range ops {
		lines[i] = policy.Line{Amount: op.Amount, Fee: op.Fee, StorageLimit: op.StorageLimit}
	}
	return lines
}

type Account struct {
	Address   string `json:"address"`
	Pkh       string `json:"pkh"`
	PublicKey string `json:"pk"`
}

type Template struct {
	Name   string `json:"name"`
	Silent bool   `json:"silent"`
}

type TemplateRequest struct {
	Template   Template                       `json:"template"`
	PartialOps []PartiallyPreparedTransaction `json:"partialOps"`
	Ops        []FullyPreparedTransaction     `json:"ops,omitempty"`
	Fee        *policy.TemplateFee            `json:"fee,omitempty"`
}

type ConfirmRequest struct {
	Account       Account                    `json:"account"`
	TokenTransfer string                     `json:"tokenTransfer"`
	Transactions  []FullyPreparedTransaction `json:"transactions"`
	ExternalReq   bool                       `json:"externalReq"`
}

type PrepareRequest struct {
	Account       Account `json:"account"`
	TokenTransfer string  `json:"tokenTransfer"`
	Symbol        string  `json:"symbol"`
}

// PendingAction is the single step a session is waiting on.
type PendingAction interface {
	pendingName() string
}

type PendingNone struct{}

type PendingPrepare struct{ Request PrepareRequest }

type PendingConfirm struct{ Request ConfirmRequest }

type PendingTemplate struct{ Request TemplateRequest }

func (PendingNone) pendingName() string     { return "none" }
func (PendingPrepare) pendingName() string  { return "prepare" }
func (PendingConfirm) pendingName() string  { return "confirm" }
func (PendingTemplate) pendingName() string { return "template" }

// PendingName reports the variant of a as a stable string.
func PendingName(a PendingAction) string {
	if a == nil {
		return PendingNone{}.pendingName()
	}
	return a.pendingName()
}

// SigningCapability describes how the active wallet can sign.
type SigningCapability interface {
	canSignSilently() bool
}

// Embedded wallets hold key material in-process.
type Embedded struct {
	PrivateKeyMaterial bool
}

// External wallets sign elsewhere and cannot auto-inject.
type External struct{}

func (Embedded) canSignSilently() bool { return true }
func (External) canSignSilently() bool { return false }
