package send

import (
	"github.com/ggonzalez94/sendflow/internal/tokens"
)

// DetectTokenTransfer reports the token movement op encodes, if it targets a
// known token contract and names a known token id.
func DetectTokenTransfer(op PartiallyPreparedTransaction, registry TokenRegistry, parser OperationParser) (tokens.Transfer, bool) {
	if op.Parameters == nil || registry == nil || parser == nil {
		return tokens.Transfer{}, false
	}
	if !registry.IsKnownTokenContract(op.Destination) {
		return tokens.Transfer{}, false
	}
	transfer, ok := parser.ParseTokenTransfer(op.Destination, op.Parameters.Entrypoint, op.Parameters.Value)
	if !ok || !registry.IsKnownTokenID(transfer.TokenID) {
		return tokens.Transfer{}, false
	}
	return transfer, true
}
