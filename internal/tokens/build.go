package tokens

import (
	"encoding/json"
	"fmt"
	"strings"
)

type expr = map[string]any

func str(v string) expr { return expr{"string": v} }

func integer(v string) expr { return expr{"int": v} }

func pair(args ...any) expr { return expr{"prim": "Pair", "args": args} }

// TransferValue builds the "transfer" entrypoint argument moving amount base
// units of asset from one account to another.
func TransferValue(asset Asset, from, to, amount string) (json.RawMessage, error) {
	from, to, amount = strings.TrimSpace(from), strings.TrimSpace(to), strings.TrimSpace(amount)
	if from == "" || to == "" {
		return nil, fmt.Errorf("transfer requires sender and recipient")
	}
	if amount == "" || strings.HasPrefix(amount, "-") {
		return nil, fmt.Errorf("transfer amount must be a non-negative integer")
	}
	var value any
	switch asset.Standard {
	case StandardFA12:
		value = pair(str(from), pair(str(to), integer(amount)))
	case StandardFA2:
		value = []any{pair(str(from), []any{pair(str(to), pair(integer(asset.TokenID), integer(amount)))})}
	default:
		return nil, fmt.Errorf("token %s has unsupported standard %q", asset.ID, asset.Standard)
	}
	return json.Marshal(value)
}
