package send

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

var errMissingEntrypointOrValue = errors.New("entrypoint and value expected")

// ValidateParameters checks every operation that carries call parameters and
// fails the whole batch on the first malformed one.
func ValidateParameters(txs []PartiallyPreparedTransaction, validator DataValidator) error {
	for i, tx := range txs {
		if tx.Parameters == nil {
			continue
		}
		value := bytes.TrimSpace(tx.Parameters.Value)
		if len(value) == 0 || bytes.Equal(value, []byte("null")) || strings.TrimSpace(tx.Parameters.Entrypoint) == "" {
			return fmt.Errorf("operation %d: %w", i, errMissingEntrypointOrValue)
		}
		if err := validator.AssertValid(value); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return nil
}
