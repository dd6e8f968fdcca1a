package units

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/sendflow/internal/errors"
)

// NativeDecimals is the decimal count of the chain's native unit (1 tez = 10^6 mutez).
const NativeDecimals = 6

var (
	decimalPattern  = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
	baseUnitPattern = regexp.MustCompile(`^[0-9]+$`)
)

// FormatUnits converts a non-negative base-unit integer string into a decimal string
// with trailing zeros trimmed, e.g. ("5000000", 6) -> "5".
func FormatUnits(baseUnits string, decimals int) (string, error) {
	clean := strings.TrimSpace(baseUnits)
	if clean == "" {
		return "", clierr.New(clierr.CodeUsage, "amount is required")
	}
	if decimals < 0 {
		return "", clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}
	if !baseUnitPattern.MatchString(clean) {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("amount %q must be a non-negative integer string", baseUnits))
	}
	return formatDecimal(clean, decimals), nil
}

// ParseUnits converts a decimal string back into base units. It rejects values with
// more fractional digits than decimals allows.
func ParseUnits(decimal string, decimals int) (string, error) {
	clean := strings.TrimSpace(decimal)
	if decimals < 0 {
		return "", clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}
	if !decimalPattern.MatchString(clean) {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("amount %q must be in decimal form like 1.23", decimal))
	}
	return decimalToBaseUnits(clean, decimals)
}

// NormalizeDecimal strips redundant leading and trailing zeros.
func NormalizeDecimal(v string) string {
	return normalizeDecimal(strings.TrimSpace(v))
}

func formatDecimal(baseUnits string, decimals int) string {
	n := new(big.Int)
	n.SetString(baseUnits, 10)
	if decimals == 0 {
		return n.String()
	}

	s := n.String()
	if len(s) <= decimals {
		pad := strings.Repeat("0", decimals-len(s)+1)
		s = pad + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := s[len(s)-decimals:]
	fracPart = strings.TrimRight(fracPart, "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

func decimalToBaseUnits(decimal string, decimals int) (string, error) {
	parts := strings.SplitN(decimal, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = strings.TrimRight(parts[1], "0")
	}
	if len(fracPart) > decimals {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}

	fracPart = fracPart + strings.Repeat("0", decimals-len(fracPart))
	combined := intPart + fracPart
	combined = strings.TrimLeft(combined, "0")
	if combined == "" {
		return "0", nil
	}
	if _, ok := new(big.Int).SetString(combined, 10); !ok {
		return "", clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	return combined, nil
}

func normalizeDecimal(v string) string {
	if !strings.Contains(v, ".") {
		out := strings.TrimLeft(v, "0")
		if out == "" {
			return "0"
		}
		return out
	}
	parts := strings.SplitN(v, ".", 2)
	intPart := strings.TrimLeft(parts[0], "0")
	if intPart == "" {
		intPart = "0"
	}
	fracPart := strings.TrimRight(parts[1], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}
