package policy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var storageUnitsPerFeeUnit = decimal.NewFromInt(1_000_000)

// Line is the part of a prepared operation that fee and threshold math reads.
type Line struct {
	Amount       string
	Fee          string
	StorageLimit string
}

// TemplateFee holds decimal strings in the fee unit.
type TemplateFee struct {
	Network string `json:"network"`
	Storage string `json:"storage"`
	Total   string `json:"total"`
}

// ComputeFee sums per-operation fees and prices the aggregate storage limit.
func ComputeFee(lines []Line, costPerByte string) (TemplateFee, error) {
	cost, err := parseDecimal("cost per byte", costPerByte)
	if err != nil {
		return TemplateFee{}, err
	}
	network := decimal.Zero
	storageLimit := decimal.Zero
	for i, line := range lines {
		fee, err := parseDecimal(fmt.Sprintf("operation %d fee", i), line.Fee)
		if err != nil {
			return TemplateFee{}, err
		}
		limit, err := parseDecimal(fmt.Sprintf("operation %d storage limit", i), line.StorageLimit)
		if err != nil {
			return TemplateFee{}, err
		}
		network = network.Add(fee)
		storageLimit = storageLimit.Add(limit)
	}
	storage := storageLimit.Mul(cost).Div(storageUnitsPerFeeUnit)
	return TemplateFee{
		Network: network.String(),
		Storage: storage.String(),
		Total:   network.Add(storage).String(),
	}, nil
}

// empty fields count as zero
func parseDecimal(field, v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", field, v, err)
	}
	return d, nil
}
