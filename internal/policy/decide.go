package policy

import (
	"github.com/shopspring/decimal"
)

type Decision int

const (
	// DecisionConfirm hands the prepared batch to manual confirmation.
	DecisionConfirm Decision = iota
	// DecisionTemplateApproval waits for the caller to approve a non-silent template.
	DecisionTemplateApproval
	DecisionAutoInject
	// DecisionExceeded rejects a silent template whose fiat value is above the threshold.
	DecisionExceeded
)

func (d Decision) String() string {
	switch d {
	case DecisionConfirm:
		return "confirm"
	case DecisionTemplateApproval:
		return "template_approval"
	case DecisionAutoInject:
		return "auto_inject"
	case DecisionExceeded:
		return "exceeded_threshold"
	default:
		return "unknown"
	}
}

type TemplateMode int

const (
	NoTemplate TemplateMode = iota
	InteractiveTemplate
	SilentTemplate
)

// Rate is the wallet's fiat exchange rate as observed at decision time.
type Rate struct {
	Value     decimal.Decimal
	Available bool
	Mainnet   bool
}

var (
	DefaultThreshold    = decimal.NewFromInt(50)
	DefaultFallbackRate = decimal.NewFromInt(5)
)

// Engine gates silent template injection on a fiat threshold.
type Engine struct {
	Threshold    decimal.Decimal
	FallbackRate decimal.Decimal
}

func NewEngine(threshold, fallbackRate decimal.Decimal) Engine {
	if !threshold.IsPositive() {
		threshold = DefaultThreshold
	}
	if !fallbackRate.IsPositive() {
		fallbackRate = DefaultFallbackRate
	}
	return Engine{Threshold: threshold, FallbackRate: fallbackRate}
}

// EffectiveRate is the wallet rate on mainnet when it is known, else the fallback.
func (e Engine) EffectiveRate(rate Rate) decimal.Decimal {
	if rate.Mainnet && rate.Available && rate.Value.IsPositive() {
		return rate.Value
	}
	return e.fallback()
}

// FiatValue prices the batch amounts plus the total fee.
func (e Engine) FiatValue(lines []Line, fee TemplateFee, rate Rate) (decimal.Decimal, error) {
	sum, err := parseDecimal("total fee", fee.Total)
	if err != nil {
		return decimal.Zero, err
	}
	for _, line := range lines {
		amount, err := parseDecimal("amount", line.Amount)
		if err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(amount)
	}
	return sum.Mul(e.EffectiveRate(rate)), nil
}

// Decide picks the next step for a simulated batch. A fiat value equal to the
// threshold still auto-injects.
func (e Engine) Decide(lines []Line, fee TemplateFee, mode TemplateMode, rate Rate) (Decision, error) {
	switch mode {
	case NoTemplate:
		return DecisionConfirm, nil
	case InteractiveTemplate:
		return DecisionTemplateApproval, nil
	}
	fiat, err := e.FiatValue(lines, fee, rate)
	if err != nil {
		return DecisionConfirm, err
	}
	if fiat.GreaterThan(e.threshold()) {
		return DecisionExceeded, nil
	}
	return DecisionAutoInject, nil
}

func (e Engine) threshold() decimal.Decimal {
	if e.Threshold.IsPositive() {
		return e.Threshold
	}
	return DefaultThreshold
}

func (e Engine) fallback() decimal.Decimal {
	if e.FallbackRate.IsPositive() {
		return e.FallbackRate
	}
	return DefaultFallbackRate
}
