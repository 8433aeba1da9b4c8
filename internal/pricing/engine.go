package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-billswift/internal/common"
)

// Scale is the number of fractional digits carried by every stored amount.
const Scale = 2

// MaxQuantity is the largest quantity a stored line can hold.
const MaxQuantity = math.MaxInt32

var (
	bpsDenominator = decimal.NewFromInt(10000)

	// MaxAmount is the largest amount a NUMERIC(12,2) column can hold.
	MaxAmount = decimal.New(999999999999, -Scale)
)

// ComponentRef is the live catalog view of a component referenced by a line.
type ComponentRef struct {
	ID            string
	BaseUnitPrice decimal.Decimal
	Active        bool
}

// Line is one component's participation in a bundle as seen by the engine.
// A nil Component means the referenced component could not be resolved.
type Line struct {
	ComponentID string
	Component   *ComponentRef
	Quantity    int
	Override    *decimal.Decimal
}

// PricedLine carries the derived values for a single line.
type PricedLine struct {
	EffectiveUnitPrice decimal.Decimal
	LineTotal          decimal.Decimal
}

// BundlePrice is the result of a recompute: per-line totals in input order
// plus the bundle aggregates.
type BundlePrice struct {
	Lines      []PricedLine
	BasePrice  decimal.Decimal
	TotalPrice decimal.Decimal
}

// Engine derives bundle prices from component lines. TaxRateBps is applied
// uniformly on top of the base price; zero means total equals base.
type Engine struct {
	TaxRateBps int
}

// Recompute prices every line and aggregates the bundle. It never mutates its
// input, so calling it twice with the same lines yields identical results.
// An empty line set prices to zero; callers that require a line reject it.
func (e Engine) Recompute(lines []Line) (BundlePrice, error) {
	out := BundlePrice{
		Lines:     make([]PricedLine, 0, len(lines)),
		BasePrice: decimal.Zero,
	}
	for _, line := range lines {
		priced, err := priceLine(line)
		if err != nil {
			return BundlePrice{}, err
		}
		out.Lines = append(out.Lines, priced)
		out.BasePrice = out.BasePrice.Add(priced.LineTotal)
	}
	if err := checkCeiling("base_price", out.BasePrice); err != nil {
		return BundlePrice{}, err
	}
	out.TotalPrice = e.ApplyTax(out.BasePrice)
	if err := checkCeiling("total_price", out.TotalPrice); err != nil {
		return BundlePrice{}, err
	}
	return out, nil
}

// ApplyTax returns base scaled by the configured tax multiplier.
func (e Engine) ApplyTax(base decimal.Decimal) decimal.Decimal {
	if e.TaxRateBps == 0 {
		return base
	}
	multiplier := decimal.NewFromInt(1).Add(decimal.NewFromInt(int64(e.TaxRateBps)).Div(bpsDenominator))
	return base.Mul(multiplier).Round(Scale)
}

func priceLine(line Line) (PricedLine, error) {
	if line.Component == nil {
		return PricedLine{}, common.NotFoundError("component", line.ComponentID)
	}
	if !line.Component.Active {
		return PricedLine{}, common.InactiveReferenceError("component", line.ComponentID)
	}
	if err := ValidateQuantity("quantity for component "+line.ComponentID, line.Quantity); err != nil {
		return PricedLine{}, err
	}
	unit := line.Component.BaseUnitPrice
	if line.Override != nil {
		unit = *line.Override
	}
	if err := ValidatePrice("unit price", unit); err != nil {
		return PricedLine{}, err
	}
	total := unit.Mul(decimal.NewFromInt(int64(line.Quantity)))
	if err := checkCeiling("line_total for component "+line.ComponentID, total); err != nil {
		return PricedLine{}, err
	}
	return PricedLine{EffectiveUnitPrice: unit, LineTotal: total}, nil
}

// ValidateQuantity accepts positive quantities that fit a stored line.
func ValidateQuantity(field string, qty int) error {
	if qty <= 0 {
		return common.ValidationError("%s must be a positive integer", field)
	}
	if qty > MaxQuantity {
		return common.ValidationError("%s must not exceed %d", field, MaxQuantity)
	}
	return nil
}

// ValidatePrice rejects non-positive amounts, amounts finer than a cent and
// amounts above MaxAmount.
func ValidatePrice(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return common.ValidationError("%s must be greater than zero", field)
	}
	return validateScale(field, amount)
}

// ValidateNonNegative rejects negative amounts, amounts finer than a cent and
// amounts above MaxAmount.
func ValidateNonNegative(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return common.ValidationError("%s must not be negative", field)
	}
	return validateScale(field, amount)
}

func validateScale(field string, amount decimal.Decimal) error {
	if !amount.Equal(amount.Round(Scale)) {
		return common.ValidationError("%s must have at most %d decimal places", field, Scale)
	}
	return checkCeiling(field, amount)
}

func checkCeiling(field string, amount decimal.Decimal) error {
	if amount.GreaterThan(MaxAmount) {
		return common.ValidationError("%s must not exceed %s", field, Format(MaxAmount))
	}
	return nil
}

// Format renders an amount with exactly two fractional digits.
func Format(amount decimal.Decimal) string {
	return amount.StringFixed(Scale)
}
