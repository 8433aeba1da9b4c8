package pricing

import "github.com/shopspring/decimal"

// SaleLine is one sold line: a frozen unit price and a quantity.
type SaleLine struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// BillTotals aggregates a bill. Total never goes below zero.
type BillTotals struct {
	LineTotals []decimal.Decimal
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	Total      decimal.Decimal
}

// Totals computes line totals, the subtotal and the discounted total using
// exact decimal arithmetic. A discount larger than the subtotal floors the
// total at zero; the discount itself is stored as given.
func Totals(lines []SaleLine, discount decimal.Decimal) (BillTotals, error) {
	if err := ValidateNonNegative("discount_amount", discount); err != nil {
		return BillTotals{}, err
	}
	out := BillTotals{
		LineTotals: make([]decimal.Decimal, 0, len(lines)),
		Subtotal:   decimal.Zero,
		Discount:   discount,
	}
	for _, line := range lines {
		if err := ValidatePrice("unit_price", line.UnitPrice); err != nil {
			return BillTotals{}, err
		}
		if err := ValidateQuantity("quantity", line.Quantity); err != nil {
			return BillTotals{}, err
		}
		lt := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		if err := checkCeiling("line_total", lt); err != nil {
			return BillTotals{}, err
		}
		out.LineTotals = append(out.LineTotals, lt)
		out.Subtotal = out.Subtotal.Add(lt)
	}
	if err := checkCeiling("subtotal_amount", out.Subtotal); err != nil {
		return BillTotals{}, err
	}
	out.Total = decimal.Max(decimal.Zero, out.Subtotal.Sub(discount))
	return out, nil
}
