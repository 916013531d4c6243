package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"retailcore/backend/internal/domain"
)

var (
	ErrInvalidLine    = errors.New("invalid line")
	ErrTotalsMismatch = errors.New("totals mismatch")
)

var hundred = decimal.NewFromInt(100)

// Line is the input of one sale line. TaxRate is a fraction (0.18 for 18%).
type Line struct {
	Quantity     int
	UnitPrice    decimal.Decimal
	DiscountType domain.DiscountType
	Discount     decimal.Decimal
	TaxRate      decimal.Decimal
}

type LineTotals struct {
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	Taxable        decimal.Decimal
	TaxAmount      decimal.Decimal
	Total          decimal.Decimal
}

type Totals struct {
	Lines         []LineTotals
	Subtotal      decimal.Decimal
	TotalDiscount decimal.Decimal
	TotalTax      decimal.Decimal
	TotalAmount   decimal.Decimal
}

func ValidateLine(line Line) error {
	if line.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidLine)
	}
	if line.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price must not be negative", ErrInvalidLine)
	}
	if line.Discount.IsNegative() {
		return fmt.Errorf("%w: discount must not be negative", ErrInvalidLine)
	}
	switch line.DiscountType {
	case domain.DiscountPercentage:
		if line.Discount.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage discount above 100", ErrInvalidLine)
		}
	case domain.DiscountFixed:
	default:
		return fmt.Errorf("%w: unknown discount type %q", ErrInvalidLine, line.DiscountType)
	}
	if line.TaxRate.IsNegative() || line.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: tax rate must be between 0 and 1", ErrInvalidLine)
	}
	return nil
}

// CalculateLine assumes the line passed ValidateLine. Every amount is
// rounded to cents so stored values reconcile exactly.
func CalculateLine(line Line) LineTotals {
	subtotal := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))).Round(2)

	discount := line.Discount
	if line.DiscountType == domain.DiscountPercentage {
		discount = subtotal.Mul(line.Discount).Div(hundred)
	}
	discount = discount.Round(2)
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}

	taxable := subtotal.Sub(discount)
	tax := taxable.Mul(line.TaxRate).Round(2)

	return LineTotals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		Taxable:        taxable,
		TaxAmount:      tax,
		Total:          taxable.Add(tax),
	}
}

// Calculate is deterministic and side-effect free.
func Calculate(lines []Line) (Totals, error) {
	if len(lines) == 0 {
		return Totals{}, fmt.Errorf("%w: at least one line is required", ErrInvalidLine)
	}

	totals := Totals{Lines: make([]LineTotals, 0, len(lines))}
	for i, line := range lines {
		if err := ValidateLine(line); err != nil {
			return Totals{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		lt := CalculateLine(line)
		totals.Lines = append(totals.Lines, lt)
		totals.Subtotal = totals.Subtotal.Add(lt.Subtotal)
		totals.TotalDiscount = totals.TotalDiscount.Add(lt.DiscountAmount)
		totals.TotalTax = totals.TotalTax.Add(lt.TaxAmount)
	}
	totals.TotalAmount = totals.Subtotal.Sub(totals.TotalDiscount).Add(totals.TotalTax)
	return totals, nil
}

// Change is zero when the payment does not exceed the total.
func Change(total decimal.Decimal, paid decimal.Decimal) decimal.Decimal {
	if paid.GreaterThan(total) {
		return paid.Sub(total)
	}
	return decimal.Zero
}

// NetOfTax strips an included tax from a price.
func NetOfTax(price decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return price
	}
	return price.Div(decimal.NewFromInt(1).Add(rate)).Round(2)
}

func LinesOf(items []domain.SaleLineItem) []Line {
	lines := make([]Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, Line{
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			DiscountType: item.DiscountType,
			Discount:     item.DiscountValue,
			TaxRate:      item.TaxRate,
		})
	}
	return lines
}

// Verify recomputes a stored sale and reports the first field that drifted.
func Verify(sale domain.Sale) error {
	totals, err := Calculate(LinesOf(sale.Items))
	if err != nil {
		return err
	}

	for i, item := range sale.Items {
		lt := totals.Lines[i]
		checks := []struct {
			field  string
			stored decimal.Decimal
			want   decimal.Decimal
		}{
			{"subtotal", item.Subtotal, lt.Subtotal},
			{"discount_amount", item.DiscountAmount, lt.DiscountAmount},
			{"tax_amount", item.TaxAmount, lt.TaxAmount},
			{"total", item.Total, lt.Total},
		}
		for _, c := range checks {
			if !c.stored.Equal(c.want) {
				return fmt.Errorf("%w: line %d %s is %s, expected %s", ErrTotalsMismatch, i+1, c.field, c.stored, c.want)
			}
		}
	}

	aggregate := []struct {
		field  string
		stored decimal.Decimal
		want   decimal.Decimal
	}{
		{"subtotal", sale.Subtotal, totals.Subtotal},
		{"total_discount", sale.TotalDiscount, totals.TotalDiscount},
		{"total_tax", sale.TotalTax, totals.TotalTax},
		{"total_amount", sale.TotalAmount, totals.TotalAmount},
		{"payment change", sale.Payment.Change, Change(totals.TotalAmount, sale.Payment.Amount)},
	}
	for _, c := range aggregate {
		if !c.stored.Equal(c.want) {
			return fmt.Errorf("%w: %s is %s, expected %s", ErrTotalsMismatch, c.field, c.stored, c.want)
		}
	}
	return nil
}
