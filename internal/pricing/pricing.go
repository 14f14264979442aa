// Package pricing holds the register arithmetic: subtotal, the ordered tax
// fold, discount code resolution, cash rounding and change. No function here
// touches storage.
package pricing

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"siifmart/backend/internal/domain"
)

var (
	hundred      = decimal.NewFromInt(100)
	RoundingStep = decimal.NewFromInt(5)
)

func Subtotal(lines []domain.PricedLine) decimal.Decimal {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return subtotal
}

// ApplyTaxes folds rules over base in order. A compound rule grows the base
// seen by every rule after it; a plain rule leaves it untouched.
func ApplyTaxes(base decimal.Decimal, rules []domain.TaxRule) ([]domain.TaxLine, decimal.Decimal) {
	current := base
	total := decimal.Zero
	breakdown := make([]domain.TaxLine, 0, len(rules))
	for _, rule := range rules {
		amount := current.Mul(rule.Rate).Div(hundred)
		breakdown = append(breakdown, domain.TaxLine{
			Name:     rule.Name,
			Rate:     rule.Rate,
			Amount:   amount,
			Compound: rule.Compound,
		})
		total = total.Add(amount)
		if rule.Compound {
			current = current.Add(amount)
		}
	}
	return breakdown, total
}

// RoundingAdjustment is the non-negative amount that lifts total to the next
// multiple of step. It is always in [0, step).
func RoundingAdjustment(total decimal.Decimal, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return decimal.Zero
	}
	rounded := total.Div(step).Ceil().Mul(step)
	return rounded.Sub(total)
}

func ComputeTotals(lines []domain.PricedLine, discount decimal.Decimal, rules []domain.TaxRule, roundingEnabled bool) domain.Totals {
	subtotal := Subtotal(lines)
	breakdown, taxTotal := ApplyTaxes(subtotal, rules)
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	preRounding := decimal.Max(decimal.Zero, subtotal.Add(taxTotal).Sub(discount))
	adjustment := decimal.Zero
	if roundingEnabled {
		adjustment = RoundingAdjustment(preRounding, RoundingStep)
	}

	return domain.Totals{
		Subtotal:           subtotal,
		TaxBreakdown:       breakdown,
		TaxTotal:           taxTotal,
		Discount:           discount,
		RoundingAdjustment: adjustment,
		Total:              preRounding.Add(adjustment),
	}
}

// ResolveDiscount checks a code against the cart and returns the amount it
// takes off. Every rejection is ErrInvalidCode with the reason in the message.
func ResolveDiscount(code *domain.DiscountCode, siteID string, subtotal decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if code == nil {
		return decimal.Zero, domain.Errorf(domain.ErrInvalidCode, "discount code not found")
	}
	if code.Status != domain.DiscountStatusActive {
		return decimal.Zero, domain.Errorf(domain.ErrInvalidCode, "discount code %s is inactive", code.Code)
	}
	if code.ValidFrom != nil && now.Before(*code.ValidFrom) {
		return decimal.Zero, domain.Errorf(domain.ErrInvalidCode, "discount code %s is not yet valid", code.Code)
	}
	if code.ValidUntil != nil && now.After(*code.ValidUntil) {
		return decimal.Zero, domain.Errorf(domain.ErrInvalidCode, "discount code %s has expired", code.Code)
	}
	if len(code.ApplicableSites) > 0 && !slices.Contains(code.ApplicableSites, siteID) {
		return decimal.Zero, domain.Errorf(domain.ErrInvalidCode, "discount code %s is not valid at site %s", code.Code, siteID)
	}
	if code.UsageLimit > 0 && code.UsageCount >= code.UsageLimit {
		return decimal.Zero, domain.Errorf(domain.ErrInvalidCode, "discount code %s usage limit reached", code.Code)
	}
	if subtotal.LessThan(code.MinPurchaseAmount) {
		return decimal.Zero, domain.Errorf(domain.ErrInvalidCode, "discount code %s requires a minimum purchase of %s", code.Code, code.MinPurchaseAmount.StringFixed(2))
	}

	var amount decimal.Decimal
	switch code.Type {
	case domain.DiscountPercentage:
		amount = subtotal.Mul(code.Value).Div(hundred)
		if code.MaxDiscountAmount.IsPositive() && amount.GreaterThan(code.MaxDiscountAmount) {
			amount = code.MaxDiscountAmount
		}
	case domain.DiscountFixed:
		amount = code.Value
	default:
		return decimal.Zero, domain.Errorf(domain.ErrInvalidCode, "discount code %s has unknown type %q", code.Code, code.Type)
	}

	if amount.IsNegative() {
		amount = decimal.Zero
	}
	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	return amount, nil
}

// Settle validates the tender for method and returns the tender to record
// together with the change owed.
func Settle(method string, tendered decimal.Decimal, total decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	switch method {
	case domain.PaymentCash:
		if tendered.LessThan(total) {
			return decimal.Zero, decimal.Zero, domain.Errorf(domain.ErrInvalidPaymentAmount, "cash tendered %s is below total %s", tendered.StringFixed(2), total.StringFixed(2))
		}
		return tendered, decimal.Max(decimal.Zero, tendered.Sub(total)), nil
	case domain.PaymentCard, domain.PaymentMobileMoney:
		return total, decimal.Zero, nil
	default:
		return decimal.Zero, decimal.Zero, domain.Errorf(domain.ErrInvalidInput, "unsupported payment method %q", method)
	}
}

// ParseTaxRules reads "VAT:15,Turnover:2,Municipal:1:compound".
func ParseTaxRules(raw string) ([]domain.TaxRule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	rules := make([]domain.TaxRule, 0, 4)
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("tax rule %q: want name:rate[:compound]", entry)
		}
		name := strings.TrimSpace(parts[0])
		if name == "" {
			return nil, fmt.Errorf("tax rule %q: empty name", entry)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("tax rule %q: %w", entry, err)
		}
		if rate.IsNegative() || rate.GreaterThan(hundred) {
			return nil, fmt.Errorf("tax rule %q: rate out of range", entry)
		}
		compound := false
		if len(parts) == 3 {
			if strings.TrimSpace(strings.ToLower(parts[2])) != "compound" {
				return nil, fmt.Errorf("tax rule %q: unknown flag %q", entry, parts[2])
			}
			compound = true
		}
		rules = append(rules, domain.TaxRule{Name: name, Rate: rate, Compound: compound})
	}
	return rules, nil
}
