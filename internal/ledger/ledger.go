// Package ledger computes the next state of a product's stock row. It never
// writes: callers hand the resulting StockChange to the store, which applies
// it only if the row's version is unchanged.
package ledger

import (
	"regexp"
	"strings"

	"siifmart/backend/internal/domain"
)

// LocationSalesFloor is the store-side marker for goods that passed receiving
// but have no warehouse bin.
const LocationSalesFloor = "Sales Floor"

var binCodePattern = regexp.MustCompile(`^[A-Z]{1,3}-\d{1,3}-\d{1,3}$`)

func NormalizeBinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func IsBinCode(code string) bool {
	return binCodePattern.MatchString(NormalizeBinCode(code))
}

// IsReceivedLocation reports whether a location shows the goods were put away.
func IsReceivedLocation(location string) bool {
	location = strings.TrimSpace(location)
	if location == "" || strings.EqualFold(location, domain.LocationReceivingDock) {
		return false
	}
	return IsBinCode(location) || strings.EqualFold(location, LocationSalesFloor)
}

func Sellable(p domain.Product) bool {
	return p.Status != domain.ProductStatusArchived && p.Stock > 0 && IsReceivedLocation(p.Location)
}

// StatusFor derives the stock status. Archived products stay archived.
func StatusFor(stock int, minStock int, current string) string {
	if current == domain.ProductStatusArchived {
		return current
	}
	if minStock <= 0 {
		minStock = domain.DefaultMinStock
	}
	switch {
	case stock <= 0:
		return domain.ProductStatusOutOfStock
	case stock < minStock:
		return domain.ProductStatusLowStock
	default:
		return domain.ProductStatusActive
	}
}

// Credit adds qty units. A non-empty location replaces the current one.
func Credit(p domain.Product, qty int, location string) (domain.StockChange, error) {
	if qty < 0 {
		return domain.StockChange{}, domain.Errorf(domain.ErrInvalidInput, "credit quantity %d for product %s is negative", qty, p.ID)
	}
	next := p.Stock + qty
	loc := p.Location
	if strings.TrimSpace(location) != "" {
		loc = location
	}
	return domain.StockChange{
		ProductID:       p.ID,
		ExpectedVersion: p.Version,
		Stock:           next,
		Location:        loc,
		Status:          StatusFor(next, p.MinStock, p.Status),
	}, nil
}

// Debit removes qty units. Going below zero is a consistency failure, not a
// clamp: it means two deductions were promised the same units.
func Debit(p domain.Product, qty int) (domain.StockChange, error) {
	if qty < 0 {
		return domain.StockChange{}, domain.Errorf(domain.ErrInvalidInput, "debit quantity %d for product %s is negative", qty, p.ID)
	}
	next := p.Stock - qty
	if next < 0 {
		return domain.StockChange{}, domain.Errorf(domain.ErrNegativeStock, "product %s has %d units, cannot deduct %d", p.ID, p.Stock, qty)
	}
	return domain.StockChange{
		ProductID:       p.ID,
		ExpectedVersion: p.Version,
		Stock:           next,
		Location:        p.Location,
		Status:          StatusFor(next, p.MinStock, p.Status),
	}, nil
}

// Apply returns p as it looks after change, with the version bumped the way
// the store bumps it.
func Apply(p domain.Product, change domain.StockChange) domain.Product {
	p.Stock = change.Stock
	p.Location = change.Location
	p.Status = change.Status
	p.Version = change.ExpectedVersion + 1
	return p
}
