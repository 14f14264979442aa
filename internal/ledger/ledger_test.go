package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"siifmart/backend/internal/domain"
)

func TestIsReceivedLocation(t *testing.T) {
	require.True(t, IsReceivedLocation("A-01-01"))
	require.True(t, IsReceivedLocation("c-02-15"))
	require.True(t, IsReceivedLocation("Sales Floor"))
	require.False(t, IsReceivedLocation(""))
	require.False(t, IsReceivedLocation("Receiving Dock"))
	require.False(t, IsReceivedLocation("somewhere"))
}

func TestSellableNeedsStockAndLocation(t *testing.T) {
	p := domain.Product{ID: "p1", Stock: 5, Location: "A-01-01", Status: domain.ProductStatusActive}
	require.True(t, Sellable(p))

	p.Location = domain.LocationReceivingDock
	require.False(t, Sellable(p))

	p.Location = "A-01-01"
	p.Stock = 0
	require.False(t, Sellable(p))
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, domain.ProductStatusOutOfStock, StatusFor(0, 10, domain.ProductStatusActive))
	require.Equal(t, domain.ProductStatusLowStock, StatusFor(4, 10, domain.ProductStatusActive))
	require.Equal(t, domain.ProductStatusActive, StatusFor(10, 10, domain.ProductStatusLowStock))
	require.Equal(t, domain.ProductStatusLowStock, StatusFor(9, 0, domain.ProductStatusActive))
	require.Equal(t, domain.ProductStatusArchived, StatusFor(50, 10, domain.ProductStatusArchived))
}

func TestCreditSetsLocationAndStatus(t *testing.T) {
	p := domain.Product{ID: "p1", Stock: 0, MinStock: 5, Version: 3, Status: domain.ProductStatusOutOfStock}
	change, err := Credit(p, 10, "A-01-01")
	require.NoError(t, err)
	require.Equal(t, 10, change.Stock)
	require.Equal(t, "A-01-01", change.Location)
	require.Equal(t, domain.ProductStatusActive, change.Status)
	require.Equal(t, int64(3), change.ExpectedVersion)

	next := Apply(p, change)
	require.Equal(t, int64(4), next.Version)
	require.Equal(t, 10, next.Stock)
}

func TestCreditKeepsLocationWhenEmpty(t *testing.T) {
	p := domain.Product{ID: "p1", Stock: 2, Location: "B-02-01"}
	change, err := Credit(p, 1, "")
	require.NoError(t, err)
	require.Equal(t, "B-02-01", change.Location)
}

func TestDebitRejectsNegativeResult(t *testing.T) {
	p := domain.Product{ID: "p1", Stock: 1}
	_, err := Debit(p, 2)
	require.ErrorIs(t, err, domain.ErrNegativeStock)
	require.Equal(t, domain.KindConsistency, domain.KindOf(err))

	change, err := Debit(p, 1)
	require.NoError(t, err)
	require.Equal(t, 0, change.Stock)
	require.Equal(t, domain.ProductStatusOutOfStock, change.Status)
}
