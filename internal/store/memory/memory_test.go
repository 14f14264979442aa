package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/store"
)

func TestApplyStockChangesRejectsStaleVersion(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	p, err := s.GetProduct(ctx, "prod-rice")
	require.NoError(t, err)

	change := domain.StockChange{ProductID: p.ID, ExpectedVersion: p.Version, Stock: p.Stock - 1, Location: p.Location, Status: p.Status}
	require.NoError(t, s.ApplyStockChanges(ctx, []domain.StockChange{change}))

	err = s.ApplyStockChanges(ctx, []domain.StockChange{change})
	require.ErrorIs(t, err, store.ErrConflict)

	after, err := s.GetProduct(ctx, "prod-rice")
	require.NoError(t, err)
	require.Equal(t, p.Stock-1, after.Stock)
	require.Equal(t, p.Version+1, after.Version)
}

func TestCompleteJobIsAllOrNothing(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	job, err := s.CreateJob(ctx, domain.WarehouseJob{
		ID:        "job-1",
		SiteID:    SiteMain,
		Type:      domain.JobTypePack,
		Status:    domain.JobStatusInProgress,
		CreatedAt: time.Now().UTC(),
		Lines:     []domain.JobLine{{ProductID: "prod-rice", ExpectedQty: 2, ActualQty: 2, Status: domain.LineStatusPicked}},
	})
	require.NoError(t, err)

	rice, _ := s.GetProduct(ctx, "prod-rice")
	oil, _ := s.GetProduct(ctx, "prod-oil")
	completed := *job
	completed.Status = domain.JobStatusCompleted

	_, err = s.CompleteJob(ctx, store.JobCompletion{
		Job:             completed,
		ExpectedVersion: job.Version,
		StockChanges: []domain.StockChange{
			{ProductID: rice.ID, ExpectedVersion: rice.Version, Stock: rice.Stock - 2, Location: rice.Location, Status: rice.Status},
			{ProductID: oil.ID, ExpectedVersion: oil.Version + 5, Stock: oil.Stock, Location: oil.Location, Status: oil.Status},
		},
	})
	require.ErrorIs(t, err, store.ErrConflict)

	unchanged, _ := s.GetProduct(ctx, "prod-rice")
	require.Equal(t, rice.Stock, unchanged.Stock)
	stillOpen, _ := s.GetJob(ctx, "job-1")
	require.Equal(t, domain.JobStatusInProgress, stillOpen.Status)

	_, err = s.CompleteJob(ctx, store.JobCompletion{
		Job:             completed,
		ExpectedVersion: job.Version,
		StockChanges: []domain.StockChange{
			{ProductID: rice.ID, ExpectedVersion: rice.Version, Stock: rice.Stock - 2, Location: rice.Location, Status: rice.Status},
		},
	})
	require.NoError(t, err)

	_, err = s.CompleteJob(ctx, store.JobCompletion{Job: completed, ExpectedVersion: job.Version + 1})
	require.ErrorIs(t, err, store.ErrInvalidState)
}

func TestCreateSaleRechecksStockAndClaimsDiscount(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	sale := domain.SaleRecord{
		ID:     "sale-1",
		SiteID: SiteMain,
		Items:  []domain.PricedLine{{ProductID: "prod-tea", Quantity: 9, UnitPrice: decimal.NewFromInt(4)}},
	}
	_, err := s.CreateSale(ctx, store.SaleCommit{Sale: sale, PickJob: domain.WarehouseJob{ID: "job-pick-1"}})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	code, err := s.CreateDiscountCode(ctx, domain.DiscountCode{Code: "ONCE", Type: domain.DiscountFixed, Value: decimal.NewFromInt(1), UsageLimit: 1, Status: domain.DiscountStatusActive})
	require.NoError(t, err)

	sale.Items[0].Quantity = 2
	_, err = s.CreateSale(ctx, store.SaleCommit{Sale: sale, PickJob: domain.WarehouseJob{ID: "job-pick-1"}, DiscountCode: code.Code})
	require.NoError(t, err)

	sale.ID = "sale-2"
	_, err = s.CreateSale(ctx, store.SaleCommit{Sale: sale, PickJob: domain.WarehouseJob{ID: "job-pick-2"}, DiscountCode: code.Code})
	require.ErrorIs(t, err, store.ErrUsageExhausted)

	used, _ := s.GetDiscountCode(ctx, "ONCE")
	require.Equal(t, 1, used.UsageCount)
}

func TestCreateReturnCapsAtSoldQuantity(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	sale := domain.SaleRecord{
		ID:     "sale-1",
		SiteID: SiteMain,
		Status: domain.SaleStatusCompleted,
		Items:  []domain.PricedLine{{ProductID: "prod-oil", Quantity: 2, UnitPrice: decimal.NewFromInt(12)}},
	}
	_, err := s.CreateSale(ctx, store.SaleCommit{Sale: sale, PickJob: domain.WarehouseJob{ID: "job-pick-1"}})
	require.NoError(t, err)

	ret := func(id string, qty int) store.ReturnCommit {
		return store.ReturnCommit{Record: domain.ReturnRecord{
			ID:     id,
			SaleID: "sale-1",
			Items:  []domain.ReturnLine{{ProductID: "prod-oil", Quantity: qty, Condition: domain.ConditionDamaged}},
		}}
	}

	_, err = s.CreateReturn(ctx, ret("ret-1", 1))
	require.NoError(t, err)
	got, _ := s.GetSale(ctx, "sale-1")
	require.Equal(t, domain.SaleStatusPartiallyRefunded, got.Status)

	_, err = s.CreateReturn(ctx, ret("ret-2", 2))
	require.ErrorIs(t, err, store.ErrQuantityExceeded)

	_, err = s.CreateReturn(ctx, ret("ret-3", 1))
	require.NoError(t, err)
	got, _ = s.GetSale(ctx, "sale-1")
	require.Equal(t, domain.SaleStatusRefunded, got.Status)
}

func TestShiftOpenAndCloseOnce(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	shift, err := s.CreateShift(ctx, domain.ShiftRecord{CashierID: "emp-cashier-1", SiteID: SiteMain})
	require.NoError(t, err)

	_, err = s.CreateShift(ctx, domain.ShiftRecord{CashierID: "emp-cashier-1", SiteID: SiteMain})
	require.ErrorIs(t, err, store.ErrDuplicate)

	_, err = s.CloseShift(ctx, *shift)
	require.NoError(t, err)
	_, err = s.CloseShift(ctx, *shift)
	require.ErrorIs(t, err, store.ErrInvalidState)

	_, err = s.GetOpenShift(ctx, "emp-cashier-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListJobsOrdersByPriorityThenAge(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	for _, j := range []domain.WarehouseJob{
		{ID: "normal-old", Priority: domain.JobPriorityNormal, CreatedAt: base},
		{ID: "critical-new", Priority: domain.JobPriorityCritical, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "critical-old", Priority: domain.JobPriorityCritical, CreatedAt: base.Add(time.Minute)},
		{ID: "high", Priority: domain.JobPriorityHigh, CreatedAt: base},
	} {
		j.SiteID = SiteMain
		j.Status = domain.JobStatusPending
		_, err := s.CreateJob(ctx, j)
		require.NoError(t, err)
	}

	jobs, err := s.ListJobs(ctx, domain.JobFilter{SiteID: SiteMain})
	require.NoError(t, err)
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	require.Equal(t, []string{"critical-old", "critical-new", "high", "normal-old"}, ids)
}

func TestCompleteJobRecordsFlagsAndSaleFulfillment(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.CreateSale(ctx, store.SaleCommit{
		Sale: domain.SaleRecord{
			ID:                "sale-1",
			SiteID:            SiteMain,
			FulfillmentStatus: domain.FulfillmentStatusPending,
			Items:             []domain.PricedLine{{ProductID: "prod-oil", Quantity: 2, UnitPrice: decimal.NewFromInt(12)}},
		},
		PickJob: domain.WarehouseJob{
			ID:       "job-pick-1",
			SiteID:   SiteMain,
			Type:     domain.JobTypePick,
			Status:   domain.JobStatusInProgress,
			OrderRef: "sale-1",
			Lines:    []domain.JobLine{{ProductID: "prod-oil", ExpectedQty: 2, Status: domain.LineStatusSkipped}},
		},
	})
	require.NoError(t, err)
	job, err := s.GetJob(ctx, "job-pick-1")
	require.NoError(t, err)

	completed := *job
	completed.Status = domain.JobStatusCompleted
	completion := store.JobCompletion{
		Job:             completed,
		ExpectedVersion: job.Version + 1,
		Flags:           []domain.CycleCountFlag{{ProductID: "prod-oil", SiteID: SiteMain, JobID: job.ID, ExpectedQty: 2, Reason: domain.CycleCountSkipped}},
		SaleFulfillment: domain.FulfillmentStatusUnfulfilled,
	}
	_, err = s.CompleteJob(ctx, completion)
	require.ErrorIs(t, err, store.ErrConflict)

	flags, _ := s.ListCycleCountFlags(ctx, SiteMain, 10)
	require.Empty(t, flags)
	sale, _ := s.GetSale(ctx, "sale-1")
	require.Equal(t, domain.FulfillmentStatusPending, sale.FulfillmentStatus)

	completion.ExpectedVersion = job.Version
	_, err = s.CompleteJob(ctx, completion)
	require.NoError(t, err)

	flags, _ = s.ListCycleCountFlags(ctx, SiteMain, 10)
	require.Len(t, flags, 1)
	require.Equal(t, domain.CycleCountSkipped, flags[0].Reason)
	require.NotEmpty(t, flags[0].ID)
	sale, _ = s.GetSale(ctx, "sale-1")
	require.Equal(t, domain.FulfillmentStatusUnfulfilled, sale.FulfillmentStatus)
}

func TestCompleteJobIgnoresFulfillmentForNonSaleOrders(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	job, err := s.CreateJob(ctx, domain.WarehouseJob{
		ID:       "job-dsp-1",
		SiteID:   SiteDC,
		Type:     domain.JobTypeDispatch,
		Status:   domain.JobStatusInProgress,
		OrderRef: "trf-1",
	})
	require.NoError(t, err)

	completed := *job
	completed.Status = domain.JobStatusCompleted
	_, err = s.CompleteJob(ctx, store.JobCompletion{Job: completed, ExpectedVersion: job.Version, SaleFulfillment: domain.FulfillmentStatusDelivered})
	require.NoError(t, err)

	_, err = s.GetSale(ctx, "trf-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}
