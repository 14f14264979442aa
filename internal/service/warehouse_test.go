package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/store/memory"
)

func flagsByProduct(t *testing.T, svc *Service) map[string]domain.CycleCountFlag {
	t.Helper()
	flags, err := svc.ListCycleCountFlags(context.Background(), "", 50)
	if err != nil {
		t.Fatalf("list flags: %v", err)
	}
	out := make(map[string]domain.CycleCountFlag, len(flags))
	for _, f := range flags {
		out[f.ProductID] = f
	}
	return out
}

func fulfillmentOf(t *testing.T, svc *Service, saleID string) string {
	t.Helper()
	sale, err := svc.GetSale(context.Background(), saleID)
	if err != nil {
		t.Fatalf("get sale %s: %v", saleID, err)
	}
	return sale.FulfillmentStatus
}

func TestPackDeductsPickedQuantityAndFlagsGaps(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	sale, err := svc.CommitSale(ctx, domain.SaleCommitRequest{
		Items: []domain.CartItem{
			{ProductID: "prod-rice", Quantity: 5},
			{ProductID: "prod-oil", Quantity: 2},
		},
		PaymentMethod: domain.PaymentCard,
	})
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}
	picked := workJob(t, svc, sale.PickJob, "emp-picker-1", "")
	pack := picked.Successor
	if pack == nil {
		t.Fatalf("expected a pack job")
	}

	if _, err := svc.AssignJob(ctx, pack.ID, "emp-picker-2"); err != nil {
		t.Fatalf("assign pack: %v", err)
	}
	if _, err := svc.ResolveLineItem(ctx, pack.ID, domain.JobLineResolveRequest{ProductID: "prod-rice", ActualQty: 3, Outcome: domain.OutcomeShort}); err != nil {
		t.Fatalf("resolve rice short: %v", err)
	}
	if _, err := svc.ResolveLineItem(ctx, pack.ID, domain.JobLineResolveRequest{ProductID: "prod-oil", Outcome: domain.OutcomeSkipped}); err != nil {
		t.Fatalf("resolve oil skipped: %v", err)
	}
	resp, err := svc.CompleteJob(ctx, pack.ID)
	if err != nil {
		t.Fatalf("complete pack: %v", err)
	}

	// The picked units left the shelf whatever the packer recorded.
	if got := stockOf(t, svc, "prod-rice"); got != 35 {
		t.Fatalf("expected rice 35 after pack, got %d", got)
	}
	if got := stockOf(t, svc, "prod-oil"); got != 23 {
		t.Fatalf("expected oil 23 after pack, got %d", got)
	}

	if len(resp.Flags) != 1 || resp.Flags[0].ProductID != "prod-oil" || resp.Flags[0].Reason != domain.CycleCountSkipped {
		t.Fatalf("expected a skipped flag for oil on completion, got %+v", resp.Flags)
	}
	flags := flagsByProduct(t, svc)
	if f, ok := flags["prod-rice"]; !ok || f.Reason != domain.CycleCountShort || f.ExpectedQty != 5 || f.ActualQty != 3 {
		t.Fatalf("expected a short flag for rice 5/3, got %+v", f)
	}
	if f, ok := flags["prod-oil"]; !ok || f.JobID != pack.ID || f.ExpectedQty != 2 || f.ActualQty != 0 {
		t.Fatalf("expected a stored skipped flag for oil, got %+v", f)
	}
	if got := fulfillmentOf(t, svc, sale.Sale.ID); got != domain.FulfillmentStatusDelivered {
		t.Fatalf("expected Delivered, got %s", got)
	}
}

func TestPickWithNothingPickedFlagsAndMarksSaleUnfulfilled(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	sale, err := svc.CommitSale(ctx, domain.SaleCommitRequest{
		Items: []domain.CartItem{
			{ProductID: "prod-rice", Quantity: 2},
			{ProductID: "prod-oil", Quantity: 1},
		},
		PaymentMethod: domain.PaymentCard,
	})
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}
	jobID := sale.PickJob.ID
	if _, err := svc.AssignJob(ctx, jobID, "emp-picker-1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := svc.ResolveLineItem(ctx, jobID, domain.JobLineResolveRequest{ProductID: "prod-rice", ActualQty: 0, Outcome: domain.OutcomeShort}); err != nil {
		t.Fatalf("resolve rice: %v", err)
	}
	if _, err := svc.ResolveLineItem(ctx, jobID, domain.JobLineResolveRequest{ProductID: "prod-oil", Outcome: domain.OutcomeSkipped}); err != nil {
		t.Fatalf("resolve oil: %v", err)
	}

	resp, err := svc.CompleteJob(ctx, jobID)
	if err != nil {
		t.Fatalf("complete pick: %v", err)
	}
	if resp.Successor != nil {
		t.Fatalf("nothing was picked, expected no pack job, got %+v", resp.Successor)
	}
	if resp.FulfillmentStatus != domain.FulfillmentStatusUnfulfilled {
		t.Fatalf("expected Unfulfilled in response, got %q", resp.FulfillmentStatus)
	}
	flags := flagsByProduct(t, svc)
	if len(flags) != 2 || flags["prod-rice"].Reason != domain.CycleCountShort || flags["prod-oil"].Reason != domain.CycleCountSkipped {
		t.Fatalf("expected every empty line flagged, got %+v", flags)
	}
	if got := fulfillmentOf(t, svc, sale.Sale.ID); got != domain.FulfillmentStatusUnfulfilled {
		t.Fatalf("expected sale Unfulfilled, got %s", got)
	}
	if stockOf(t, svc, "prod-rice") != 40 || stockOf(t, svc, "prod-oil") != 25 {
		t.Fatalf("an empty pick must not move stock")
	}
}

func TestSaleFulfillmentStatusFollowsJobs(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	sale, err := svc.CommitSale(ctx, domain.SaleCommitRequest{
		Items:           []domain.CartItem{{ProductID: "prod-oil", Quantity: 2}},
		PaymentMethod:   domain.PaymentCard,
		FulfillmentType: domain.FulfillmentDelivery,
	})
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}
	if sale.Sale.FulfillmentStatus != domain.FulfillmentStatusPending {
		t.Fatalf("new sale should be Pending, got %s", sale.Sale.FulfillmentStatus)
	}

	picked := workJob(t, svc, sale.PickJob, "emp-picker-1", "")
	if got := fulfillmentOf(t, svc, sale.Sale.ID); got != domain.FulfillmentStatusPacking {
		t.Fatalf("expected Packing after pick, got %s", got)
	}
	workJob(t, svc, *picked.Successor, "emp-picker-1", "")
	if got := fulfillmentOf(t, svc, sale.Sale.ID); got != domain.FulfillmentStatusDelivered {
		t.Fatalf("expected Delivered after local pack, got %s", got)
	}
}

func TestSaleFulfillmentMapping(t *testing.T) {
	packed := []domain.JobLine{{ProductID: "p", ExpectedQty: 2, ActualQty: 2, Status: domain.LineStatusPicked}}
	empty := []domain.JobLine{{ProductID: "p", ExpectedQty: 2, Status: domain.LineStatusSkipped}}
	next := &domain.WarehouseJob{ID: "next"}

	cases := []struct {
		name      string
		job       domain.WarehouseJob
		successor *domain.WarehouseJob
		want      string
	}{
		{"pick spawns pack", domain.WarehouseJob{Type: domain.JobTypePick, OrderRef: "sale-1", Lines: packed}, next, domain.FulfillmentStatusPacking},
		{"pick with nothing picked", domain.WarehouseJob{Type: domain.JobTypePick, OrderRef: "sale-1", Lines: empty}, nil, domain.FulfillmentStatusUnfulfilled},
		{"pack spawns dispatch", domain.WarehouseJob{Type: domain.JobTypePack, OrderRef: "sale-1", Lines: packed}, next, domain.FulfillmentStatusShipped},
		{"local pack", domain.WarehouseJob{Type: domain.JobTypePack, OrderRef: "sale-1", Lines: packed}, nil, domain.FulfillmentStatusDelivered},
		{"pack with nothing packed", domain.WarehouseJob{Type: domain.JobTypePack, OrderRef: "sale-1", Lines: empty}, nil, domain.FulfillmentStatusUnfulfilled},
		{"dispatch", domain.WarehouseJob{Type: domain.JobTypeDispatch, OrderRef: "sale-1", Lines: packed}, nil, domain.FulfillmentStatusDelivered},
		{"putaway", domain.WarehouseJob{Type: domain.JobTypePutaway, OrderRef: "po-1", Lines: packed}, nil, ""},
		{"no order", domain.WarehouseJob{Type: domain.JobTypePick, Lines: packed}, next, ""},
	}
	for _, tc := range cases {
		if got := saleFulfillment(tc.job, tc.successor); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestSecondPackForLastUnitsFailsWithNegativeStock(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	// Both sales pass the stock check: nothing is deducted until PACK.
	first, err := svc.CommitSale(ctx, domain.SaleCommitRequest{Items: []domain.CartItem{{ProductID: "prod-tea", Quantity: 6}}, PaymentMethod: domain.PaymentCard})
	if err != nil {
		t.Fatalf("commit first sale: %v", err)
	}
	second, err := svc.CommitSale(ctx, domain.SaleCommitRequest{Items: []domain.CartItem{{ProductID: "prod-tea", Quantity: 6}}, PaymentMethod: domain.PaymentCard})
	if err != nil {
		t.Fatalf("commit second sale: %v", err)
	}

	firstPick := workJob(t, svc, first.PickJob, "emp-picker-1", "")
	secondPick := workJob(t, svc, second.PickJob, "emp-picker-2", "")
	workJob(t, svc, *firstPick.Successor, "emp-picker-1", "")
	if got := stockOf(t, svc, "prod-tea"); got != 2 {
		t.Fatalf("expected tea 2 after first pack, got %d", got)
	}

	pack := *secondPick.Successor
	if _, err := svc.AssignJob(ctx, pack.ID, "emp-picker-2"); err != nil {
		t.Fatalf("assign second pack: %v", err)
	}
	if _, err := svc.ResolveLineItem(ctx, pack.ID, domain.JobLineResolveRequest{ProductID: "prod-tea", ActualQty: 6, Outcome: domain.OutcomeNormal}); err != nil {
		t.Fatalf("resolve second pack: %v", err)
	}
	_, err = svc.CompleteJob(ctx, pack.ID)
	if !errors.Is(err, domain.ErrNegativeStock) {
		t.Fatalf("expected NegativeStock, got %v", err)
	}
	if kind := domain.KindOf(err); kind != domain.KindConsistency {
		t.Fatalf("expected consistency kind, got %s", kind)
	}
	if got := stockOf(t, svc, "prod-tea"); got != 2 {
		t.Fatalf("failed pack changed stock to %d", got)
	}
	job, err := svc.GetJob(ctx, pack.ID)
	if err != nil {
		t.Fatalf("get pack: %v", err)
	}
	if job.Status != domain.JobStatusInProgress {
		t.Fatalf("failed pack should stay In-Progress, got %s", job.Status)
	}
	if got := fulfillmentOf(t, svc, second.Sale.ID); got != domain.FulfillmentStatusPacking {
		t.Fatalf("failed pack must not move the sale past Packing, got %s", got)
	}
}

func TestTransferRunsPickPackDispatch(t *testing.T) {
	pub := &recordingPublisher{}
	svc := New(memory.NewSeeded(), Options{Publisher: pub})
	ctx := cashierCtx()

	created, err := svc.CreateTransfer(ctx, domain.TransferCreateRequest{
		SourceSiteID: memory.SiteDC,
		DestSiteID:   memory.SiteMain,
		Items:        []domain.CartItem{{ProductID: "prod-dc-rice", Quantity: 20}},
	})
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}
	pick := created.PickJob
	if pick.Type != domain.JobTypePick || pick.SiteID != memory.SiteDC || pick.DestSiteID != memory.SiteMain {
		t.Fatalf("unexpected transfer pick %+v", pick)
	}
	if pick.Priority != domain.JobPriorityNormal || pick.OrderRef != created.TransferRef || !strings.HasPrefix(created.TransferRef, "trf-") {
		t.Fatalf("unexpected transfer ref or priority: %s %s", created.TransferRef, pick.Priority)
	}
	if pick.Lines[0].BinCode != "D-03-01" || pick.Lines[0].ExpectedQty != 20 {
		t.Fatalf("unexpected pick line %+v", pick.Lines[0])
	}
	if len(pub.jobs) != 1 || pub.jobs[0].JobID != pick.ID {
		t.Fatalf("expected a job-created event for the pick, got %+v", pub.jobs)
	}

	picked := workJob(t, svc, pick, "emp-dc-1", "")
	if picked.Successor == nil || picked.Successor.DestSiteID != memory.SiteMain {
		t.Fatalf("pack should carry the destination, got %+v", picked.Successor)
	}
	packed := workJob(t, svc, *picked.Successor, "emp-dc-1", "")
	dispatch := packed.Successor
	if dispatch == nil || dispatch.Type != domain.JobTypeDispatch || dispatch.Location != domain.LocationDispatchBay {
		t.Fatalf("cross-site pack should spawn dispatch, got %+v", dispatch)
	}
	if dispatch.Lines[0].ExpectedQty != 20 || dispatch.OrderRef != created.TransferRef {
		t.Fatalf("unexpected dispatch job %+v", dispatch)
	}
	if got := stockOf(t, svc, "prod-dc-rice"); got != 180 {
		t.Fatalf("expected 180 after pack, got %d", got)
	}

	done := workJob(t, svc, *dispatch, "emp-dc-1", "")
	if done.Successor != nil {
		t.Fatalf("dispatch should end the chain, got %+v", done.Successor)
	}
	if done.Job.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed dispatch, got %s", done.Job.Status)
	}
	if got := stockOf(t, svc, "prod-dc-rice"); got != 180 {
		t.Fatalf("dispatch must not move stock, got %d", got)
	}
}

func TestCreateTransferRejections(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	cases := []struct {
		name string
		req  domain.TransferCreateRequest
		want *domain.Error
	}{
		{"same site", domain.TransferCreateRequest{SourceSiteID: memory.SiteMain, DestSiteID: memory.SiteMain, Items: []domain.CartItem{{ProductID: "prod-rice", Quantity: 1}}}, domain.ErrInvalidInput},
		{"missing destination", domain.TransferCreateRequest{Items: []domain.CartItem{{ProductID: "prod-rice", Quantity: 1}}}, domain.ErrInvalidInput},
		{"product of another site", domain.TransferCreateRequest{DestSiteID: memory.SiteDC, Items: []domain.CartItem{{ProductID: "prod-dc-rice", Quantity: 1}}}, domain.ErrInvalidInput},
		{"more than stocked", domain.TransferCreateRequest{DestSiteID: memory.SiteDC, Items: []domain.CartItem{{ProductID: "prod-tea", Quantity: 5}, {ProductID: "prod-tea", Quantity: 4}}}, domain.ErrInsufficientStock},
		{"zero quantity", domain.TransferCreateRequest{DestSiteID: memory.SiteDC, Items: []domain.CartItem{{ProductID: "prod-rice", Quantity: 0}}}, domain.ErrInvalidInput},
	}
	for _, tc := range cases {
		if _, err := svc.CreateTransfer(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.want.Code, err)
		}
	}
	jobs, err := svc.ListJobs(ctx, domain.JobFilter{SiteID: memory.SiteMain})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs.Jobs) != 0 {
		t.Fatalf("rejected transfers created jobs: %+v", jobs.Jobs)
	}
}
