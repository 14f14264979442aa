package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/ledger"
	"siifmart/backend/internal/store"
	"siifmart/backend/internal/xid"
)

func (s *Service) ListJobs(ctx context.Context, filter domain.JobFilter) (domain.JobListResponse, error) {
	filter.SiteID = s.siteOrDefault(filter.SiteID)
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 200
	}
	jobs, err := s.repo.ListJobs(ctx, filter)
	if err != nil {
		return domain.JobListResponse{}, err
	}
	return domain.JobListResponse{Jobs: jobs}, nil
}

// NextJob returns the Pending job a worker at siteID should take next.
func (s *Service) NextJob(ctx context.Context, siteID string, jobType string) (domain.WarehouseJob, error) {
	jobs, err := s.repo.ListJobs(ctx, domain.JobFilter{
		SiteID: s.siteOrDefault(siteID),
		Status: domain.JobStatusPending,
		Type:   jobType,
		Limit:  1,
	})
	if err != nil {
		return domain.WarehouseJob{}, err
	}
	if len(jobs) == 0 {
		return domain.WarehouseJob{}, domain.Errorf(domain.ErrNotFound, "no pending jobs at site %s", s.siteOrDefault(siteID))
	}
	return jobs[0], nil
}

func (s *Service) GetJob(ctx context.Context, id string) (domain.WarehouseJob, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return domain.WarehouseJob{}, storeError(err)
	}
	return *job, nil
}

// EstimatedMinutes is the planning estimate shown when a job is assigned.
func EstimatedMinutes(job domain.WarehouseJob) int {
	n := len(job.Lines)
	switch job.Type {
	case domain.JobTypePick:
		return max(15, n*3)
	case domain.JobTypePack:
		return max(10, n*2)
	case domain.JobTypePutaway:
		return max(20, n*4)
	default:
		return 15
	}
}

func (s *Service) AssignJob(ctx context.Context, jobID string, employeeID string) (domain.JobAssignResponse, error) {
	tracker := s.metrics.Track("assign_job")
	resp, err := s.assignJob(ctx, jobID, employeeID)
	return resp, tracker.End(err)
}

func (s *Service) assignJob(ctx context.Context, jobID string, employeeID string) (domain.JobAssignResponse, error) {
	employeeID, err := requiredID("employee", employeeID)
	if err != nil {
		return domain.JobAssignResponse{}, err
	}
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.JobAssignResponse{}, storeError(err)
	}
	if job.Status != domain.JobStatusPending {
		return domain.JobAssignResponse{}, domain.Errorf(domain.ErrInvalidState, "job %s is %s, not Pending", job.JobNumber, job.Status)
	}
	employee, err := s.repo.GetEmployee(ctx, employeeID)
	if err != nil {
		return domain.JobAssignResponse{}, storeError(err)
	}
	if !employee.Active {
		return domain.JobAssignResponse{}, domain.Errorf(domain.ErrInvalidState, "employee %s is inactive", employee.ID)
	}
	if employee.SiteID != job.SiteID {
		return domain.JobAssignResponse{}, domain.Errorf(domain.ErrInvalidState, "employee %s works at %s, job %s is at %s", employee.ID, employee.SiteID, job.JobNumber, job.SiteID)
	}
	active, err := s.repo.CountActiveJobs(ctx, employee.ID)
	if err != nil {
		return domain.JobAssignResponse{}, err
	}
	if active >= s.maxActiveJobs {
		return domain.JobAssignResponse{}, domain.Errorf(domain.ErrInvalidState, "employee %s already holds %d active jobs", employee.ID, active)
	}

	now := s.now()
	next := *job
	next.Status = domain.JobStatusInProgress
	next.AssignedTo = employee.ID
	next.StartedAt = &now

	updated, err := s.repo.UpdateJob(ctx, next, job.Version)
	if err != nil {
		return domain.JobAssignResponse{}, storeError(err)
	}
	s.logAudit(ctx, updated.SiteID, "job_assign", "warehouse_job", updated.ID, fmt.Sprintf("employee=%s", employee.ID))
	return domain.JobAssignResponse{Job: *updated, EstimatedMinutes: EstimatedMinutes(*updated)}, nil
}

// ResolveLineItem records the worker's result for one line. Short and
// Skipped lines move to the back of the job so the worker meets them again
// last.
func (s *Service) ResolveLineItem(ctx context.Context, jobID string, req domain.JobLineResolveRequest) (domain.WarehouseJob, error) {
	tracker := s.metrics.Track("resolve_line")
	job, err := s.resolveLineItem(ctx, jobID, req)
	return job, tracker.End(err)
}

func (s *Service) resolveLineItem(ctx context.Context, jobID string, req domain.JobLineResolveRequest) (domain.WarehouseJob, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.WarehouseJob{}, storeError(err)
	}
	if job.Status != domain.JobStatusInProgress {
		return domain.WarehouseJob{}, domain.Errorf(domain.ErrInvalidState, "job %s is %s, not In-Progress", job.JobNumber, job.Status)
	}
	idx := findLine(job.Lines, req.ProductID)
	if idx < 0 {
		return domain.WarehouseJob{}, domain.Errorf(domain.ErrNotFound, "product %s is not on job %s", req.ProductID, job.JobNumber)
	}

	line, err := resolveLine(job.Type, job.Lines[idx], req)
	if err != nil {
		return domain.WarehouseJob{}, err
	}

	next := *job
	next.Lines = append([]domain.JobLine(nil), job.Lines...)
	if line.Status == domain.LineStatusPicked {
		next.Lines[idx] = line
	} else {
		next.Lines = append(next.Lines[:idx], next.Lines[idx+1:]...)
		next.Lines = append(next.Lines, line)
	}

	updated, err := s.repo.UpdateJob(ctx, next, job.Version)
	if err != nil {
		return domain.WarehouseJob{}, storeError(err)
	}

	if line.Status == domain.LineStatusShort {
		flag := domain.CycleCountFlag{
			ID:          xid.New("ccf"),
			ProductID:   line.ProductID,
			SiteID:      job.SiteID,
			JobID:       job.ID,
			ExpectedQty: line.ExpectedQty,
			ActualQty:   line.ActualQty,
			Reason:      domain.CycleCountShort,
			CreatedAt:   s.now(),
		}
		if err := s.repo.FlagForCycleCount(ctx, flag); err != nil {
			s.logger.WarnContext(ctx, "cycle count flag failed", slog.String("product_id", line.ProductID), slog.Any("error", err))
		}
	}
	s.logAudit(ctx, updated.SiteID, "job_line_resolve", "warehouse_job", updated.ID, fmt.Sprintf("product=%s,outcome=%s,actual=%d", line.ProductID, req.Outcome, line.ActualQty))
	return *updated, nil
}

// findLine prefers the first unresolved line for the product.
func findLine(lines []domain.JobLine, productID string) int {
	fallback := -1
	for i, line := range lines {
		if line.ProductID != productID {
			continue
		}
		if !line.Resolved() {
			return i
		}
		if fallback < 0 {
			fallback = i
		}
	}
	return fallback
}

func resolveLine(jobType string, line domain.JobLine, req domain.JobLineResolveRequest) (domain.JobLine, error) {
	if req.ActualQty < 0 {
		return line, domain.Errorf(domain.ErrInvalidInput, "actual quantity cannot be negative")
	}
	switch req.Outcome {
	case domain.OutcomeNormal:
		if req.ActualQty != line.ExpectedQty {
			return line, domain.Errorf(domain.ErrInvalidInput, "normal outcome needs actual %d to equal expected %d", req.ActualQty, line.ExpectedQty)
		}
		line.Status = domain.LineStatusPicked
		line.ActualQty = req.ActualQty
	case domain.OutcomeShort:
		if req.ActualQty >= line.ExpectedQty {
			return line, domain.Errorf(domain.ErrInvalidInput, "short outcome needs actual %d below expected %d", req.ActualQty, line.ExpectedQty)
		}
		line.Status = domain.LineStatusShort
		line.ActualQty = req.ActualQty
	case domain.OutcomeSkipped:
		line.Status = domain.LineStatusSkipped
		line.ActualQty = 0
	default:
		return line, domain.Errorf(domain.ErrInvalidInput, "unknown outcome %q", req.Outcome)
	}

	bin := ledger.NormalizeBinCode(req.BinCode)
	if jobType == domain.JobTypePutaway && line.ActualQty > 0 {
		if !ledger.IsBinCode(bin) {
			return line, domain.Errorf(domain.ErrInvalidInput, "putaway of %s needs a bin code like A-01-01", line.SKU)
		}
		line.BinCode = bin
	} else if bin != "" {
		line.BinCode = bin
	}
	return line, nil
}

// CompleteJob closes an In-Progress job whose lines are all resolved and
// applies its ledger effect and successor in one store write. A stock version
// conflict is retried once.
func (s *Service) CompleteJob(ctx context.Context, jobID string) (domain.JobCompleteResponse, error) {
	tracker := s.metrics.Track("complete_job")
	resp, err := s.completeJob(ctx, jobID)
	return resp, tracker.End(err)
}

func (s *Service) completeJob(ctx context.Context, jobID string) (domain.JobCompleteResponse, error) {
	var (
		resp    domain.JobCompleteResponse
		changed []domain.StockChange
	)
	err := s.withStockRetry(ctx, "complete_job", func() error {
		job, err := s.repo.GetJob(ctx, jobID)
		if err != nil {
			return storeError(err)
		}
		if job.Status == domain.JobStatusCompleted {
			return domain.Errorf(domain.ErrInvalidState, "job %s is already completed", job.JobNumber)
		}
		if job.Status != domain.JobStatusInProgress {
			return domain.Errorf(domain.ErrInvalidState, "job %s is %s, not In-Progress", job.JobNumber, job.Status)
		}
		for _, line := range job.Lines {
			if !line.Resolved() {
				return domain.Errorf(domain.ErrInvalidState, "job %s has unresolved line %s", job.JobNumber, line.SKU)
			}
		}

		now := s.now()
		changes, err := s.stockEffects(ctx, *job)
		if err != nil {
			return err
		}
		successor := s.successorFor(*job, now)
		flags := skippedLineFlags(*job, now)
		fulfillment := saleFulfillment(*job, successor)

		completed := *job
		completed.Status = domain.JobStatusCompleted
		completed.CompletedAt = &now

		done, err := s.repo.CompleteJob(ctx, store.JobCompletion{
			Job:             completed,
			ExpectedVersion: job.Version,
			StockChanges:    changes,
			Successor:       successor,
			Flags:           flags,
			SaleFulfillment: fulfillment,
		})
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return err
			}
			return storeError(err)
		}
		resp = domain.JobCompleteResponse{Job: *done, Successor: successor, Flags: flags, FulfillmentStatus: fulfillment}
		changed = changes
		return nil
	})
	if err != nil {
		return domain.JobCompleteResponse{}, err
	}

	job := resp.Job
	if resp.Successor != nil {
		s.publishJobCreated(ctx, *resp.Successor)
	}
	if len(changed) > 0 {
		s.invalidateSuggestions(ctx, job.SiteID)
	}
	if resp.FulfillmentStatus == domain.FulfillmentStatusUnfulfilled {
		s.logger.WarnContext(ctx, "job completed with nothing to hand on",
			slog.String("job_id", job.ID),
			slog.String("type", job.Type),
			slog.String("order_ref", job.OrderRef),
		)
	}
	detail := fmt.Sprintf("type=%s,stock_changes=%d,flags=%d", job.Type, len(changed), len(resp.Flags))
	if resp.Successor != nil {
		detail += ",successor=" + resp.Successor.JobNumber
	}
	if resp.FulfillmentStatus != "" {
		detail += ",fulfillment=" + resp.FulfillmentStatus
	}
	s.logAudit(ctx, job.SiteID, "job_complete", "warehouse_job", job.ID, detail)
	return resp, nil
}

// skippedLineFlags raises a cycle count for every skipped PICK or PACK line.
// Short lines are flagged when they are resolved.
func skippedLineFlags(job domain.WarehouseJob, now time.Time) []domain.CycleCountFlag {
	if job.Type != domain.JobTypePick && job.Type != domain.JobTypePack {
		return nil
	}
	var flags []domain.CycleCountFlag
	for _, line := range job.Lines {
		if line.Status != domain.LineStatusSkipped {
			continue
		}
		flags = append(flags, domain.CycleCountFlag{
			ID:          xid.New("ccf"),
			ProductID:   line.ProductID,
			SiteID:      job.SiteID,
			JobID:       job.ID,
			ExpectedQty: line.ExpectedQty,
			ActualQty:   0,
			Reason:      domain.CycleCountSkipped,
			CreatedAt:   now,
		})
	}
	return flags
}

// saleFulfillment is the status the order behind job moves to when job
// completes. PUTAWAY has no order and returns "".
func saleFulfillment(job domain.WarehouseJob, successor *domain.WarehouseJob) string {
	if job.OrderRef == "" {
		return ""
	}
	switch job.Type {
	case domain.JobTypePick:
		if successor == nil {
			return domain.FulfillmentStatusUnfulfilled
		}
		return domain.FulfillmentStatusPacking
	case domain.JobTypePack:
		if successor != nil {
			return domain.FulfillmentStatusShipped
		}
		for _, line := range job.Lines {
			if line.ActualQty > 0 {
				return domain.FulfillmentStatusDelivered
			}
		}
		return domain.FulfillmentStatusUnfulfilled
	case domain.JobTypeDispatch:
		return domain.FulfillmentStatusDelivered
	default:
		return ""
	}
}

// stockEffects computes the conditional stock writes a completing job makes.
// PUTAWAY credits what was put away into the bin. PACK debits what the PICK
// took off the shelf, which is each PACK line's expected quantity; a gap
// between picked and packed is left to the cycle count flags.
func (s *Service) stockEffects(ctx context.Context, job domain.WarehouseJob) ([]domain.StockChange, error) {
	if job.Type != domain.JobTypePutaway && job.Type != domain.JobTypePack {
		return nil, nil
	}

	qty := make(map[string]int, len(job.Lines))
	bins := make(map[string]string, len(job.Lines))
	order := make([]string, 0, len(job.Lines))
	for _, line := range job.Lines {
		moved := line.ActualQty
		if job.Type == domain.JobTypePack {
			moved = line.ExpectedQty
		}
		if moved <= 0 {
			continue
		}
		if _, seen := qty[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		qty[line.ProductID] += moved
		if line.BinCode != "" {
			bins[line.ProductID] = line.BinCode
		}
	}
	if len(order) == 0 {
		return nil, nil
	}

	products, err := s.repo.GetProducts(ctx, order)
	if err != nil {
		return nil, err
	}

	changes := make([]domain.StockChange, 0, len(order))
	for _, productID := range order {
		p, ok := products[productID]
		if !ok {
			return nil, domain.Errorf(domain.ErrNotFound, "product %s on job %s no longer exists", productID, job.JobNumber)
		}
		var change domain.StockChange
		if job.Type == domain.JobTypePutaway {
			change, err = ledger.Credit(p, qty[productID], bins[productID])
		} else {
			change, err = ledger.Debit(p, qty[productID])
		}
		if err != nil {
			if errors.Is(err, domain.ErrNegativeStock) {
				s.logger.ErrorContext(ctx, "pack would drive stock negative",
					slog.String("job_id", job.ID),
					slog.String("product_id", productID),
					slog.Int("stock", p.Stock),
					slog.Int("packed", qty[productID]),
				)
			}
			return nil, err
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// successorFor builds the job a completion spawns: PICK spawns PACK with the
// picked quantities, PACK spawns DISPATCH when goods leave the site.
func (s *Service) successorFor(job domain.WarehouseJob, now time.Time) *domain.WarehouseJob {
	var nextType, location, prefix string
	switch job.Type {
	case domain.JobTypePick:
		nextType, location, prefix = domain.JobTypePack, domain.LocationPackingStation, "PACK"
	case domain.JobTypePack:
		if job.DestSiteID == "" || job.DestSiteID == job.SiteID {
			return nil
		}
		nextType, location, prefix = domain.JobTypeDispatch, domain.LocationDispatchBay, "DSP"
	default:
		return nil
	}

	lines := make([]domain.JobLine, 0, len(job.Lines))
	for _, line := range job.Lines {
		if line.ActualQty <= 0 {
			continue
		}
		lines = append(lines, domain.JobLine{
			ProductID:   line.ProductID,
			SKU:         line.SKU,
			Name:        line.Name,
			ExpectedQty: line.ActualQty,
			Status:      domain.LineStatusPending,
		})
	}
	if len(lines) == 0 {
		return nil
	}

	id := xid.New("job")
	return &domain.WarehouseJob{
		ID:         id,
		JobNumber:  xid.Number(prefix, id),
		SiteID:     job.SiteID,
		DestSiteID: job.DestSiteID,
		Type:       nextType,
		Status:     domain.JobStatusPending,
		Priority:   job.Priority,
		OrderRef:   job.OrderRef,
		Location:   location,
		Lines:      lines,
		CreatedAt:  now,
		Version:    1,
	}
}

// ResetJob returns an unfinished job to Pending with every line result
// cleared. It is a supervisor override.
func (s *Service) ResetJob(ctx context.Context, jobID string) (domain.WarehouseJob, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return domain.WarehouseJob{}, storeError(err)
	}
	if job.Status == domain.JobStatusCompleted {
		return domain.WarehouseJob{}, domain.Errorf(domain.ErrInvalidState, "job %s is completed and cannot be reset", job.JobNumber)
	}

	next := *job
	next.Status = domain.JobStatusPending
	next.AssignedTo = ""
	next.StartedAt = nil
	next.Lines = make([]domain.JobLine, len(job.Lines))
	for i, line := range job.Lines {
		line.ActualQty = 0
		line.Status = domain.LineStatusPending
		if job.Type == domain.JobTypePutaway {
			line.BinCode = ""
		}
		next.Lines[i] = line
	}

	updated, err := s.repo.UpdateJob(ctx, next, job.Version)
	if err != nil {
		return domain.WarehouseJob{}, storeError(err)
	}
	s.logAudit(ctx, updated.SiteID, "job_reset", "warehouse_job", updated.ID, fmt.Sprintf("previous_assignee=%s", job.AssignedTo))
	return *updated, nil
}
