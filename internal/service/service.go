package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/events"
	"siifmart/backend/internal/metrics"
	"siifmart/backend/internal/replenishment"
	"siifmart/backend/internal/store"
	"siifmart/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	DefaultSiteID string
	TaxRules      []domain.TaxRule
	CashRounding  bool
	MaxActiveJobs int
	Publisher     events.Publisher
	Suggestions   *replenishment.Engine
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	Clock         func() time.Time
}

// Service runs the fulfillment operations. Callers are expected to have
// authorized the request already; the actor in ctx is used for attribution.
type Service struct {
	repo          store.Repository
	defaultSiteID string
	taxRules      []domain.TaxRule
	cashRounding  bool
	maxActiveJobs int
	publisher     events.Publisher
	suggestions   *replenishment.Engine
	metrics       *metrics.Metrics
	logger        *slog.Logger
	clock         func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.DefaultSiteID == "" {
		opts.DefaultSiteID = "site-main"
	}
	if opts.MaxActiveJobs < 1 {
		opts.MaxActiveJobs = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.LogPublisher{Logger: opts.Logger}
	}
	if opts.Suggestions == nil {
		opts.Suggestions = replenishment.NewEngine(repo, nil, 0, opts.Logger)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Service{
		repo:          repo,
		defaultSiteID: opts.DefaultSiteID,
		taxRules:      opts.TaxRules,
		cashRounding:  opts.CashRounding,
		maxActiveJobs: opts.MaxActiveJobs,
		publisher:     opts.Publisher,
		suggestions:   opts.Suggestions,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		clock:         opts.Clock,
	}
}

func (s *Service) DefaultSiteID() string {
	return s.defaultSiteID
}

func (s *Service) TaxRules() []domain.TaxRule {
	return append([]domain.TaxRule(nil), s.taxRules...)
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) siteOrDefault(siteID string) string {
	siteID = strings.TrimSpace(siteID)
	if siteID == "" {
		return s.defaultSiteID
	}
	return siteID
}

// withStockRetry runs attempt and, on a version conflict, runs it exactly once
// more. attempt must re-read every versioned row it writes.
func (s *Service) withStockRetry(ctx context.Context, operation string, attempt func() error) error {
	err := attempt()
	if !errors.Is(err, store.ErrConflict) {
		return err
	}
	s.logger.WarnContext(ctx, "stock version conflict, retrying", slog.String("operation", operation), slog.Any("error", err))

	err = attempt()
	if errors.Is(err, store.ErrConflict) {
		s.metrics.StockRetry(operation, false)
		return domain.Wrap(domain.ErrStockRaceUnresolved, err)
	}
	s.metrics.StockRetry(operation, err == nil)
	return err
}

// storeError maps store sentinels onto domain errors. Unknown errors pass
// through and surface as internal failures.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.As(err, new(*domain.Error)):
		return err
	case errors.Is(err, store.ErrNotFound):
		return domain.Wrap(domain.ErrNotFound, err)
	case errors.Is(err, store.ErrInvalidState):
		return domain.Wrap(domain.ErrInvalidState, err)
	case errors.Is(err, store.ErrInsufficientStock):
		return domain.Wrap(domain.ErrInsufficientStock, err)
	case errors.Is(err, store.ErrUsageExhausted):
		return domain.Wrap(domain.ErrInvalidCode, err)
	case errors.Is(err, store.ErrQuantityExceeded):
		return domain.Wrap(domain.ErrInvalidInput, err)
	case errors.Is(err, store.ErrDuplicate):
		return domain.Wrap(domain.ErrInvalidState, err)
	case errors.Is(err, store.ErrConflict):
		return domain.Wrap(domain.ErrJobConflict, err)
	default:
		return err
	}
}

func (s *Service) logAudit(ctx context.Context, siteID string, action string, entityType string, entityID string, detail string) {
	if siteID == "" {
		siteID = s.defaultSiteID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		SiteID:        siteID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.WarnContext(ctx, "audit write failed",
			slog.String("action", action),
			slog.String("entity", entityType+"/"+entityID),
			slog.Any("error", err),
		)
	}
}

func (s *Service) publishJobCreated(ctx context.Context, job domain.WarehouseJob) {
	s.metrics.JobCreated(job.Type)
	err := s.publisher.PublishJobCreated(ctx, events.JobCreatedPayload{
		JobID:     job.ID,
		JobNumber: job.JobNumber,
		SiteID:    job.SiteID,
		Type:      job.Type,
		Priority:  job.Priority,
		OrderRef:  job.OrderRef,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "publish job created", slog.String("job_id", job.ID), slog.Any("error", err))
	}
}

func (s *Service) publishLowStock(ctx context.Context, p domain.Product, remaining int) {
	err := s.publisher.PublishLowStock(ctx, events.LowStockPayload{
		ProductID: p.ID,
		SKU:       p.SKU,
		SiteID:    p.SiteID,
		Stock:     remaining,
		MinStock:  minStockOf(p),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "publish low stock", slog.String("product_id", p.ID), slog.Any("error", err))
	}
}

func (s *Service) invalidateSuggestions(ctx context.Context, siteID string) {
	if err := s.suggestions.Invalidate(ctx, siteID); err != nil {
		s.logger.WarnContext(ctx, "invalidate suggestions", slog.String("site_id", siteID), slog.Any("error", err))
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, siteID string, date string, limit int) ([]domain.AuditLog, error) {
	siteID = s.siteOrDefault(siteID)
	from := s.now().Truncate(24 * time.Hour)
	if date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, domain.Errorf(domain.ErrInvalidInput, "date must be YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	if limit < 1 || limit > 500 {
		limit = 200
	}
	return s.repo.ListAuditLogs(ctx, siteID, from, from.Add(24*time.Hour), limit)
}

func minStockOf(p domain.Product) int {
	if p.MinStock <= 0 {
		return domain.DefaultMinStock
	}
	return p.MinStock
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

func requiredID(kind string, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", domain.Errorf(domain.ErrInvalidInput, "%s id is required", kind)
	}
	return id, nil
}

func describeItems(n int) string {
	return fmt.Sprintf("items=%d", n)
}
