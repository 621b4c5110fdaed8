package transaction

import (
	"context"
	"fmt"

	models "github.com/fatflowers/stembill/internal/models"
	types "github.com/fatflowers/stembill/pkg/types"
	"github.com/samber/lo"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Columns admin list endpoints may filter and sort on.
var (
	transactionFilterFields = []string{
		"id", "user_id", "type", "external_ref", "amount", "currency", "subscription_external_id",
		"invoice_id", "payment_intent_id", "charge_id", "project_id", "refunded_at", "created_at",
	}
	transactionSortFields = []string{"created_at", "amount", "type", "user_id"}

	activityFilterFields = []string{"id", "user_id", "action", "target_type", "target_id", "created_at"}
	activitySortFields   = []string{"created_at", "action", "user_id"}
)

// ScanRequest is the paginated listing request shared by the admin ledger pages.
type ScanRequest struct {
	Filters   []types.CommonFilter `json:"filters"`
	From      int                  `json:"from"`
	Size      int                  `json:"size"`
	SortBy    string               `json:"sort_by"`
	SortOrder string               `json:"sort_order"`
}

type ScanTransactionsResponse struct {
	Items []*models.Transaction `json:"items"`
	Total int64                 `json:"total"`
}

type ScanActivitiesResponse struct {
	Items []*models.Activity `json:"items"`
	Total int64              `json:"total"`
}

// Service serves the read side of the ledger and the audit log.
type Service struct {
	log *zap.SugaredLogger
	db  *gorm.DB
}

func NewService(log *zap.SugaredLogger, db *gorm.DB) *Service {
	return &Service{log: log, db: db}
}

// filtersAnd is a helper to combine multiple CommonFilter into a single clause.Expression
type filtersAnd struct{ filters []types.CommonFilter }

func (w filtersAnd) Build(builder clause.Builder) {
	if len(w.filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	exprs := make([]clause.Expression, 0, len(w.filters))
	for i := range w.filters {
		exprs = append(exprs, &w.filters[i])
	}
	clause.And(exprs...).Build(builder)
}

// normalize validates req against the allowlists and fills paging defaults.
func (r *ScanRequest) normalize(filterFields, sortFields []string) error {
	if err := types.ValidateFilters(r.Filters, filterFields); err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvariantViolation, err)
	}
	r.SortBy = lo.CoalesceOrEmpty(r.SortBy, "created_at")
	if !lo.Contains(sortFields, r.SortBy) {
		return fmt.Errorf("%w: cannot sort by %q", types.ErrInvariantViolation, r.SortBy)
	}
	if r.SortOrder != "" && r.SortOrder != "asc" && r.SortOrder != "desc" {
		return fmt.Errorf("%w: sort order must be asc or desc", types.ErrInvariantViolation)
	}
	if r.Size <= 0 {
		r.Size = defaultPageSize
	}
	r.Size = min(r.Size, maxPageSize)
	r.From = max(r.From, 0)
	return nil
}

func scan[T any](ctx context.Context, db *gorm.DB, req *ScanRequest) ([]*T, int64, error) {
	tx := db.WithContext(ctx).Model(new(T))
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{filtersAnd{filters: req.Filters}}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := tx.Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}
	// id breaks ties so pages stay stable when created_at collides.
	q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: req.SortBy}, Desc: req.SortOrder != "asc"},
		{Column: clause.Column{Name: "id"}, Desc: req.SortOrder != "asc"},
	}})

	var rows []*T
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// ScanTransactions implements paginated/admin listing of ledger rows with filters.
func (s *Service) ScanTransactions(ctx context.Context, req *ScanRequest) (*ScanTransactionsResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", types.ErrInvariantViolation)
	}
	if err := req.normalize(transactionFilterFields, transactionSortFields); err != nil {
		return nil, err
	}
	rows, total, err := scan[models.Transaction](ctx, s.db, req)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return &ScanTransactionsResponse{Items: rows, Total: total}, nil
}

// ScanActivities lists audit entries the same way.
func (s *Service) ScanActivities(ctx context.Context, req *ScanRequest) (*ScanActivitiesResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", types.ErrInvariantViolation)
	}
	if err := req.normalize(activityFilterFields, activitySortFields); err != nil {
		return nil, err
	}
	rows, total, err := scan[models.Activity](ctx, s.db, req)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	return &ScanActivitiesResponse{Items: rows, Total: total}, nil
}
