package statistics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/pkg/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type StatisticType string

const (
	// Ledger rows per day, split by transaction type and currency.
	StatisticTypeDailyLedger StatisticType = "daily_ledger"

	// Point-in-time counts.
	StatisticTypeActiveSubscriptionsByPlan StatisticType = "active_subscriptions_by_plan"
	StatisticTypeUsersByStatus             StatisticType = "users_by_status"
	StatisticTypeUsersInGrace              StatisticType = "users_in_grace"
	StatisticTypeUsersOverLimit            StatisticType = "users_over_limit"
	StatisticTypeProjectsByPaymentStatus   StatisticType = "projects_by_payment_status"
)

var allStatisticTypes = []StatisticType{
	StatisticTypeDailyLedger,
	StatisticTypeActiveSubscriptionsByPlan,
	StatisticTypeUsersByStatus,
	StatisticTypeUsersInGrace,
	StatisticTypeUsersOverLimit,
	StatisticTypeProjectsByPaymentStatus,
}

const (
	defaultDays = 30
	maxDays     = 366
)

type BillingSummaryRequest struct {
	// Days bounds the daily series, counting back from today (UTC).
	Days      int             `json:"days"`
	DataItems []StatisticType `json:"data_items"`
}

type StatisticDataItem struct {
	Date  string `json:"date,omitempty"`
	Group string `json:"group,omitempty"`
	Label string `json:"label,omitempty"`
	Value int64  `json:"value"`
	// Amount is set for money series, in major currency units.
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

type BillingSummaryResponse struct {
	DataItems map[StatisticType][]StatisticDataItem `json:"data_items"`
}

// Service computes the admin billing summary. Queries stay within SQL that
// postgres and sqlite share; day bucketing happens in Go.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Service { return &Service{db: db, now: time.Now} }

type groupCount struct {
	Label string
	Value int64
}

func (s *Service) countBy(ctx context.Context, model any, column string, where ...any) ([]StatisticDataItem, error) {
	var rows []groupCount
	q := s.db.WithContext(ctx).Model(model).Select(column + " AS label, count(*) AS value")
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	if err := q.Group(column).Order("label").Scan(&rows).Error; err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r groupCount, _ int) StatisticDataItem {
		return StatisticDataItem{Label: r.Label, Value: r.Value}
	}), nil
}

func (s *Service) count(ctx context.Context, model any, query any, args ...any) ([]StatisticDataItem, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(model).Where(query, args...).Count(&n).Error; err != nil {
		return nil, err
	}
	return []StatisticDataItem{{Value: n}}, nil
}

func (s *Service) getDailyLedger(ctx context.Context, days int) ([]StatisticDataItem, error) {
	since := s.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -(days - 1))
	var rows []*models.Transaction
	err := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("type", "currency", "amount", "created_at").
		Where("created_at >= ?", since).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	type key struct{ date, typ, currency string }
	buckets := make(map[key]*StatisticDataItem)
	for _, r := range rows {
		k := key{r.CreatedAt.UTC().Format(time.DateOnly), string(r.Type), r.Currency}
		b, ok := buckets[k]
		if !ok {
			b = &StatisticDataItem{Date: k.date, Group: k.typ, Label: k.currency, Amount: lo.ToPtr(decimal.Zero)}
			buckets[k] = b
		}
		b.Value++
		b.Amount = lo.ToPtr(b.Amount.Add(r.Amount))
	}

	out := lo.Map(lo.Values(buckets), func(b *StatisticDataItem, _ int) StatisticDataItem { return *b })
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		if out[i].Group != out[j].Group {
			return out[i].Group < out[j].Group
		}
		return out[i].Label < out[j].Label
	})
	return out, nil
}

func (s *Service) getStatistic(ctx context.Context, req *BillingSummaryRequest, id StatisticType) ([]StatisticDataItem, error) {
	switch id {
	case StatisticTypeDailyLedger:
		return s.getDailyLedger(ctx, req.Days)
	case StatisticTypeActiveSubscriptionsByPlan:
		return s.countBy(ctx, &models.Subscription{}, "plan", "is_active = ?", true)
	case StatisticTypeUsersByStatus:
		return s.countBy(ctx, &models.User{}, "subscription_status")
	case StatisticTypeUsersInGrace:
		return s.count(ctx, &models.User{}, "is_in_grace_period = ?", true)
	case StatisticTypeUsersOverLimit:
		return s.count(ctx, &models.User{}, "has_exceeded_storage_limit = ?", true)
	case StatisticTypeProjectsByPaymentStatus:
		return s.countBy(ctx, &models.Project{}, "payment_status")
	default:
		return nil, fmt.Errorf("%w: invalid data item id: %s", types.ErrInvariantViolation, id)
	}
}

// BillingSummary computes the requested series concurrently. An empty
// DataItems asks for all of them.
func (s *Service) BillingSummary(ctx context.Context, req *BillingSummaryRequest) (*BillingSummaryResponse, error) {
	if req == nil {
		req = &BillingSummaryRequest{}
	}
	if req.Days <= 0 {
		req.Days = defaultDays
	}
	req.Days = min(req.Days, maxDays)
	items := lo.Uniq(lo.Ternary(len(req.DataItems) == 0, allStatisticTypes, req.DataItems))
	for _, id := range items {
		if !lo.Contains(allStatisticTypes, id) {
			return nil, fmt.Errorf("%w: invalid data item id: %s", types.ErrInvariantViolation, id)
		}
	}

	results := make([][]StatisticDataItem, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range items {
		g.Go(func() error {
			res, err := s.getStatistic(gctx, req, id)
			if err != nil {
				return fmt.Errorf("statistic %s: %w", id, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[StatisticType][]StatisticDataItem, len(items))
	for i, id := range items {
		if results[i] == nil {
			results[i] = []StatisticDataItem{}
		}
		out[id] = results[i]
	}
	return &BillingSummaryResponse{DataItems: out}, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
