package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/pkg/tool"
	"github.com/fatflowers/stembill/pkg/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormRepository struct {
	db *gorm.DB
}

// NewGormRepository returns a Repository backed by db. db must be opened with
// TranslateError so unique violations surface as gorm.ErrDuplicatedKey.
func NewGormRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) conn(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func first[T any](q *gorm.DB) (*T, error) {
	var out T
	if err := q.First(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (r *gormRepository) FindSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	return first[models.Subscription](r.conn(ctx).Where("external_id = ?", externalID))
}

func (r *gormRepository) FindActiveSubscriptionByUser(ctx context.Context, userID string) (*models.Subscription, error) {
	return first[models.Subscription](r.conn(ctx).Where("user_id = ? AND is_active = ?", userID, true))
}

func (r *gormRepository) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	now := time.Now()
	if sub.ID == "" {
		sub.ID = tool.GenerateUUIDV7()
		sub.Version = 1
		sub.CreatedAt, sub.UpdatedAt = now, now
		if err := r.conn(ctx).Create(sub).Error; err != nil {
			sub.ID, sub.Version = "", 0
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrConcurrentUpdate
			}
			return err
		}
		return nil
	}

	res := r.conn(ctx).Model(&models.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, sub.Version).
		Updates(map[string]any{
			"user_id":              sub.UserID,
			"plan":                 sub.Plan,
			"price_id":             sub.PriceID,
			"interval":             sub.Interval,
			"start_date":           sub.StartDate,
			"end_date":             sub.EndDate,
			"cancel_at_period_end": sub.CancelAtPeriodEnd,
			"is_active":            sub.IsActive,
			"pending_downgrade_to": sub.PendingDowngradeTo,
			"pending_downgrade_at": sub.PendingDowngradeAt,
			"version":              sub.Version + 1,
			"updated_at":           now,
		})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ErrConcurrentUpdate
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	sub.Version++
	sub.UpdatedAt = now
	return nil
}

func (r *gormRepository) DeactivateOtherSubscriptions(ctx context.Context, userID, keepExternalID string) (int64, error) {
	res := r.conn(ctx).Model(&models.Subscription{}).
		Where("user_id = ? AND is_active = ? AND external_id <> ?", userID, true, keepExternalID).
		Updates(map[string]any{
			"is_active":  false,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (r *gormRepository) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	return first[models.User](r.conn(ctx).Where("id = ?", id))
}

func (r *gormRepository) FindUserByExternalCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	return first[models.User](r.conn(ctx).Where("stripe_customer_id = ?", customerID))
}

func (r *gormRepository) FindUserByConnectedAccountID(ctx context.Context, accountID string) (*models.User, error) {
	return first[models.User](r.conn(ctx).Where("connected_account_id = ?", accountID))
}

func (r *gormRepository) UpdateUser(ctx context.Context, user *models.User) error {
	now := time.Now()
	res := r.conn(ctx).Model(&models.User{}).
		Where("id = ? AND version = ?", user.ID, user.Version).
		Updates(map[string]any{
			"subscription_status":        user.SubscriptionStatus,
			"storage_used":               user.StorageUsed,
			"storage_limit":              user.StorageLimit,
			"has_exceeded_storage_limit": user.HasExceededStorageLimit,
			"is_in_grace_period":         user.IsInGracePeriod,
			"grace_period_expires_at":    user.GracePeriodExpiresAt,
			"is_connected_to_stripe":     user.IsConnectedToStripe,
			"connected_account_id":       user.ConnectedAccountID,
			"is_founder_member":          user.IsFounderMember,
			"version":                    user.Version + 1,
			"updated_at":                 now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	user.Version++
	user.UpdatedAt = now
	return nil
}

func (r *gormRepository) CreateTransaction(ctx context.Context, txn *models.Transaction) (bool, error) {
	if txn.ID == "" {
		txn.ID = tool.GenerateUUIDV7()
	}
	res := r.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "type"}, {Name: "external_ref"}},
		DoNothing: true,
	}).Create(txn)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func paymentMatch(paymentIntentID, chargeID string) []clause.Expression {
	var match []clause.Expression
	if paymentIntentID != "" {
		match = append(match, clause.Eq{Column: clause.Column{Name: "payment_intent_id"}, Value: paymentIntentID})
	}
	if chargeID != "" {
		match = append(match, clause.Eq{Column: clause.Column{Name: "charge_id"}, Value: chargeID})
	}
	return match
}

func (r *gormRepository) FindPaymentTransaction(ctx context.Context, paymentIntentID, chargeID string) (*models.Transaction, error) {
	match := paymentMatch(paymentIntentID, chargeID)
	if len(match) == 0 {
		return nil, ErrNotFound
	}
	return first[models.Transaction](r.conn(ctx).
		Where(clause.Or(match...)).
		Where("type <> ?", types.TransactionTypeRefund).
		Order("created_at ASC"))
}

func (r *gormRepository) MarkTransactionsRefunded(ctx context.Context, paymentIntentID, chargeID string, at time.Time) (int64, error) {
	match := paymentMatch(paymentIntentID, chargeID)
	if len(match) == 0 {
		return 0, nil
	}
	res := r.conn(ctx).Model(&models.Transaction{}).
		Where(clause.Or(match...)).
		Where("refunded_at IS NULL AND type <> ?", types.TransactionTypeRefund).
		Updates(map[string]any{"refunded_at": at, "updated_at": time.Now()})
	return res.RowsAffected, res.Error
}

func (r *gormRepository) RefundedAmount(ctx context.Context, paymentIntentID, chargeID string) (decimal.Decimal, error) {
	match := paymentMatch(paymentIntentID, chargeID)
	if len(match) == 0 {
		return decimal.Zero, nil
	}
	var amounts []decimal.Decimal
	err := r.conn(ctx).Model(&models.Transaction{}).
		Where(clause.Or(match...)).
		Where("type = ?", types.TransactionTypeRefund).
		Pluck("amount", &amounts).Error
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, amounts...).Neg(), nil
}

func (r *gormRepository) FindProject(ctx context.Context, projectID string) (*models.Project, error) {
	return first[models.Project](r.conn(ctx).Where("id = ?", projectID))
}

func (r *gormRepository) UpdateProjectPaymentStatus(ctx context.Context, projectID string, from, to types.PaymentStatus) (bool, error) {
	res := r.conn(ctx).Model(&models.Project{}).
		Where("id = ? AND payment_status = ?", projectID, from).
		Updates(map[string]any{"payment_status": to, "updated_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) MarkProjectFilesDownloadable(ctx context.Context, projectID string) (int64, error) {
	res := r.conn(ctx).Model(&models.ProjectFile{}).
		Where("project_id = ? AND is_downloadable = ?", projectID, false).
		Updates(map[string]any{"is_downloadable": true, "updated_at": time.Now()})
	return res.RowsAffected, res.Error
}

func (r *gormRepository) InsertProcessedEventIfAbsent(ctx context.Context, ev *models.ProcessedEvent) (bool, error) {
	res := r.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ev)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) ProcessedEventExists(ctx context.Context, eventID string) (bool, error) {
	var n int64
	err := r.conn(ctx).Model(&models.ProcessedEvent{}).Where("event_id = ?", eventID).Count(&n).Error
	return n > 0, err
}

func (r *gormRepository) DeleteProcessedEvent(ctx context.Context, eventID string) (bool, error) {
	res := r.conn(ctx).Where("event_id = ?", eventID).Delete(&models.ProcessedEvent{})
	return res.RowsAffected > 0, res.Error
}

func (r *gormRepository) CreateActivity(ctx context.Context, a *models.Activity) error {
	if a.ID == "" {
		a.ID = tool.GenerateUUIDV7()
	}
	return r.conn(ctx).Create(a).Error
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}
