package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/pkg/types"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("repository: record not found")
	// ErrConcurrentUpdate means a conditional write lost to another writer.
	// The caller should re-read and retry.
	ErrConcurrentUpdate = errors.New("repository: row changed concurrently")
)

// Repository is the persistence surface used by the billing core.
// Writes to Subscription and User are conditional on Version; on success
// the passed model's Version is advanced.
type Repository interface {
	FindSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error)
	FindActiveSubscriptionByUser(ctx context.Context, userID string) (*models.Subscription, error)
	// UpsertSubscription inserts sub when ID is empty, otherwise updates it.
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	// DeactivateOtherSubscriptions clears IsActive on every active subscription
	// of userID except keepExternalID and returns how many rows changed.
	DeactivateOtherSubscriptions(ctx context.Context, userID, keepExternalID string) (int64, error)

	FindUserByID(ctx context.Context, id string) (*models.User, error)
	FindUserByExternalCustomerID(ctx context.Context, customerID string) (*models.User, error)
	FindUserByConnectedAccountID(ctx context.Context, accountID string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error

	// CreateTransaction returns false when a row with the same type and
	// external ref already exists.
	CreateTransaction(ctx context.Context, txn *models.Transaction) (bool, error)
	// FindPaymentTransaction returns the oldest non-refund row booked for the
	// PaymentIntent or charge.
	FindPaymentTransaction(ctx context.Context, paymentIntentID, chargeID string) (*models.Transaction, error)
	// MarkTransactionsRefunded stamps RefundedAt on non-refund rows matching
	// either id. Empty ids are ignored.
	MarkTransactionsRefunded(ctx context.Context, paymentIntentID, chargeID string, at time.Time) (int64, error)
	// RefundedAmount sums the refund rows already booked against the
	// PaymentIntent or charge, as a positive amount.
	RefundedAmount(ctx context.Context, paymentIntentID, chargeID string) (decimal.Decimal, error)

	FindProject(ctx context.Context, projectID string) (*models.Project, error)
	// UpdateProjectPaymentStatus moves the project from one status to another
	// and reports false if it was not in `from`.
	UpdateProjectPaymentStatus(ctx context.Context, projectID string, from, to types.PaymentStatus) (bool, error)
	MarkProjectFilesDownloadable(ctx context.Context, projectID string) (int64, error)

	InsertProcessedEventIfAbsent(ctx context.Context, ev *models.ProcessedEvent) (bool, error)
	ProcessedEventExists(ctx context.Context, eventID string) (bool, error)
	DeleteProcessedEvent(ctx context.Context, eventID string) (bool, error)

	CreateActivity(ctx context.Context, a *models.Activity) error

	// Transaction runs fn against a repository bound to one database
	// transaction. fn's error rolls everything back.
	Transaction(ctx context.Context, fn func(tx Repository) error) error
}

// RunInTransaction runs fn in a transaction and retries it, up to attempts
// times in total, while it fails with ErrConcurrentUpdate.
func RunInTransaction(ctx context.Context, repo Repository, attempts int, fn func(tx Repository) error) error {
	var err error
	for i := 0; i < max(attempts, 1); i++ {
		if err = repo.Transaction(ctx, fn); !errors.Is(err, ErrConcurrentUpdate) {
			return err
		}
	}
	return err
}
