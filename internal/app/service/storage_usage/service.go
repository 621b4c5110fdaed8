package storage_usage

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatflowers/stembill/internal/app/service/activity"
	"github.com/fatflowers/stembill/internal/app/service/storage_limit"
	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/internal/repository"
	"github.com/fatflowers/stembill/pkg/logctx"
	"github.com/fatflowers/stembill/pkg/types"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxAttempts = 3

type RecalculateRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	StorageUsed *int64 `json:"storage_used" binding:"required"`
}

// Service records a new storage usage figure reported by the upload path and
// re-derives the storage flags. It never opens a grace window; that only
// happens when the limit drops.
type Service struct {
	repo    repository.Repository
	storage *storage_limit.Evaluator
	audit   *activity.Recorder
	log     *zap.SugaredLogger
}

func New(repo repository.Repository, storage *storage_limit.Evaluator, audit *activity.Recorder, log *zap.SugaredLogger) *Service {
	return &Service{repo: repo, storage: storage, audit: audit, log: log}
}

func (s *Service) Recalculate(ctx context.Context, req *RecalculateRequest) (*models.User, error) {
	used := lo.FromPtr(req.StorageUsed)
	if used < 0 {
		return nil, fmt.Errorf("%w: negative storage usage", types.ErrInvariantViolation)
	}
	var (
		user       *models.User
		prev, next storage_limit.State
	)
	err := repository.RunInTransaction(ctx, s.repo, maxAttempts, func(tx repository.Repository) error {
		var err error
		user, err = tx.FindUserByID(ctx, req.UserID)
		if err != nil {
			return err
		}
		prev = storage_limit.Of(user)
		user.StorageUsed = used
		next = s.storage.Recheck(used, user.StorageLimit, prev)
		next.ApplyTo(user)
		return tx.UpdateUser(ctx, user)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("user %s: %w", req.UserID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("recalculate storage of %s: %w", req.UserID, err)
	}

	if prev.IsInGracePeriod && !next.IsInGracePeriod {
		s.audit.Record(ctx, user.ID, activity.ActionStorageGraceCleared, activity.TargetUser, lo.ToPtr(user.ID), map[string]any{
			"storage_used":  user.StorageUsed,
			"storage_limit": user.StorageLimit,
		})
	}
	logctx.FromCtx(ctx, s.log).Debugw("storage recalculated", "user_id", user.ID,
		"storage_used", user.StorageUsed, "storage_limit", user.StorageLimit, "exceeded", next.HasExceededStorageLimit)
	return user, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
