package notification_log

import (
	"context"
	"sync"

	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/pkg/logctx"
	"github.com/fatflowers/stembill/pkg/tool"
	"go.uber.org/fx"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service persists the raw webhook log off the request path.
type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
	wg  sync.WaitGroup
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// Save asynchronously persists a webhook event log. Nil input is ignored.
// The entry is copied so the caller may keep mutating its value.
func (s *Service) Save(ctx context.Context, entry *models.WebhookEventLog) {
	if entry == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = tool.GenerateUUIDV7()
	}
	if entry.TraceID == "" {
		entry.TraceID = logctx.TraceID(ctx)
	}
	row := *entry
	lg := logctx.FromCtx(ctx, s.log)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.db.Save(&row).Error; err != nil {
			lg.Errorw("failed to save webhook event log", "event_id", row.EventID, "status", row.Status, "err", err)
		}
	}()
}

// Wait blocks until pending saves finish. Called on shutdown.
func (s *Service) Wait() { s.wg.Wait() }

func registerDrain(lc fx.Lifecycle, s *Service) {
	lc.Append(fx.StopHook(s.Wait))
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(registerDrain),
)
