package event_dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/internal/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Admission int

const (
	Admitted Admission = iota + 1
	AlreadyProcessed
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case AlreadyProcessed:
		return "already_processed"
	}
	return "unknown"
}

// Store is the slice of the repository Admit needs. Passing the transaction
// bound repository makes the dedup row commit or roll back with the mutation.
type Store interface {
	InsertProcessedEventIfAbsent(ctx context.Context, ev *models.ProcessedEvent) (bool, error)
}

// Deduplicator gates webhook processing on the processed_events primary key.
type Deduplicator struct {
	repo repository.Repository
	log  *zap.SugaredLogger
	now  func() time.Time
}

func New(repo repository.Repository, log *zap.SugaredLogger) *Deduplicator {
	return &Deduplicator{repo: repo, log: log, now: time.Now}
}

// Admit records eventID through store. The insert is insert-or-conflict so
// two concurrent deliveries of one event cannot both be admitted.
func (d *Deduplicator) Admit(ctx context.Context, store Store, eventID, eventType string) (Admission, error) {
	if eventID == "" {
		return 0, errors.New("dedup: empty event id")
	}
	inserted, err := store.InsertProcessedEventIfAbsent(ctx, &models.ProcessedEvent{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: d.now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("dedup: insert processed event %s: %w", eventID, err)
	}
	if !inserted {
		return AlreadyProcessed, nil
	}
	return Admitted, nil
}

// Seen is a read-only pre-check used to skip provider calls for obvious
// redeliveries. It is advisory; Admit is the gate.
func (d *Deduplicator) Seen(ctx context.Context, eventID string) (bool, error) {
	return d.repo.ProcessedEventExists(ctx, eventID)
}

// Reset forgets eventID so the next delivery is processed again. This is the
// only way to replay an event that was acknowledged without effect.
func (d *Deduplicator) Reset(ctx context.Context, eventID string) (bool, error) {
	deleted, err := d.repo.DeleteProcessedEvent(ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("dedup: reset %s: %w", eventID, err)
	}
	d.log.Infow("processed event reset", "event_id", eventID, "existed", deleted)
	return deleted, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
