package notification_log

import (
	"context"
	"testing"

	"github.com/fatflowers/stembill/internal/models"
	"github.com/fatflowers/stembill/internal/platform/db/dbtest"
	"github.com/fatflowers/stembill/pkg/logctx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSaveThenUpdateStatus(t *testing.T) {
	gdb := dbtest.New(t)
	s := New(gdb, zap.NewNop().Sugar())
	ctx := logctx.WithTraceID(context.Background(), "trace-9")

	entry := &models.WebhookEventLog{Endpoint: "stripe", EventID: "evt_1", EventType: "x", Status: models.WebhookEventLogStatusReceived}
	s.Save(ctx, entry)
	s.Wait()

	entry.Status = models.WebhookEventLogStatusHandled
	entry.Result = map[string]any{"outcome": "applied"}
	s.Save(ctx, entry)
	s.Wait()

	var rows []models.WebhookEventLog
	require.NoError(t, gdb.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, models.WebhookEventLogStatusHandled, rows[0].Status)
	require.Equal(t, "trace-9", rows[0].TraceID)
	require.Equal(t, "applied", rows[0].Result["outcome"])

	s.Save(ctx, nil)
}
