package app

import (
	"time"

	"github.com/fatflowers/stembill/internal/app/api/server"
	"github.com/fatflowers/stembill/internal/app/service/activity"
	"github.com/fatflowers/stembill/internal/app/service/event_dedup"
	"github.com/fatflowers/stembill/internal/app/service/event_verifier"
	notificationhandler "github.com/fatflowers/stembill/internal/app/service/notification_handler"
	notificationlog "github.com/fatflowers/stembill/internal/app/service/notification_log"
	"github.com/fatflowers/stembill/internal/app/service/payment_settler"
	"github.com/fatflowers/stembill/internal/app/service/plan_catalog"
	"github.com/fatflowers/stembill/internal/app/service/plan_change"
	"github.com/fatflowers/stembill/internal/app/service/reconciler"
	"github.com/fatflowers/stembill/internal/app/service/statistics"
	"github.com/fatflowers/stembill/internal/app/service/storage_limit"
	"github.com/fatflowers/stembill/internal/app/service/storage_usage"
	"github.com/fatflowers/stembill/internal/app/service/transaction"
	"github.com/fatflowers/stembill/internal/platform/db"
	"github.com/fatflowers/stembill/internal/platform/keylock"
	"github.com/fatflowers/stembill/internal/platform/stripe/stripe_client"
	"github.com/fatflowers/stembill/pkg/config"
	"github.com/fatflowers/stembill/pkg/logger"
	"github.com/fatflowers/stembill/pkg/metrics"

	"go.uber.org/fx"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	metrics.Module,
	keylock.Module,
	stripe_client.Module,
	server.Module,
	plan_catalog.Module,
	storage_limit.Module,
	event_verifier.Module,
	event_dedup.Module,
	activity.Module,
	payment_settler.Module,
	reconciler.Module,
	plan_change.Module,
	storage_usage.Module,
	statistics.Module,
	notificationlog.Module,
	notificationhandler.Module,
	transaction.Module,
)
