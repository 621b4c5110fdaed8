package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fatflowers/stembill/docs"
	"github.com/fatflowers/stembill/internal/app/api/handlers"
	"github.com/fatflowers/stembill/internal/app/service/event_dedup"
	nh "github.com/fatflowers/stembill/internal/app/service/notification_handler"
	"github.com/fatflowers/stembill/internal/app/service/payment_settler"
	"github.com/fatflowers/stembill/internal/app/service/plan_change"
	"github.com/fatflowers/stembill/internal/app/service/statistics"
	"github.com/fatflowers/stembill/internal/app/service/storage_usage"
	"github.com/fatflowers/stembill/internal/app/service/transaction"
	cfgpkg "github.com/fatflowers/stembill/pkg/config"

	mw "github.com/fatflowers/stembill/internal/app/api/middleware"

	metrics "github.com/fatflowers/stembill/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newEngine(cfg *cfgpkg.Config) *gin.Engine {
	if cfg.Env != cfgpkg.EnvDev {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	// Add request tracing middleware only; request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

type routeDeps struct {
	fx.In

	Log        *zap.SugaredLogger
	Cfg        *cfgpkg.Config
	Registerer prometheus.Registerer
	Engine     *gin.Engine
	Lifecycle  fx.Lifecycle

	Webhooks *nh.NotificationHandler
	Plans    *plan_change.Service
	Settler  *payment_settler.Settler
	Storage  *storage_usage.Service
	Ledger   *transaction.Service
	Dedup    *event_dedup.Deduplicator
	Stats    *statistics.Service
}

func registerRoutes(d routeDeps) {
	r, log, cfg := d.Engine, d.Log, d.Cfg

	// Prometheus metrics
	if cfg.MetricsAddr != "" {
		p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			Subsystem:  "stembill",
			Registerer: d.Registerer,
			Logger:     log,
		})
		srv := p.Use(r, cfg.MetricsAddr)
		d.Lifecycle.Append(fx.StopHook(srv.Shutdown))

		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}
	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterHealthRoutes(pub)
	// Swagger UI
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Stripe webhooks read the raw body themselves; nothing may consume it first.
	hooks := r.Group("/webhooks")
	hooks.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterWebhookRoutes(hooks, d.Webhooks, log)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterBillingRoutes(apiV1, d.Plans, d.Settler, d.Storage, log)
	handlers.RegisterTransactionRoutes(apiV1, d.Ledger, log)

	// Admin APIs
	handlers.RegisterAdminRoutes(apiV1.Group("/admin"), d.Ledger, d.Dedup, d.Stats, log)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
