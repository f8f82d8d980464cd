package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	billingperioddomain "github.com/smallbiznis/storagebill/internal/billingperiod/domain"
	billingprofiledomain "github.com/smallbiznis/storagebill/internal/billingprofile/domain"
	"github.com/smallbiznis/storagebill/internal/clock"
	"github.com/smallbiznis/storagebill/internal/config"
	obslogger "github.com/smallbiznis/storagebill/internal/observability/logger"
	obstracing "github.com/smallbiznis/storagebill/internal/observability/tracing"
	prepaiddomain "github.com/smallbiznis/storagebill/internal/prepaid/domain"
	ratecatalogdomain "github.com/smallbiznis/storagebill/internal/ratecatalog/domain"
	"github.com/smallbiznis/storagebill/internal/scheduler"
	"github.com/smallbiznis/storagebill/internal/scheduler/report"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log.Named("http")))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// batchRunner is the part of the scheduler exposed over HTTP.
type batchRunner interface {
	RunBatch(ctx context.Context, runDate time.Time) (report.BatchReport, error)
	BillImmediate(ctx context.Context, eventID snowflake.ID) (*billingperioddomain.BillingPeriod, error)
}

type reportReader interface {
	Get(ctx context.Context, runID string) (*report.BatchReport, error)
	ListRecent(ctx context.Context, limit int) ([]report.Record, error)
}

type Server struct {
	engine     *gin.Engine
	clock      clock.Clock
	profileSvc billingprofiledomain.Service
	catalogSvc ratecatalogdomain.Service
	prepaidSvc prepaiddomain.Service
	periodSvc  billingperioddomain.Service
	scheduler  batchRunner
	reports    reportReader
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Clock      clock.Clock
	ProfileSvc billingprofiledomain.Service
	CatalogSvc ratecatalogdomain.Service
	PrepaidSvc prepaiddomain.Service
	PeriodSvc  billingperioddomain.Service
	Scheduler  *scheduler.Scheduler
	Reports    *report.Store
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		clock:      p.Clock,
		profileSvc: p.ProfileSvc,
		catalogSvc: p.CatalogSvc,
		prepaidSvc: p.PrepaidSvc,
		periodSvc:  p.PeriodSvc,
		scheduler:  p.Scheduler,
		reports:    p.Reports,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	api.POST("/profiles", s.CreateProfile)
	api.GET("/profiles/:customer_id", s.GetProfile)
	api.PUT("/profiles/:customer_id/cycles", s.ChangeProfileCycles)
	api.POST("/profiles/:customer_id/deactivate", s.DeactivateProfile)

	api.POST("/rate-records", s.CreateRateRecord)
	api.POST("/rate-records/:id/activate", s.ActivateRateRecord)
	api.GET("/companies/:company_id/rate-records", s.ListRateRecords)
	api.POST("/negotiated-rates", s.CreateNegotiatedRate)
	api.POST("/negotiated-rates/:id/transition", s.TransitionNegotiatedRate)

	api.POST("/prepaid", s.OpenPrepaidTerm)
	api.GET("/prepaid/:customer_id", s.GetPrepaidBalance)
	api.POST("/prepaid/:customer_id/replenish", s.ReplenishPrepaid)

	api.POST("/batches", s.RunBatch)
	api.GET("/batches", s.ListBatches)
	api.GET("/batches/:run_id", s.GetBatch)
	api.POST("/events/:id/bill", s.BillEvent)

	api.GET("/customers/:customer_id/periods", s.ListPeriods)
	api.GET("/periods/:id", s.GetPeriod)
	api.POST("/periods/:id/confirm", s.ConfirmPeriod)
	api.POST("/periods/:id/invoiced", s.MarkPeriodInvoiced)
	api.POST("/periods/:id/paid", s.MarkPeriodPaid)
	api.POST("/periods/:id/cancel", s.CancelPeriod)
}
