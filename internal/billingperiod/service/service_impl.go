package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storagebill/internal/billingerr"
	billingperioddomain "github.com/smallbiznis/storagebill/internal/billingperiod/domain"
	billingwindowdomain "github.com/smallbiznis/storagebill/internal/billingwindow/domain"
	"github.com/smallbiznis/storagebill/internal/clock"
	"github.com/smallbiznis/storagebill/internal/observability/metrics"
	pkgdb "github.com/smallbiznis/storagebill/pkg/db"
	"github.com/smallbiznis/storagebill/pkg/db/transaction"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    billingperioddomain.Repository
	Metrics *metrics.SchedulerMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     billingperioddomain.Repository
	metrics  *metrics.SchedulerMetrics
	validate *validator.Validate
}

func New(p ServiceParam) billingperioddomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("billingperiod.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		metrics:  p.Metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// CreateDraft persists a draft period with its lines. A period that only
// records a prepaid draw is stored as covered and never reaches the invoicing
// consumer. A live period with the same idempotency key yields
// billingerr.ErrDuplicateGeneration.
func (s *Service) CreateDraft(ctx context.Context, req billingperioddomain.DraftRequest) (*billingperioddomain.BillingPeriod, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", billingperioddomain.ErrInvalidPeriod, err)
	}
	if req.Windows.Empty() {
		return nil, billingperioddomain.ErrInvalidPeriod
	}
	status := billingperioddomain.StatusDraft
	if len(req.Lines) == 0 {
		if req.Windows.PrepaidCoverage == nil {
			return nil, billingperioddomain.ErrEmptyPeriod
		}
		status = billingperioddomain.StatusCovered
	}

	now := s.clock.Now().UTC()
	key := req.IdempotencyKey
	period := &billingperioddomain.BillingPeriod{
		ID:             s.genID.Generate(),
		CustomerID:     req.CustomerID,
		CompanyID:      req.CompanyID,
		RunDate:        billingwindowdomain.DateOf(req.RunDate),
		Origin:         req.Origin,
		Status:         status,
		IdempotencyKey: key,
		ActiveKey:      &key,
		GeneratedAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	period.StorageStart, period.StorageEnd = bounds(req.Windows.Storage)
	period.ServiceStart, period.ServiceEnd = bounds(req.Windows.Service)
	period.CoverageStart, period.CoverageEnd = bounds(req.Windows.PrepaidCoverage)

	lines := make([]billingperioddomain.BillingLine, 0, len(req.Lines))
	total := decimal.Zero
	for _, line := range req.Lines {
		line.ID = s.genID.Generate()
		line.PeriodID = period.ID
		line.CustomerID = period.CustomerID
		line.Direction = billingperioddomain.DirectionOf(line.Kind)
		line.ActiveSourceRef = nil
		if line.Kind == billingperioddomain.LineKindService {
			ref := line.SourceRef
			line.ActiveSourceRef = &ref
		}
		line.CreatedAt = now
		total = total.Add(line.LineTotal)
		lines = append(lines, line)
	}
	period.Total = total
	period.Lines = lines

	err := transaction.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		if err := s.repo.InsertPeriod(ctx, tx, period); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return billingerr.DuplicateGeneration(int64(period.CustomerID), key)
			}
			return err
		}
		if err := s.repo.InsertLines(ctx, tx, lines); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return billingperioddomain.ErrSourceAlreadyBilled
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("period created",
		zap.String("period_id", period.ID.String()),
		zap.String("customer_id", period.CustomerID.String()),
		zap.String("origin", string(period.Origin)),
		zap.String("status", string(period.Status)),
		zap.Int("lines", len(lines)),
		zap.String("total", total.StringFixed(2)),
	)
	s.metrics.IncPeriodTransition("new", string(period.Status))
	return period, nil
}

func (s *Service) ExistsActiveKey(ctx context.Context, key string) (bool, error) {
	period, err := s.repo.FindPeriodByActiveKey(ctx, transaction.Conn(ctx, s.db), key)
	if err != nil {
		return false, err
	}
	return period != nil, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*billingperioddomain.BillingPeriod, error) {
	db := transaction.Conn(ctx, s.db)
	period, err := s.repo.FindPeriodByID(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if period == nil {
		return nil, billingperioddomain.ErrPeriodNotFound
	}
	lines, err := s.repo.ListLines(ctx, db, id)
	if err != nil {
		return nil, err
	}
	period.Lines = lines
	return period, nil
}

func (s *Service) List(ctx context.Context, customerID snowflake.ID) ([]billingperioddomain.BillingPeriod, error) {
	return s.repo.ListPeriods(ctx, transaction.Conn(ctx, s.db), customerID)
}

func (s *Service) ListLines(ctx context.Context, periodID snowflake.ID) ([]billingperioddomain.BillingLine, error) {
	return s.repo.ListLines(ctx, transaction.Conn(ctx, s.db), periodID)
}

// Confirm freezes a draft for invoicing. A period without lines cannot be confirmed.
func (s *Service) Confirm(ctx context.Context, id snowflake.ID) (*billingperioddomain.BillingPeriod, error) {
	return s.transition(ctx, id, billingperioddomain.StatusConfirmed, func(ctx context.Context, tx *gorm.DB, period *billingperioddomain.BillingPeriod, now time.Time) error {
		count, err := s.repo.CountLines(ctx, tx, period.ID)
		if err != nil {
			return err
		}
		if count == 0 {
			return billingperioddomain.ErrEmptyPeriod
		}
		period.ConfirmedAt = &now
		return nil
	})
}

// MarkInvoiced is called by the invoicing consumer once it has picked the period up.
func (s *Service) MarkInvoiced(ctx context.Context, id snowflake.ID) (*billingperioddomain.BillingPeriod, error) {
	return s.transition(ctx, id, billingperioddomain.StatusInvoiced, func(_ context.Context, _ *gorm.DB, period *billingperioddomain.BillingPeriod, now time.Time) error {
		period.InvoicedAt = &now
		return nil
	})
}

func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID) (*billingperioddomain.BillingPeriod, error) {
	return s.transition(ctx, id, billingperioddomain.StatusPaid, func(_ context.Context, _ *gorm.DB, period *billingperioddomain.BillingPeriod, now time.Time) error {
		period.PaidAt = &now
		return nil
	})
}

// Cancel voids a draft or confirmed period. The idempotency key and every
// service event on the period become billable again.
func (s *Service) Cancel(ctx context.Context, id snowflake.ID, reason string) (*billingperioddomain.BillingPeriod, error) {
	return s.transition(ctx, id, billingperioddomain.StatusCancelled, func(ctx context.Context, tx *gorm.DB, period *billingperioddomain.BillingPeriod, now time.Time) error {
		if err := s.repo.ReleaseLineSources(ctx, tx, period.ID); err != nil {
			return err
		}
		period.ActiveKey = nil
		period.CancelledAt = &now
		if reason != "" {
			period.CancelReason = &reason
		}
		return nil
	})
}

type applyFunc func(ctx context.Context, tx *gorm.DB, period *billingperioddomain.BillingPeriod, now time.Time) error

func (s *Service) transition(ctx context.Context, id snowflake.ID, target billingperioddomain.Status, apply applyFunc) (*billingperioddomain.BillingPeriod, error) {
	var (
		updated *billingperioddomain.BillingPeriod
		from    billingperioddomain.Status
	)
	err := transaction.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		period, err := s.repo.FindPeriodByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if period == nil {
			return billingperioddomain.ErrPeriodNotFound
		}
		from = period.Status
		if !isTransitionAllowed(period.Status, target) {
			return billingperioddomain.ErrInvalidTransition
		}

		now := s.clock.Now().UTC()
		if err := apply(ctx, tx, period, now); err != nil {
			return err
		}
		period.Status = target
		period.UpdatedAt = now
		if err := s.repo.UpdatePeriodStatus(ctx, tx, period); err != nil {
			return err
		}
		updated = period
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("period transitioned",
		zap.String("period_id", updated.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
	)
	s.metrics.IncPeriodTransition(string(from), string(target))
	return updated, nil
}

func isTransitionAllowed(current, target billingperioddomain.Status) bool {
	switch current {
	case billingperioddomain.StatusDraft:
		return target == billingperioddomain.StatusConfirmed || target == billingperioddomain.StatusCancelled
	case billingperioddomain.StatusConfirmed:
		return target == billingperioddomain.StatusInvoiced || target == billingperioddomain.StatusCancelled
	case billingperioddomain.StatusInvoiced:
		return target == billingperioddomain.StatusPaid
	default:
		return false
	}
}

func (s *Service) HasInFlight(ctx context.Context, customerID snowflake.ID) (bool, error) {
	count, err := s.repo.CountOpenPeriods(ctx, transaction.Conn(ctx, s.db), customerID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) PriorWindows(ctx context.Context, customerID snowflake.ID, runDate time.Time) (billingwindowdomain.Prior, error) {
	db := transaction.Conn(ctx, s.db)
	runDate = billingwindowdomain.DateOf(runDate)

	var prior billingwindowdomain.Prior
	storage, err := s.repo.LatestStoragePeriod(ctx, db, customerID, runDate)
	if err != nil {
		return prior, err
	}
	coverage, err := s.repo.LatestCoveragePeriod(ctx, db, customerID, runDate)
	if err != nil {
		return prior, err
	}
	service, err := s.repo.LatestServicePeriod(ctx, db, customerID, runDate)
	if err != nil {
		return prior, err
	}
	if storage != nil {
		prior.Storage = storage.StorageWindow()
	}
	if coverage != nil {
		prior.PrepaidCoverage = coverage.CoverageWindow()
	}
	if service != nil {
		prior.Service = service.ServiceWindow()
	}
	return prior, nil
}

func (s *Service) BilledSourceRefs(ctx context.Context, refs []string) (map[string]struct{}, error) {
	billed, err := s.repo.ActiveSourceRefs(ctx, transaction.Conn(ctx, s.db), lo.Uniq(refs))
	if err != nil {
		return nil, err
	}
	return lo.SliceToMap(billed, func(ref string) (string, struct{}) {
		return ref, struct{}{}
	}), nil
}

func bounds(w *billingwindowdomain.Window) (*time.Time, *time.Time) {
	if w == nil {
		return nil, nil
	}
	start, end := w.Start, w.End
	return &start, &end
}
