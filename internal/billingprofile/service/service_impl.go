package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	billingprofiledomain "github.com/smallbiznis/storagebill/internal/billingprofile/domain"
	"github.com/smallbiznis/storagebill/internal/clock"
	pkgdb "github.com/smallbiznis/storagebill/pkg/db"
	"github.com/smallbiznis/storagebill/pkg/db/option"
	"github.com/smallbiznis/storagebill/pkg/db/transaction"
	"github.com/smallbiznis/storagebill/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	InFlight billingprofiledomain.InFlightChecker
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	inFlight billingprofiledomain.InFlightChecker
	repo     repository.Repository[billingprofiledomain.BillingProfile]
	validate *validator.Validate
}

func New(p ServiceParam) billingprofiledomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("billingprofile.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		inFlight: p.InFlight,
		repo:     repository.ProvideStore[billingprofiledomain.BillingProfile](p.DB),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *Service) Create(ctx context.Context, req billingprofiledomain.CreateProfileRequest) (*billingprofiledomain.BillingProfile, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", billingprofiledomain.ErrInvalidProfile, err)
	}
	if req.PrepaidDiscountPercent.IsNegative() || req.PrepaidDiscountPercent.GreaterThan(hundred) {
		return nil, billingprofiledomain.ErrInvalidProfile
	}

	now := s.clock.Now().UTC()
	profile := &billingprofiledomain.BillingProfile{
		ID:                     s.genID.Generate(),
		CustomerID:             req.CustomerID,
		CompanyID:              req.CompanyID,
		StorageCycle:           req.StorageCycle,
		ServiceCycle:           req.ServiceCycle,
		BillingDay:             req.BillingDay,
		Prepaid:                req.StorageCycle == billingprofiledomain.StorageCyclePrepaid,
		PrepaidTermMonths:      req.PrepaidTermMonths,
		PrepaidStartDate:       dateOnlyPtr(req.PrepaidStartDate),
		PrepaidDiscountPercent: req.PrepaidDiscountPercent,
		AutoGenerateStorage:    req.AutoGenerateStorage,
		AutoGenerateService:    req.AutoGenerateService,
		Active:                 true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", billingprofiledomain.ErrInvalidProfile, err)
	}

	if err := s.repo.Create(ctx, profile); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, billingprofiledomain.ErrProfileExists
		}
		return nil, err
	}
	return profile, nil
}

func (s *Service) Get(ctx context.Context, customerID snowflake.ID) (*billingprofiledomain.BillingProfile, error) {
	profile, err := s.repo.FindOne(ctx, &billingprofiledomain.BillingProfile{CustomerID: customerID})
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, billingprofiledomain.ErrProfileNotFound
	}
	return profile, nil
}

// ListBillable returns active profiles with at least one auto-generate flag set.
func (s *Service) ListBillable(ctx context.Context) ([]billingprofiledomain.BillingProfile, error) {
	return s.repo.Find(ctx, &billingprofiledomain.BillingProfile{Active: true},
		option.Where("auto_generate_storage = ? OR auto_generate_service = ?", true, true),
		option.OrderBy("customer_id ASC"),
	)
}

// ChangeCycles switches billing cycles. It is refused while a draft or
// confirmed period exists, since that period was computed under the old cycle.
func (s *Service) ChangeCycles(ctx context.Context, customerID snowflake.ID, req billingprofiledomain.ChangeCyclesRequest) (*billingprofiledomain.BillingProfile, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", billingprofiledomain.ErrInvalidProfile, err)
	}

	var updated *billingprofiledomain.BillingProfile
	err := transaction.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		profile, err := s.Get(ctx, customerID)
		if err != nil {
			return err
		}
		if !profile.Active {
			return billingprofiledomain.ErrProfileNotActive
		}

		inFlight, err := s.inFlight.HasInFlight(ctx, customerID)
		if err != nil {
			return err
		}
		if inFlight {
			return billingprofiledomain.ErrPeriodInFlight
		}

		profile.StorageCycle = req.StorageCycle
		profile.ServiceCycle = req.ServiceCycle
		profile.Prepaid = req.StorageCycle == billingprofiledomain.StorageCyclePrepaid
		profile.PrepaidTermMonths = req.PrepaidTermMonths
		profile.PrepaidStartDate = dateOnlyPtr(req.PrepaidStartDate)
		profile.UpdatedAt = s.clock.Now().UTC()
		if err := profile.Validate(); err != nil {
			return fmt.Errorf("%w: %v", billingprofiledomain.ErrInvalidProfile, err)
		}

		if err := s.repo.UpdateByID(ctx, profile.ID, map[string]any{
			"storage_cycle":       profile.StorageCycle,
			"service_cycle":       profile.ServiceCycle,
			"prepaid":             profile.Prepaid,
			"prepaid_term_months": profile.PrepaidTermMonths,
			"prepaid_start_date":  profile.PrepaidStartDate,
			"updated_at":          profile.UpdatedAt,
		}); err != nil {
			return err
		}
		updated = profile
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("billing cycles changed",
		zap.String("customer_id", customerID.String()),
		zap.String("storage_cycle", string(updated.StorageCycle)),
		zap.String("service_cycle", string(updated.ServiceCycle)),
	)
	return updated, nil
}

func (s *Service) Deactivate(ctx context.Context, customerID snowflake.ID) error {
	profile, err := s.Get(ctx, customerID)
	if err != nil {
		return err
	}
	return s.repo.UpdateByID(ctx, profile.ID, map[string]any{
		"active":     false,
		"updated_at": s.clock.Now().UTC(),
	})
}

// MarkRun records the run date on the profile; it joins the caller's transaction.
func (s *Service) MarkRun(ctx context.Context, customerID snowflake.ID, runDate time.Time) error {
	profile, err := s.Get(ctx, customerID)
	if err != nil {
		return err
	}
	run := dateOnly(runDate)
	return s.repo.UpdateByID(ctx, profile.ID, map[string]any{
		"last_run_date": run,
		"updated_at":    s.clock.Now().UTC(),
	})
}
