package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storagebill/internal/billingerr"
	billingprofiledomain "github.com/smallbiznis/storagebill/internal/billingprofile/domain"
	billingwindowdomain "github.com/smallbiznis/storagebill/internal/billingwindow/domain"
	"github.com/smallbiznis/storagebill/internal/clock"
	prepaiddomain "github.com/smallbiznis/storagebill/internal/prepaid/domain"
	ratingdomain "github.com/smallbiznis/storagebill/internal/rating/domain"
	pkgdb "github.com/smallbiznis/storagebill/pkg/db"
	"github.com/smallbiznis/storagebill/pkg/db/transaction"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     prepaiddomain.Repository
	Profiles billingprofiledomain.Service
	Rating   ratingdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     prepaiddomain.Repository
	profiles billingprofiledomain.Service
	rating   ratingdomain.Service
	validate *validator.Validate
}

func New(p ServiceParam) prepaiddomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("prepaid.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		profiles: p.Profiles,
		rating:   p.Rating,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *Service) OpenTerm(ctx context.Context, req prepaiddomain.OpenTermRequest) (*prepaiddomain.PrepaidBalance, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", prepaiddomain.ErrInvalidRequest, err)
	}
	if req.Amount.IsNegative() || req.Units.IsNegative() {
		return nil, prepaiddomain.ErrInvalidRequest
	}
	units := req.Units
	if units.IsZero() {
		units = decimal.NewFromInt(1)
	}

	var balance *prepaiddomain.PrepaidBalance
	err := transaction.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		profile, err := s.profiles.Get(ctx, req.CustomerID)
		if err != nil {
			return err
		}
		if profile.StorageCycle != billingprofiledomain.StorageCyclePrepaid {
			return prepaiddomain.ErrProfileNotPrepaid
		}
		if err := profile.Validate(); err != nil {
			return err
		}

		start := billingwindowdomain.DateOf(*profile.PrepaidStartDate)
		res, err := s.rating.Resolve(ctx, ratingdomain.ResolveRequest{
			CustomerID:  profile.CustomerID,
			CompanyID:   profile.CompanyID,
			ServiceType: req.ServiceType,
			Quantity:    units,
			RunDate:     start,
		})
		if err != nil {
			return err
		}
		locked := res.UnitPrice
		if profile.PrepaidDiscountPercent.IsPositive() {
			locked = locked.Mul(hundred.Sub(profile.PrepaidDiscountPercent)).Div(hundred)
		}

		now := s.clock.Now().UTC()
		balance = &prepaiddomain.PrepaidBalance{
			ID:             s.genID.Generate(),
			CustomerID:     profile.CustomerID,
			CompanyID:      profile.CompanyID,
			ServiceType:    req.ServiceType,
			Remaining:      req.Amount,
			LockedUnitRate: locked,
			TermStart:      start,
			TermEnd:        billingwindowdomain.DateOf(*profile.PrepaidTermEnd()),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.repo.InsertBalance(ctx, tx, balance); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return prepaiddomain.ErrBalanceExists
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("prepaid term opened",
		zap.String("customer_id", balance.CustomerID.String()),
		zap.String("locked_unit_rate", balance.LockedUnitRate.String()),
		zap.String("amount", balance.Remaining.String()),
	)
	return balance, nil
}

func (s *Service) Consume(ctx context.Context, customerID snowflake.ID, coverage prepaiddomain.Coverage) (prepaiddomain.ConsumeResult, error) {
	var result prepaiddomain.ConsumeResult
	err := transaction.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		balance, err := s.repo.FindBalanceByCustomer(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if balance == nil {
			s.log.Warn("prepaid coverage requested without a balance", zap.String("customer_id", customerID.String()))
			result = prepaiddomain.ConsumeResult{Remaining: decimal.Zero}
			return nil
		}
		result = prepaiddomain.ConsumeResult{
			Remaining:      balance.Remaining,
			LockedUnitRate: balance.LockedUnitRate,
			BalanceID:      balance.ID,
		}

		term := billingwindowdomain.Window{Start: balance.TermStart, End: balance.TermEnd}
		if !term.Contains(coverage.Window.Start) {
			return nil
		}

		existing, err := s.repo.FindConsumption(ctx, tx, balance.ID, coverage.Window.Start)
		if err != nil {
			return err
		}
		if existing != nil {
			result.Consumed = true
			result.Amount = existing.Amount
			return nil
		}

		amount := coverage.Value(balance.LockedUnitRate).Round(2)
		now := s.clock.Now().UTC()
		ok, err := s.repo.DeductBalance(ctx, tx, balance.ID, amount, now)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := s.repo.InsertConsumption(ctx, tx, &prepaiddomain.PrepaidConsumption{
			ID:            s.genID.Generate(),
			BalanceID:     balance.ID,
			CoverageStart: coverage.Window.Start,
			CoverageEnd:   coverage.Window.End,
			Units:         coverage.Units,
			Amount:        amount,
			CreatedAt:     now,
		}); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				// An overlapping run drew this coverage window first.
				return billingerr.DuplicateGeneration(int64(customerID), consumptionKey(balance.ID, coverage.Window.Start))
			}
			return err
		}

		result.Consumed = true
		result.Amount = amount
		result.Remaining = balance.Remaining.Sub(amount)
		return nil
	})
	if err != nil {
		return prepaiddomain.ConsumeResult{}, err
	}
	return result, nil
}

func (s *Service) Replenish(ctx context.Context, customerID snowflake.ID, amount decimal.Decimal) (*prepaiddomain.PrepaidBalance, error) {
	if !amount.IsPositive() {
		return nil, prepaiddomain.ErrInvalidRequest
	}

	var balance *prepaiddomain.PrepaidBalance
	err := transaction.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		current, err := s.repo.FindBalanceByCustomer(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if current == nil {
			return prepaiddomain.ErrBalanceNotFound
		}
		now := s.clock.Now().UTC()
		if err := s.repo.AddBalance(ctx, tx, current.ID, amount, now); err != nil {
			return err
		}
		current.Remaining = current.Remaining.Add(amount)
		current.UpdatedAt = now
		balance = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("prepaid balance replenished",
		zap.String("customer_id", customerID.String()),
		zap.String("amount", amount.String()),
		zap.String("remaining", balance.Remaining.String()),
	)
	return balance, nil
}

func (s *Service) Get(ctx context.Context, customerID snowflake.ID) (*prepaiddomain.PrepaidBalance, error) {
	balance, err := s.repo.FindBalanceByCustomer(ctx, transaction.Conn(ctx, s.db), customerID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, prepaiddomain.ErrBalanceNotFound
	}
	return balance, nil
}

func (s *Service) ListConsumptions(ctx context.Context, customerID snowflake.ID) ([]prepaiddomain.PrepaidConsumption, error) {
	db := transaction.Conn(ctx, s.db)
	balance, err := s.repo.FindBalanceByCustomer(ctx, db, customerID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, prepaiddomain.ErrBalanceNotFound
	}
	return s.repo.ListConsumptions(ctx, db, balance.ID)
}

func consumptionKey(balanceID snowflake.ID, coverageStart time.Time) string {
	return fmt.Sprintf("prepaid:%s:%s", balanceID, coverageStart.Format(billingwindowdomain.DateLayout))
}
