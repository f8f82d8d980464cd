package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storagebill/internal/clock"
	ratecatalogdomain "github.com/smallbiznis/storagebill/internal/ratecatalog/domain"
	pkgdb "github.com/smallbiznis/storagebill/pkg/db"
	"github.com/smallbiznis/storagebill/pkg/db/transaction"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  ratecatalogdomain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     ratecatalogdomain.Repository
	validate *validator.Validate
}

func New(p ServiceParam) ratecatalogdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("ratecatalog.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *Service) CreateRateRecord(ctx context.Context, req ratecatalogdomain.CreateRateRecordRequest) (*ratecatalogdomain.RateRecord, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ratecatalogdomain.ErrInvalidRateRecord, err)
	}
	for _, price := range req.Prices {
		if price.IsNegative() {
			return nil, ratecatalogdomain.ErrInvalidRateRecord
		}
	}

	rush := req.RushMultiplier
	if rush.IsZero() {
		rush = decimal.NewFromInt(1)
	}
	if rush.LessThan(decimal.NewFromInt(1)) {
		return nil, ratecatalogdomain.ErrInvalidRateRecord
	}

	now := s.clock.Now().UTC()
	record := &ratecatalogdomain.RateRecord{
		ID:             s.genID.Generate(),
		CompanyID:      req.CompanyID,
		Version:        req.Version,
		EffectiveDate:  dateOnly(req.EffectiveDate),
		ExpiryDate:     dateOnlyPtr(req.ExpiryDate),
		RushMultiplier: rush,
		CreatedAt:      now,
		UpdatedAt:      now,
		Prices:         req.Prices,
	}

	err := transaction.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		return s.repo.InsertRateRecord(ctx, tx, record)
	})
	if err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, fmt.Errorf("%w: version %d already exists", ratecatalogdomain.ErrInvalidRateRecord, req.Version)
		}
		return nil, err
	}
	return record, nil
}

// ActivateRateRecord makes id the company's current record, clearing the
// previous one in the same transaction.
func (s *Service) ActivateRateRecord(ctx context.Context, id snowflake.ID) (*ratecatalogdomain.RateRecord, error) {
	var activated *ratecatalogdomain.RateRecord
	err := transaction.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		record, err := s.repo.FindRateRecordByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if record == nil {
			return ratecatalogdomain.ErrRateRecordNotFound
		}
		if record.IsCurrent {
			activated = record
			return nil
		}

		now := s.clock.Now().UTC()
		if err := s.repo.ClearCurrentRateRecord(ctx, tx, record.CompanyID, now); err != nil {
			return err
		}
		if err := s.repo.MarkCurrentRateRecord(ctx, tx, record, now); err != nil {
			return err
		}

		companyID := record.CompanyID
		record.IsCurrent = true
		record.CurrentCompanyID = &companyID
		record.UpdatedAt = now
		activated = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("rate record activated",
		zap.String("rate_record_id", activated.ID.String()),
		zap.String("company_id", activated.CompanyID.String()),
		zap.Int("version", activated.Version),
	)
	return activated, nil
}

func (s *Service) CurrentRateRecord(ctx context.Context, companyID snowflake.ID) (*ratecatalogdomain.RateRecord, error) {
	return s.repo.FindCurrentRateRecord(ctx, transaction.Conn(ctx, s.db), companyID)
}

func (s *Service) ListRateRecords(ctx context.Context, companyID snowflake.ID) ([]ratecatalogdomain.RateRecord, error) {
	return s.repo.ListRateRecords(ctx, transaction.Conn(ctx, s.db), companyID)
}

func (s *Service) CreateNegotiatedRate(ctx context.Context, req ratecatalogdomain.CreateNegotiatedRateRequest) (*ratecatalogdomain.NegotiatedRate, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ratecatalogdomain.ErrInvalidNegotiatedRate, err)
	}
	if !isPercent(req.GlobalDiscountPercent) || !isPercent(req.VolumeDiscountPercent) {
		return nil, ratecatalogdomain.ErrInvalidNegotiatedRate
	}
	if req.RushMultiplier.Valid && req.RushMultiplier.Decimal.LessThan(decimal.NewFromInt(1)) {
		return nil, ratecatalogdomain.ErrInvalidNegotiatedRate
	}
	for _, price := range req.Overrides {
		if price.IsNegative() {
			return nil, ratecatalogdomain.ErrInvalidNegotiatedRate
		}
	}

	now := s.clock.Now().UTC()
	rate := &ratecatalogdomain.NegotiatedRate{
		ID:                    s.genID.Generate(),
		CustomerID:            req.CustomerID,
		CompanyID:             req.CompanyID,
		BaseRateRecordID:      req.BaseRateRecordID,
		EffectiveDate:         dateOnly(req.EffectiveDate),
		ExpiryDate:            dateOnlyPtr(req.ExpiryDate),
		GlobalDiscountPercent: req.GlobalDiscountPercent,
		VolumeThreshold:       req.VolumeThreshold,
		VolumeDiscountPercent: req.VolumeDiscountPercent,
		RushMultiplier:        req.RushMultiplier,
		Status:                ratecatalogdomain.NegotiatedRateStatusDraft,
		CreatedAt:             now,
		UpdatedAt:             now,
		Overrides:             req.Overrides,
	}

	err := transaction.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		base, err := s.repo.FindRateRecordByID(ctx, tx, req.BaseRateRecordID)
		if err != nil {
			return err
		}
		if base == nil {
			return ratecatalogdomain.ErrRateRecordNotFound
		}
		if base.CompanyID != req.CompanyID {
			return ratecatalogdomain.ErrBaseRateCompanyMismatch
		}
		return s.repo.InsertNegotiatedRate(ctx, tx, rate)
	})
	if err != nil {
		return nil, err
	}
	return rate, nil
}

// TransitionNegotiatedRate moves a negotiated rate through its approval
// lifecycle. Activation claims the (customer, company) active slot; a second
// concurrent activation fails on the unique active key.
func (s *Service) TransitionNegotiatedRate(ctx context.Context, id snowflake.ID, target ratecatalogdomain.NegotiatedRateStatus) (*ratecatalogdomain.NegotiatedRate, error) {
	var updated *ratecatalogdomain.NegotiatedRate
	err := transaction.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		rate, err := s.repo.FindNegotiatedRateByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if rate == nil {
			return ratecatalogdomain.ErrNegotiatedRateNotFound
		}
		if rate.Status == target {
			updated = rate
			return nil
		}
		if !isTransitionAllowed(rate.Status, target) {
			return ratecatalogdomain.ErrInvalidTransition
		}

		rate.Status = target
		rate.ActiveKey = nil
		if target == ratecatalogdomain.NegotiatedRateStatusActive {
			key := activeKey(rate.CustomerID, rate.CompanyID)
			rate.ActiveKey = &key
		}
		if err := s.repo.UpdateNegotiatedRateStatus(ctx, tx, rate, s.clock.Now().UTC()); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return ratecatalogdomain.ErrNegotiatedRateConflict
			}
			return err
		}
		updated = rate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) ActiveNegotiatedRate(ctx context.Context, customerID, companyID snowflake.ID) (*ratecatalogdomain.NegotiatedRate, error) {
	return s.repo.FindActiveNegotiatedRate(ctx, transaction.Conn(ctx, s.db), customerID, companyID)
}

// ExpireNegotiatedRates retires active agreements whose expiry date is before asOf.
func (s *Service) ExpireNegotiatedRates(ctx context.Context, asOf time.Time) (int, error) {
	expired := 0
	err := transaction.Run(ctx, s.db, func(ctx context.Context, tx *gorm.DB) error {
		rates, err := s.repo.ListExpiredActiveNegotiatedRates(ctx, tx, dateOnly(asOf))
		if err != nil {
			return err
		}
		now := s.clock.Now().UTC()
		for i := range rates {
			rates[i].Status = ratecatalogdomain.NegotiatedRateStatusExpired
			rates[i].ActiveKey = nil
			if err := s.repo.UpdateNegotiatedRateStatus(ctx, tx, &rates[i], now); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.log.Info("negotiated rates expired", zap.Int("count", expired), zap.Time("as_of", asOf))
	}
	return expired, nil
}

func isTransitionAllowed(current, target ratecatalogdomain.NegotiatedRateStatus) bool {
	switch current {
	case ratecatalogdomain.NegotiatedRateStatusDraft:
		return target == ratecatalogdomain.NegotiatedRateStatusNegotiating || target == ratecatalogdomain.NegotiatedRateStatusCancelled
	case ratecatalogdomain.NegotiatedRateStatusNegotiating:
		return target == ratecatalogdomain.NegotiatedRateStatusApproved || target == ratecatalogdomain.NegotiatedRateStatusCancelled
	case ratecatalogdomain.NegotiatedRateStatusApproved:
		return target == ratecatalogdomain.NegotiatedRateStatusActive || target == ratecatalogdomain.NegotiatedRateStatusCancelled
	case ratecatalogdomain.NegotiatedRateStatusActive:
		return target == ratecatalogdomain.NegotiatedRateStatusExpired || target == ratecatalogdomain.NegotiatedRateStatusCancelled
	default:
		return false
	}
}

func activeKey(customerID, companyID snowflake.ID) string {
	return customerID.String() + ":" + companyID.String()
}

func isPercent(value decimal.Decimal) bool {
	return !value.IsNegative() && value.LessThanOrEqual(decimal.NewFromInt(100))
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func dateOnlyPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := dateOnly(*t)
	return &d
}
