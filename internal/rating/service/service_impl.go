package service

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storagebill/internal/billingerr"
	"github.com/smallbiznis/storagebill/internal/config"
	ratecatalogdomain "github.com/smallbiznis/storagebill/internal/ratecatalog/domain"
	ratingdomain "github.com/smallbiznis/storagebill/internal/rating/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

type Service struct {
	log     *zap.Logger
	catalog ratecatalogdomain.Service
	engine  *config.EngineConfigHolder
}

type ServiceParam struct {
	fx.In

	Log     *zap.Logger
	Catalog ratecatalogdomain.Service
	Engine  *config.EngineConfigHolder
}

func New(p ServiceParam) ratingdomain.Service {
	return &Service{
		log:     p.Log.Named("rating.service"),
		catalog: p.Catalog,
		engine:  p.Engine,
	}
}

// Resolve prices one service type for a customer on the run date.
func (s *Service) Resolve(ctx context.Context, req ratingdomain.ResolveRequest) (ratingdomain.Resolution, error) {
	negotiated, err := s.catalog.ActiveNegotiatedRate(ctx, req.CustomerID, req.CompanyID)
	if err != nil {
		return ratingdomain.Resolution{}, err
	}
	if negotiated != nil && !negotiated.ValidAt(req.RunDate) {
		negotiated = nil
	}

	base, err := s.catalog.CurrentRateRecord(ctx, req.CompanyID)
	if err != nil {
		return ratingdomain.Resolution{}, err
	}
	if base != nil && !base.ValidAt(req.RunDate) {
		base = nil
	}

	res, err := Resolve(Tiers{Negotiated: negotiated, Base: base, DefaultRush: s.engine.Get().RushMultiplier()}, req)
	if err != nil {
		s.log.Debug("rate resolution failed",
			zap.String("customer_id", req.CustomerID.String()),
			zap.String("service_type", req.ServiceType),
			zap.Error(err),
		)
		return ratingdomain.Resolution{}, err
	}
	return res, nil
}

// LineTotal rounds half-up to the configured number of places.
func (s *Service) LineTotal(unitPrice, quantity decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(quantity).Round(s.engine.Get().RoundingPlaces)
}

// Tiers is the two-tier lookup input: a sparse negotiated override map on top
// of the full base price list. Either tier may be nil.
type Tiers struct {
	Negotiated  *ratecatalogdomain.NegotiatedRate
	Base        *ratecatalogdomain.RateRecord
	DefaultRush decimal.Decimal
}

// Resolve applies the precedence and adjustment order to already loaded tiers:
// tier price, then rush, then volume, then global discount.
func Resolve(tiers Tiers, req ratingdomain.ResolveRequest) (ratingdomain.Resolution, error) {
	var res ratingdomain.Resolution

	switch {
	case tiers.Negotiated != nil && hasOverride(tiers.Negotiated, req.ServiceType):
		price, _ := tiers.Negotiated.Override(req.ServiceType)
		res.UnitPrice = price
		res.Provenance = ratingdomain.ProvenanceNegotiated
		res.ProvenanceID = tiers.Negotiated.ID
	case tiers.Base != nil && hasPrice(tiers.Base, req.ServiceType):
		price, _ := tiers.Base.Price(req.ServiceType)
		res.UnitPrice = price
		res.Provenance = ratingdomain.ProvenanceBase
		res.ProvenanceID = tiers.Base.ID
	default:
		return ratingdomain.Resolution{}, billingerr.RateNotFound(int64(req.CustomerID), int64(req.CompanyID), req.ServiceType)
	}

	if req.Rush {
		multiplier := rushMultiplier(tiers)
		if !multiplier.Equal(decimal.NewFromInt(1)) {
			applyStep(&res, ratingdomain.StepRush, multiplier, res.UnitPrice.Mul(multiplier))
		}
	}

	if n := tiers.Negotiated; n != nil {
		if n.VolumeThreshold.Valid && n.VolumeDiscountPercent.IsPositive() && req.Quantity.GreaterThanOrEqual(n.VolumeThreshold.Decimal) {
			applyStep(&res, ratingdomain.StepVolume, n.VolumeDiscountPercent, discount(res.UnitPrice, n.VolumeDiscountPercent))
		}
		if n.GlobalDiscountPercent.IsPositive() {
			applyStep(&res, ratingdomain.StepGlobal, n.GlobalDiscountPercent, discount(res.UnitPrice, n.GlobalDiscountPercent))
		}
	}

	return res, nil
}

func applyStep(res *ratingdomain.Resolution, step ratingdomain.Step, factor, after decimal.Decimal) {
	res.Trail = append(res.Trail, ratingdomain.Adjustment{
		Step:   step,
		Factor: factor,
		Before: res.UnitPrice,
		After:  after,
	})
	res.UnitPrice = after
}

func rushMultiplier(tiers Tiers) decimal.Decimal {
	if tiers.Negotiated != nil && tiers.Negotiated.RushMultiplier.Valid {
		return tiers.Negotiated.RushMultiplier.Decimal
	}
	if tiers.Base != nil && tiers.Base.RushMultiplier.IsPositive() {
		return tiers.Base.RushMultiplier
	}
	if tiers.DefaultRush.IsPositive() {
		return tiers.DefaultRush
	}
	return decimal.NewFromInt(1)
}

func discount(price, percent decimal.Decimal) decimal.Decimal {
	return price.Mul(hundred.Sub(percent)).Div(hundred)
}

func hasOverride(n *ratecatalogdomain.NegotiatedRate, serviceType string) bool {
	_, ok := n.Override(serviceType)
	return ok
}

func hasPrice(r *ratecatalogdomain.RateRecord, serviceType string) bool {
	_, ok := r.Price(serviceType)
	return ok
}
