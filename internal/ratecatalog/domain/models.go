package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// RateRecord is a versioned company-wide price list. Exactly one record per
// company carries IsCurrent; CurrentCompanyID mirrors CompanyID only on that
// record so the unique index enforces it.
type RateRecord struct {
	ID               snowflake.ID    `gorm:"primaryKey"`
	CompanyID        snowflake.ID    `gorm:"not null;uniqueIndex:ux_rate_record_version,priority:1"`
	Version          int             `gorm:"not null;uniqueIndex:ux_rate_record_version,priority:2"`
	EffectiveDate    time.Time       `gorm:"not null"`
	ExpiryDate       *time.Time      `gorm:""`
	IsCurrent        bool            `gorm:"not null;default:false"`
	CurrentCompanyID *snowflake.ID   `gorm:"uniqueIndex:ux_rate_record_current"`
	RushMultiplier   decimal.Decimal `gorm:"type:numeric(12,6);not null"`
	CreatedAt        time.Time       `gorm:"not null"`
	UpdatedAt        time.Time       `gorm:"not null"`

	Prices map[string]decimal.Decimal `gorm:"-"`
}

func (RateRecord) TableName() string { return "rate_records" }

// ValidAt reports whether date falls inside [EffectiveDate, ExpiryDate].
func (r RateRecord) ValidAt(date time.Time) bool {
	return withinValidity(r.EffectiveDate, r.ExpiryDate, date)
}

// Price returns the full-tier price for a service type.
func (r RateRecord) Price(serviceType string) (decimal.Decimal, bool) {
	price, ok := r.Prices[serviceType]
	return price, ok
}

type RateRecordPrice struct {
	ID           snowflake.ID    `gorm:"primaryKey"`
	RateRecordID snowflake.ID    `gorm:"not null;uniqueIndex:ux_rate_record_price,priority:1"`
	ServiceType  string          `gorm:"type:text;not null;uniqueIndex:ux_rate_record_price,priority:2"`
	UnitPrice    decimal.Decimal `gorm:"type:numeric(20,6);not null"`
}

func (RateRecordPrice) TableName() string { return "rate_record_prices" }

type NegotiatedRateStatus string

const (
	NegotiatedRateStatusDraft       NegotiatedRateStatus = "draft"
	NegotiatedRateStatusNegotiating NegotiatedRateStatus = "negotiating"
	NegotiatedRateStatusApproved    NegotiatedRateStatus = "approved"
	NegotiatedRateStatusActive      NegotiatedRateStatus = "active"
	NegotiatedRateStatusExpired     NegotiatedRateStatus = "expired"
	NegotiatedRateStatusCancelled   NegotiatedRateStatus = "cancelled"
)

// NegotiatedRate is a customer agreement layered over a base RateRecord.
// Overrides is sparse: a missing key inherits the base price.
type NegotiatedRate struct {
	ID                    snowflake.ID         `gorm:"primaryKey"`
	CustomerID            snowflake.ID         `gorm:"not null;index"`
	CompanyID             snowflake.ID         `gorm:"not null;index"`
	BaseRateRecordID      snowflake.ID         `gorm:"not null;index"`
	EffectiveDate         time.Time            `gorm:"not null"`
	ExpiryDate            *time.Time           `gorm:""`
	GlobalDiscountPercent decimal.Decimal      `gorm:"type:numeric(9,4);not null"`
	VolumeThreshold       decimal.NullDecimal  `gorm:"type:numeric(20,6)"`
	VolumeDiscountPercent decimal.Decimal      `gorm:"type:numeric(9,4);not null"`
	RushMultiplier        decimal.NullDecimal  `gorm:"type:numeric(12,6)"`
	Status                NegotiatedRateStatus `gorm:"type:text;not null"`
	ActiveKey             *string              `gorm:"type:text;uniqueIndex:ux_negotiated_rate_active"`
	CreatedAt             time.Time            `gorm:"not null"`
	UpdatedAt             time.Time            `gorm:"not null"`

	Overrides map[string]decimal.Decimal `gorm:"-"`
}

func (NegotiatedRate) TableName() string { return "negotiated_rates" }

func (n NegotiatedRate) ValidAt(date time.Time) bool {
	return withinValidity(n.EffectiveDate, n.ExpiryDate, date)
}

// Override returns the negotiated price for a service type when one was agreed.
func (n NegotiatedRate) Override(serviceType string) (decimal.Decimal, bool) {
	price, ok := n.Overrides[serviceType]
	return price, ok
}

type NegotiatedRateOverride struct {
	ID               snowflake.ID    `gorm:"primaryKey"`
	NegotiatedRateID snowflake.ID    `gorm:"not null;uniqueIndex:ux_negotiated_rate_override,priority:1"`
	ServiceType      string          `gorm:"type:text;not null;uniqueIndex:ux_negotiated_rate_override,priority:2"`
	UnitPrice        decimal.Decimal `gorm:"type:numeric(20,6);not null"`
}

func (NegotiatedRateOverride) TableName() string { return "negotiated_rate_overrides" }

func withinValidity(effective time.Time, expiry *time.Time, date time.Time) bool {
	if date.Before(effective) {
		return false
	}
	return expiry == nil || !date.After(*expiry)
}
