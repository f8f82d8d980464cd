package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/storagebill/internal/billingerr"
)

// StorageCycle controls how far ahead storage is billed.
type StorageCycle string

const (
	StorageCycleMonthly    StorageCycle = "monthly"
	StorageCycleQuarterly  StorageCycle = "quarterly"
	StorageCycleSemiAnnual StorageCycle = "semi_annual"
	StorageCycleAnnual     StorageCycle = "annual"
	StorageCyclePrepaid    StorageCycle = "prepaid"
)

// Months returns the coverage length of a forward-billed cycle, or zero for prepaid.
func (c StorageCycle) Months() int {
	switch c {
	case StorageCycleMonthly:
		return 1
	case StorageCycleQuarterly:
		return 3
	case StorageCycleSemiAnnual:
		return 6
	case StorageCycleAnnual:
		return 12
	default:
		return 0
	}
}

// ServiceCycle controls how completed service work is collected in arrears.
type ServiceCycle string

const (
	ServiceCycleMonthly   ServiceCycle = "monthly"
	ServiceCycleWeekly    ServiceCycle = "weekly"
	ServiceCycleImmediate ServiceCycle = "immediate"
)

// BillingProfile is the per-customer billing configuration. Profiles are never
// deleted; Active is cleared instead so historical periods keep their owner.
type BillingProfile struct {
	ID                     snowflake.ID    `gorm:"primaryKey"`
	CustomerID             snowflake.ID    `gorm:"not null;uniqueIndex"`
	CompanyID              snowflake.ID    `gorm:"not null;index"`
	StorageCycle           StorageCycle    `gorm:"type:text;not null"`
	ServiceCycle           ServiceCycle    `gorm:"type:text;not null"`
	BillingDay             int             `gorm:"not null"`
	Prepaid                bool            `gorm:"not null;default:false"`
	PrepaidTermMonths      *int            `gorm:""`
	PrepaidStartDate       *time.Time      `gorm:""`
	PrepaidDiscountPercent decimal.Decimal `gorm:"type:numeric(9,4);not null"`
	AutoGenerateStorage    bool            `gorm:"not null;default:false"`
	AutoGenerateService    bool            `gorm:"not null;default:false"`
	Active                 bool            `gorm:"not null;default:true;index"`
	LastRunDate            *time.Time      `gorm:""`
	CreatedAt              time.Time       `gorm:"not null"`
	UpdatedAt              time.Time       `gorm:"not null"`
}

func (BillingProfile) TableName() string { return "billing_profiles" }

// Validate checks the invariants a stored profile must satisfy before it can be billed.
func (p BillingProfile) Validate() error {
	if p.BillingDay < 1 || p.BillingDay > 31 {
		return billingerr.MalformedProfile(int64(p.CustomerID), "billing day out of range")
	}
	if p.StorageCycle.Months() == 0 && p.StorageCycle != StorageCyclePrepaid {
		return billingerr.MalformedProfile(int64(p.CustomerID), "unknown storage cycle "+string(p.StorageCycle))
	}
	switch p.ServiceCycle {
	case ServiceCycleMonthly, ServiceCycleWeekly, ServiceCycleImmediate:
	default:
		return billingerr.MalformedProfile(int64(p.CustomerID), "unknown service cycle "+string(p.ServiceCycle))
	}
	if p.StorageCycle == StorageCyclePrepaid {
		if p.PrepaidTermMonths == nil || *p.PrepaidTermMonths <= 0 {
			return billingerr.MalformedProfile(int64(p.CustomerID), "prepaid storage cycle without term length")
		}
		if p.PrepaidStartDate == nil {
			return billingerr.MalformedProfile(int64(p.CustomerID), "prepaid storage cycle without start date")
		}
	}
	return nil
}

// PrepaidTermEnd is the last covered day of the prepaid term.
func (p BillingProfile) PrepaidTermEnd() *time.Time {
	if p.PrepaidStartDate == nil || p.PrepaidTermMonths == nil {
		return nil
	}
	end := p.PrepaidStartDate.AddDate(0, *p.PrepaidTermMonths, -1)
	return &end
}
