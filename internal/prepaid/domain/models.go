package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingwindowdomain "github.com/smallbiznis/storagebill/internal/billingwindow/domain"
)

// PrepaidBalance is the money a customer paid up front for storage. The unit
// rate is resolved once when the term opens and never re-priced.
type PrepaidBalance struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	CustomerID     snowflake.ID    `gorm:"not null;uniqueIndex"`
	CompanyID      snowflake.ID    `gorm:"not null"`
	ServiceType    string          `gorm:"type:text;not null"`
	Remaining      decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	LockedUnitRate decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	TermStart      time.Time       `gorm:"not null"`
	TermEnd        time.Time       `gorm:"not null"`
	CreatedAt      time.Time       `gorm:"not null"`
	UpdatedAt      time.Time       `gorm:"not null"`
}

func (PrepaidBalance) TableName() string { return "prepaid_balances" }

// PrepaidConsumption logs one coverage window drawn from a balance.
type PrepaidConsumption struct {
	ID            snowflake.ID    `gorm:"primaryKey"`
	BalanceID     snowflake.ID    `gorm:"not null;uniqueIndex:ux_prepaid_consumption_coverage,priority:1"`
	CoverageStart time.Time       `gorm:"not null;uniqueIndex:ux_prepaid_consumption_coverage,priority:2"`
	CoverageEnd   time.Time       `gorm:"not null"`
	Units         decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	CreatedAt     time.Time       `gorm:"not null"`
}

func (PrepaidConsumption) TableName() string { return "prepaid_consumptions" }

type Coverage struct {
	Window billingwindowdomain.Window
	Units  decimal.Decimal
}

// Value is the amount a coverage draws at the locked rate.
func (c Coverage) Value(lockedUnitRate decimal.Decimal) decimal.Decimal {
	return lockedUnitRate.Mul(c.Units).Mul(decimal.NewFromInt(int64(c.Window.Months())))
}

type ConsumeResult struct {
	Consumed       bool
	Amount         decimal.Decimal
	Remaining      decimal.Decimal
	LockedUnitRate decimal.Decimal
	BalanceID      snowflake.ID
}
