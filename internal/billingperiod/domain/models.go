package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingwindowdomain "github.com/smallbiznis/storagebill/internal/billingwindow/domain"
	ratingdomain "github.com/smallbiznis/storagebill/internal/rating/domain"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusConfirmed Status = "confirmed"
	StatusInvoiced  Status = "invoiced"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	// StatusCovered closes a period whose storage month was drawn from a
	// prepaid balance and carries no lines to invoice.
	StatusCovered Status = "covered"
)

// Origin tells batch-generated periods apart from single-event immediate ones.
type Origin string

const (
	OriginBatch     Origin = "batch"
	OriginImmediate Origin = "immediate"
)

// BillingPeriod is one generated bill for a customer. ActiveKey mirrors
// IdempotencyKey until the period is cancelled so the unique index admits a
// single live period per key.
type BillingPeriod struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	CustomerID     snowflake.ID    `gorm:"not null;index:ix_billing_period_customer,priority:1"`
	CompanyID      snowflake.ID    `gorm:"not null"`
	RunDate        time.Time       `gorm:"not null;index:ix_billing_period_customer,priority:2"`
	Origin         Origin          `gorm:"type:text;not null"`
	StorageStart   *time.Time      `gorm:""`
	StorageEnd     *time.Time      `gorm:""`
	ServiceStart   *time.Time      `gorm:""`
	ServiceEnd     *time.Time      `gorm:""`
	CoverageStart  *time.Time      `gorm:""`
	CoverageEnd    *time.Time      `gorm:""`
	Status         Status          `gorm:"type:text;not null;index"`
	IdempotencyKey string          `gorm:"type:text;not null;index"`
	ActiveKey      *string         `gorm:"type:text;uniqueIndex:ux_billing_period_active_key"`
	Total          decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	GeneratedAt    time.Time       `gorm:"not null"`
	ConfirmedAt    *time.Time      `gorm:""`
	InvoicedAt     *time.Time      `gorm:""`
	PaidAt         *time.Time      `gorm:""`
	CancelledAt    *time.Time      `gorm:""`
	CancelReason   *string         `gorm:"type:text"`
	CreatedAt      time.Time       `gorm:"not null"`
	UpdatedAt      time.Time       `gorm:"not null"`

	Lines []BillingLine `gorm:"-"`
}

func (BillingPeriod) TableName() string { return "billing_periods" }

func (p BillingPeriod) StorageWindow() *billingwindowdomain.Window {
	return window(p.StorageStart, p.StorageEnd)
}

func (p BillingPeriod) ServiceWindow() *billingwindowdomain.Window {
	return window(p.ServiceStart, p.ServiceEnd)
}

func (p BillingPeriod) CoverageWindow() *billingwindowdomain.Window {
	return window(p.CoverageStart, p.CoverageEnd)
}

// Open reports whether the period can still be changed or cancelled.
func (p BillingPeriod) Open() bool {
	return p.Status == StatusDraft || p.Status == StatusConfirmed
}

type LineKind string

const (
	LineKindStorage LineKind = "storage"
	LineKindService LineKind = "service"
)

type Direction string

const (
	DirectionAdvance Direction = "advance"
	DirectionArrears Direction = "arrears"
)

// DirectionOf derives the billing direction from the line kind.
func DirectionOf(kind LineKind) Direction {
	if kind == LineKindStorage {
		return DirectionAdvance
	}
	return DirectionArrears
}

// BillingLine is a single priced charge. Service lines set ActiveSourceRef to
// their event id while the owning period is live; the unique index stops the
// same event from being billed twice.
type BillingLine struct {
	ID              snowflake.ID                                 `gorm:"primaryKey"`
	PeriodID        snowflake.ID                                 `gorm:"not null;index"`
	CustomerID      snowflake.ID                                 `gorm:"not null;index"`
	Kind            LineKind                                     `gorm:"type:text;not null"`
	Direction       Direction                                    `gorm:"type:text;not null"`
	SourceRef       string                                       `gorm:"type:text;not null"`
	ActiveSourceRef *string                                      `gorm:"type:text;uniqueIndex:ux_billing_line_active_source"`
	ServiceType     string                                       `gorm:"type:text;not null"`
	Quantity        decimal.Decimal                              `gorm:"type:numeric(20,6);not null"`
	UnitPrice       decimal.Decimal                              `gorm:"type:numeric(20,6);not null"`
	Trail           datatypes.JSONSlice[ratingdomain.Adjustment] `gorm:"type:json"`
	LineTotal       decimal.Decimal                              `gorm:"type:numeric(20,2);not null"`
	Provenance      ratingdomain.Provenance                      `gorm:"type:text;not null"`
	ProvenanceID    snowflake.ID                                 `gorm:"not null"`
	WindowStart     time.Time                                    `gorm:"not null"`
	WindowEnd       time.Time                                    `gorm:"not null"`
	CreatedAt       time.Time                                    `gorm:"not null"`
}

func (BillingLine) TableName() string { return "billing_lines" }

func window(start, end *time.Time) *billingwindowdomain.Window {
	if start == nil || end == nil {
		return nil
	}
	return billingwindowdomain.NewWindow(*start, *end)
}
