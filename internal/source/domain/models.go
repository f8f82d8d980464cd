package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusCompleted EventStatus = "completed"
	EventStatusCancelled EventStatus = "cancelled"
)

// ServiceEvent is a unit of work reported by the fulfillment subsystem.
type ServiceEvent struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	CustomerID  snowflake.ID    `gorm:"not null;index:ix_service_event_customer,priority:1"`
	CompanyID   snowflake.ID    `gorm:"not null"`
	ServiceType string          `gorm:"type:text;not null"`
	Quantity    decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	Rush        bool            `gorm:"not null;default:false"`
	Status      EventStatus     `gorm:"type:text;not null"`
	CompletedOn *time.Time      `gorm:"index:ix_service_event_customer,priority:2"`
	CreatedAt   time.Time       `gorm:"not null"`
}

func (ServiceEvent) TableName() string { return "service_events" }

// Ref is the source reference stored on billing lines.
func (e ServiceEvent) Ref() string { return "event:" + e.ID.String() }

// StorageAccount is a block of stored units owned by a customer.
type StorageAccount struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	CustomerID  snowflake.ID    `gorm:"not null;index"`
	ServiceType string          `gorm:"type:text;not null"`
	Units       decimal.Decimal `gorm:"type:numeric(20,6);not null"`
	OpenedOn    time.Time       `gorm:"not null"`
	ClosedOn    *time.Time      `gorm:""`
	CreatedAt   time.Time       `gorm:"not null"`
}

func (StorageAccount) TableName() string { return "storage_accounts" }

// StorageUnits is one account's billable quantity on a date.
type StorageUnits struct {
	AccountID   snowflake.ID
	ServiceType string
	Units       decimal.Decimal
}

func (u StorageUnits) Ref() string { return "account:" + u.AccountID.String() }
