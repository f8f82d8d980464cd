package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/storagebill/internal/billingerr"
	billingwindowdomain "github.com/smallbiznis/storagebill/internal/billingwindow/domain"
	sourcedomain "github.com/smallbiznis/storagebill/internal/source/domain"
	"github.com/smallbiznis/storagebill/pkg/db/transaction"
	"gorm.io/gorm"
)

const (
	fulfillmentSource = "fulfillment"
	storageSource     = "storage accounts"
)

type repo struct {
	db *gorm.DB
}

// Provide returns the gorm-backed readers for both external subsystems.
func Provide(db *gorm.DB) (sourcedomain.ServiceEventSource, sourcedomain.StorageAccountSource) {
	r := &repo{db: db}
	return r, r
}

func (r *repo) ListCompleted(ctx context.Context, customerID snowflake.ID, window billingwindowdomain.Window) ([]sourcedomain.ServiceEvent, error) {
	var events []sourcedomain.ServiceEvent
	err := transaction.Conn(ctx, r.db).Raw(
		`SELECT id, customer_id, company_id, service_type, quantity, rush, status, completed_on, created_at
		 FROM service_events
		 WHERE customer_id = ? AND status = ? AND completed_on >= ? AND completed_on <= ?
		 ORDER BY completed_on ASC, id ASC`,
		customerID,
		sourcedomain.EventStatusCompleted,
		window.Start,
		window.End,
	).Scan(&events).Error
	if err != nil {
		return nil, billingerr.SourceUnavailable(err, fulfillmentSource)
	}
	return events, nil
}

func (r *repo) GetEvent(ctx context.Context, eventID snowflake.ID) (*sourcedomain.ServiceEvent, error) {
	var event sourcedomain.ServiceEvent
	err := transaction.Conn(ctx, r.db).Raw(
		`SELECT id, customer_id, company_id, service_type, quantity, rush, status, completed_on, created_at
		 FROM service_events WHERE id = ?`,
		eventID,
	).Scan(&event).Error
	if err != nil {
		return nil, billingerr.SourceUnavailable(err, fulfillmentSource)
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

// ActiveUnits returns accounts open on asOf with a positive quantity.
func (r *repo) ActiveUnits(ctx context.Context, customerID snowflake.ID, asOf time.Time) ([]sourcedomain.StorageUnits, error) {
	var accounts []sourcedomain.StorageAccount
	err := transaction.Conn(ctx, r.db).Raw(
		`SELECT id, customer_id, service_type, units, opened_on, closed_on, created_at
		 FROM storage_accounts
		 WHERE customer_id = ? AND opened_on <= ? AND (closed_on IS NULL OR closed_on >= ?)
		 ORDER BY id ASC`,
		customerID,
		asOf,
		asOf,
	).Scan(&accounts).Error
	if err != nil {
		return nil, billingerr.SourceUnavailable(err, storageSource)
	}

	active := lo.Filter(accounts, func(a sourcedomain.StorageAccount, _ int) bool {
		return a.Units.IsPositive()
	})
	return lo.Map(active, func(a sourcedomain.StorageAccount, _ int) sourcedomain.StorageUnits {
		return sourcedomain.StorageUnits{AccountID: a.ID, ServiceType: a.ServiceType, Units: a.Units}
	}), nil
}
