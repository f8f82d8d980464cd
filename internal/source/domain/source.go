package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	billingwindowdomain "github.com/smallbiznis/storagebill/internal/billingwindow/domain"
)

// ServiceEventSource reads completed work from the fulfillment subsystem.
// Transport failures surface as billingerr.ErrSourceEventUnavailable.
type ServiceEventSource interface {
	ListCompleted(ctx context.Context, customerID snowflake.ID, window billingwindowdomain.Window) ([]ServiceEvent, error)
	GetEvent(ctx context.Context, eventID snowflake.ID) (*ServiceEvent, error)
}

type StorageAccountSource interface {
	ActiveUnits(ctx context.Context, customerID snowflake.ID, asOf time.Time) ([]StorageUnits, error)
}
