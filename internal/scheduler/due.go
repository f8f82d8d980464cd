package scheduler

import (
	"time"

	billingwindowdomain "github.com/smallbiznis/storagebill/internal/billingwindow/domain"
)

// IsDue reports whether a profile billed on billingDay should run today. The
// billing day is clamped to the month's length, and a run missed on the day
// itself is picked up by any later run in the same month.
func IsDue(billingDay int, lastRunDate *time.Time, today time.Time) bool {
	today = billingwindowdomain.DateOf(today)
	dueOn := billingwindowdomain.ClampedDay(today.Year(), today.Month(), billingDay)
	if today.Before(dueOn) {
		return false
	}
	if lastRunDate == nil {
		return true
	}
	return billingwindowdomain.DateOf(*lastRunDate).Before(dueOn)
}
