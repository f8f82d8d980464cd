package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storagebill/internal/idempotency"
)

const DateLayout = "2006-01-02"

// Window is an inclusive range of UTC calendar dates.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewWindow(start, end time.Time) *Window {
	return &Window{Start: DateOf(start), End: DateOf(end)}
}

// Contains reports whether date lies within the window, both ends included.
func (w Window) Contains(date time.Time) bool {
	date = DateOf(date)
	return !date.Before(w.Start) && !date.After(w.End)
}

// Months counts the calendar months the window touches.
func (w Window) Months() int {
	return (w.End.Year()-w.Start.Year())*12 + int(w.End.Month()) - int(w.Start.Month()) + 1
}

func (w Window) String() string {
	return w.Start.Format(DateLayout) + ".." + w.End.Format(DateLayout)
}

// Windows is what one run bills: an advance storage window or a prepaid
// coverage month, and an arrears service window. Any of them may be nil.
type Windows struct {
	Storage         *Window
	Service         *Window
	PrepaidCoverage *Window
}

func (w Windows) Empty() bool {
	return w.Storage == nil && w.Service == nil && w.PrepaidCoverage == nil
}

// Key is the idempotency fingerprint of a batch period: customer, run date
// and the computed windows.
func (w Windows) Key(customerID snowflake.ID, runDate time.Time) string {
	return idempotency.GenerateKey(idempotency.ScopeBatchPeriod, map[string]string{
		"customer": customerID.String(),
		"run_date": DateOf(runDate).Format(DateLayout),
		"storage":  windowParam(w.Storage),
		"coverage": windowParam(w.PrepaidCoverage),
		"service":  windowParam(w.Service),
	})
}

// Prior carries the latest windows already billed by non-cancelled periods.
type Prior struct {
	Storage         *Window
	Service         *Window
	PrepaidCoverage *Window
}

// CoversStorage reports whether forward storage already runs through date.
func (p Prior) CoversStorage(date time.Time) bool {
	if p.Storage != nil && p.Storage.Contains(date) {
		return true
	}
	return p.PrepaidCoverage != nil && p.PrepaidCoverage.Contains(date)
}

func windowParam(w *Window) string {
	if w == nil {
		return "-"
	}
	return w.String()
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func MonthEnd(t time.Time) time.Time {
	return MonthStart(t).AddDate(0, 1, -1)
}

// ClampedDay returns day of the given month, pulled back to the month's last
// day when the month is shorter.
func ClampedDay(year int, month time.Month, day int) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
