package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	billingperioddomain "github.com/smallbiznis/storagebill/internal/billingperiod/domain"
	"gorm.io/gorm"
)

const periodColumns = `id, customer_id, company_id, run_date, origin,
	storage_start, storage_end, service_start, service_end, coverage_start, coverage_end,
	status, idempotency_key, active_key, total, generated_at,
	confirmed_at, invoiced_at, paid_at, cancelled_at, cancel_reason, created_at, updated_at`

const lineColumns = `id, period_id, customer_id, kind, direction, source_ref, active_source_ref,
	service_type, quantity, unit_price, trail, line_total, provenance, provenance_id,
	window_start, window_end, created_at`

type repo struct{}

func Provide() billingperioddomain.Repository {
	return &repo{}
}

func (r *repo) InsertPeriod(ctx context.Context, db *gorm.DB, period *billingperioddomain.BillingPeriod) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_periods (`+periodColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		period.ID,
		period.CustomerID,
		period.CompanyID,
		period.RunDate,
		period.Origin,
		period.StorageStart,
		period.StorageEnd,
		period.ServiceStart,
		period.ServiceEnd,
		period.CoverageStart,
		period.CoverageEnd,
		period.Status,
		period.IdempotencyKey,
		period.ActiveKey,
		period.Total,
		period.GeneratedAt,
		period.ConfirmedAt,
		period.InvoicedAt,
		period.PaidAt,
		period.CancelledAt,
		period.CancelReason,
		period.CreatedAt,
		period.UpdatedAt,
	).Error
}

func (r *repo) InsertLines(ctx context.Context, db *gorm.DB, lines []billingperioddomain.BillingLine) error {
	for _, line := range lines {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO billing_lines (`+lineColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			line.ID,
			line.PeriodID,
			line.CustomerID,
			line.Kind,
			line.Direction,
			line.SourceRef,
			line.ActiveSourceRef,
			line.ServiceType,
			line.Quantity,
			line.UnitPrice,
			line.Trail,
			line.LineTotal,
			line.Provenance,
			line.ProvenanceID,
			line.WindowStart,
			line.WindowEnd,
			line.CreatedAt,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindPeriodByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*billingperioddomain.BillingPeriod, error) {
	return r.findOne(ctx, db, `SELECT `+periodColumns+` FROM billing_periods WHERE id = ?`, id)
}

func (r *repo) FindPeriodByActiveKey(ctx context.Context, db *gorm.DB, key string) (*billingperioddomain.BillingPeriod, error) {
	return r.findOne(ctx, db, `SELECT `+periodColumns+` FROM billing_periods WHERE active_key = ?`, key)
}

func (r *repo) ListPeriods(ctx context.Context, db *gorm.DB, customerID snowflake.ID) ([]billingperioddomain.BillingPeriod, error) {
	var periods []billingperioddomain.BillingPeriod
	err := db.WithContext(ctx).Raw(
		`SELECT `+periodColumns+` FROM billing_periods
		 WHERE customer_id = ?
		 ORDER BY run_date DESC, id DESC`,
		customerID,
	).Scan(&periods).Error
	if err != nil {
		return nil, err
	}
	return periods, nil
}

func (r *repo) ListLines(ctx context.Context, db *gorm.DB, periodID snowflake.ID) ([]billingperioddomain.BillingLine, error) {
	var lines []billingperioddomain.BillingLine
	err := db.WithContext(ctx).Raw(
		`SELECT `+lineColumns+` FROM billing_lines WHERE period_id = ? ORDER BY kind DESC, id ASC`,
		periodID,
	).Scan(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repo) CountLines(ctx context.Context, db *gorm.DB, periodID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM billing_lines WHERE period_id = ?`,
		periodID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) UpdatePeriodStatus(ctx context.Context, db *gorm.DB, period *billingperioddomain.BillingPeriod) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_periods
		 SET status = ?, active_key = ?, confirmed_at = ?, invoiced_at = ?, paid_at = ?,
		     cancelled_at = ?, cancel_reason = ?, updated_at = ?
		 WHERE id = ?`,
		period.Status,
		period.ActiveKey,
		period.ConfirmedAt,
		period.InvoicedAt,
		period.PaidAt,
		period.CancelledAt,
		period.CancelReason,
		period.UpdatedAt,
		period.ID,
	).Error
}

func (r *repo) ReleaseLineSources(ctx context.Context, db *gorm.DB, periodID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_lines SET active_source_ref = NULL WHERE period_id = ?`,
		periodID,
	).Error
}

func (r *repo) CountOpenPeriods(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM billing_periods WHERE customer_id = ? AND status IN (?, ?)`,
		customerID,
		billingperioddomain.StatusDraft,
		billingperioddomain.StatusConfirmed,
	).Scan(&count).Error
	return count, err
}

// LatestStoragePeriod returns the live batch period whose storage window
// started on or before runDate and reaches furthest.
func (r *repo) LatestStoragePeriod(ctx context.Context, db *gorm.DB, customerID snowflake.ID, runDate time.Time) (*billingperioddomain.BillingPeriod, error) {
	return r.findOne(ctx, db,
		`SELECT `+periodColumns+` FROM billing_periods
		 WHERE customer_id = ? AND origin = ? AND status <> ? AND run_date <> ?
		   AND storage_start IS NOT NULL AND storage_start <= ?
		 ORDER BY storage_end DESC LIMIT 1`,
		customerID, billingperioddomain.OriginBatch, billingperioddomain.StatusCancelled, runDate, runDate,
	)
}

func (r *repo) LatestCoveragePeriod(ctx context.Context, db *gorm.DB, customerID snowflake.ID, runDate time.Time) (*billingperioddomain.BillingPeriod, error) {
	return r.findOne(ctx, db,
		`SELECT `+periodColumns+` FROM billing_periods
		 WHERE customer_id = ? AND origin = ? AND status <> ? AND run_date <> ?
		   AND coverage_start IS NOT NULL AND coverage_start <= ?
		 ORDER BY coverage_end DESC LIMIT 1`,
		customerID, billingperioddomain.OriginBatch, billingperioddomain.StatusCancelled, runDate, runDate,
	)
}

func (r *repo) LatestServicePeriod(ctx context.Context, db *gorm.DB, customerID snowflake.ID, runDate time.Time) (*billingperioddomain.BillingPeriod, error) {
	return r.findOne(ctx, db,
		`SELECT `+periodColumns+` FROM billing_periods
		 WHERE customer_id = ? AND origin = ? AND status <> ? AND run_date <> ?
		   AND service_end IS NOT NULL
		 ORDER BY service_end DESC LIMIT 1`,
		customerID, billingperioddomain.OriginBatch, billingperioddomain.StatusCancelled, runDate,
	)
}

func (r *repo) ActiveSourceRefs(ctx context.Context, db *gorm.DB, refs []string) ([]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	var billed []string
	err := db.WithContext(ctx).Raw(
		`SELECT active_source_ref FROM billing_lines WHERE active_source_ref IN ?`,
		refs,
	).Scan(&billed).Error
	if err != nil {
		return nil, err
	}
	return billed, nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*billingperioddomain.BillingPeriod, error) {
	var period billingperioddomain.BillingPeriod
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&period).Error; err != nil {
		return nil, err
	}
	if period.ID == 0 {
		return nil, nil
	}
	return &period, nil
}
