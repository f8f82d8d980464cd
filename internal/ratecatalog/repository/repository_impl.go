package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	ratecatalogdomain "github.com/smallbiznis/storagebill/internal/ratecatalog/domain"
	"gorm.io/gorm"
)

type repo struct {
	genID *snowflake.Node
}

func Provide(genID *snowflake.Node) ratecatalogdomain.Repository {
	return &repo{genID: genID}
}

func (r *repo) InsertRateRecord(ctx context.Context, db *gorm.DB, record *ratecatalogdomain.RateRecord) error {
	if err := db.WithContext(ctx).Exec(
		`INSERT INTO rate_records (
			id, company_id, version, effective_date, expiry_date, is_current,
			current_company_id, rush_multiplier, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.CompanyID,
		record.Version,
		record.EffectiveDate,
		record.ExpiryDate,
		record.IsCurrent,
		record.CurrentCompanyID,
		record.RushMultiplier,
		record.CreatedAt,
		record.UpdatedAt,
	).Error; err != nil {
		return err
	}

	prices := make([]ratecatalogdomain.RateRecordPrice, 0, len(record.Prices))
	for _, serviceType := range lo.Keys(record.Prices) {
		prices = append(prices, ratecatalogdomain.RateRecordPrice{
			ID:           r.genID.Generate(),
			RateRecordID: record.ID,
			ServiceType:  serviceType,
			UnitPrice:    record.Prices[serviceType],
		})
	}
	if len(prices) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&prices).Error
}

func (r *repo) FindRateRecordByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ratecatalogdomain.RateRecord, error) {
	var record ratecatalogdomain.RateRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, company_id, version, effective_date, expiry_date, is_current,
		 current_company_id, rush_multiplier, created_at, updated_at
		 FROM rate_records WHERE id = ?`,
		id,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	if err := r.loadPrices(ctx, db, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repo) FindCurrentRateRecord(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (*ratecatalogdomain.RateRecord, error) {
	var record ratecatalogdomain.RateRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, company_id, version, effective_date, expiry_date, is_current,
		 current_company_id, rush_multiplier, created_at, updated_at
		 FROM rate_records WHERE company_id = ? AND is_current = ?`,
		companyID,
		true,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	if err := r.loadPrices(ctx, db, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repo) ListRateRecords(ctx context.Context, db *gorm.DB, companyID snowflake.ID) ([]ratecatalogdomain.RateRecord, error) {
	var records []ratecatalogdomain.RateRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, company_id, version, effective_date, expiry_date, is_current,
		 current_company_id, rush_multiplier, created_at, updated_at
		 FROM rate_records WHERE company_id = ? ORDER BY version ASC`,
		companyID,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	for i := range records {
		if err := r.loadPrices(ctx, db, &records[i]); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (r *repo) ClearCurrentRateRecord(ctx context.Context, db *gorm.DB, companyID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE rate_records
		 SET is_current = ?, current_company_id = NULL, updated_at = ?
		 WHERE company_id = ? AND is_current = ?`,
		false,
		now,
		companyID,
		true,
	).Error
}

func (r *repo) MarkCurrentRateRecord(ctx context.Context, db *gorm.DB, record *ratecatalogdomain.RateRecord, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE rate_records
		 SET is_current = ?, current_company_id = ?, updated_at = ?
		 WHERE id = ?`,
		true,
		record.CompanyID,
		now,
		record.ID,
	).Error
}

func (r *repo) InsertNegotiatedRate(ctx context.Context, db *gorm.DB, rate *ratecatalogdomain.NegotiatedRate) error {
	if err := db.WithContext(ctx).Exec(
		`INSERT INTO negotiated_rates (
			id, customer_id, company_id, base_rate_record_id, effective_date, expiry_date,
			global_discount_percent, volume_threshold, volume_discount_percent, rush_multiplier,
			status, active_key, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rate.ID,
		rate.CustomerID,
		rate.CompanyID,
		rate.BaseRateRecordID,
		rate.EffectiveDate,
		rate.ExpiryDate,
		rate.GlobalDiscountPercent,
		rate.VolumeThreshold,
		rate.VolumeDiscountPercent,
		rate.RushMultiplier,
		rate.Status,
		rate.ActiveKey,
		rate.CreatedAt,
		rate.UpdatedAt,
	).Error; err != nil {
		return err
	}

	overrides := make([]ratecatalogdomain.NegotiatedRateOverride, 0, len(rate.Overrides))
	for _, serviceType := range lo.Keys(rate.Overrides) {
		overrides = append(overrides, ratecatalogdomain.NegotiatedRateOverride{
			ID:               r.genID.Generate(),
			NegotiatedRateID: rate.ID,
			ServiceType:      serviceType,
			UnitPrice:        rate.Overrides[serviceType],
		})
	}
	if len(overrides) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&overrides).Error
}

func (r *repo) FindNegotiatedRateByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ratecatalogdomain.NegotiatedRate, error) {
	var rate ratecatalogdomain.NegotiatedRate
	err := db.WithContext(ctx).Raw(
		`SELECT id, customer_id, company_id, base_rate_record_id, effective_date, expiry_date,
		 global_discount_percent, volume_threshold, volume_discount_percent, rush_multiplier,
		 status, active_key, created_at, updated_at
		 FROM negotiated_rates WHERE id = ?`,
		id,
	).Scan(&rate).Error
	if err != nil {
		return nil, err
	}
	if rate.ID == 0 {
		return nil, nil
	}
	if err := r.loadOverrides(ctx, db, &rate); err != nil {
		return nil, err
	}
	return &rate, nil
}

func (r *repo) FindActiveNegotiatedRate(ctx context.Context, db *gorm.DB, customerID, companyID snowflake.ID) (*ratecatalogdomain.NegotiatedRate, error) {
	var rate ratecatalogdomain.NegotiatedRate
	err := db.WithContext(ctx).Raw(
		`SELECT id, customer_id, company_id, base_rate_record_id, effective_date, expiry_date,
		 global_discount_percent, volume_threshold, volume_discount_percent, rush_multiplier,
		 status, active_key, created_at, updated_at
		 FROM negotiated_rates
		 WHERE customer_id = ? AND company_id = ? AND status = ?`,
		customerID,
		companyID,
		ratecatalogdomain.NegotiatedRateStatusActive,
	).Scan(&rate).Error
	if err != nil {
		return nil, err
	}
	if rate.ID == 0 {
		return nil, nil
	}
	if err := r.loadOverrides(ctx, db, &rate); err != nil {
		return nil, err
	}
	return &rate, nil
}

func (r *repo) ListExpiredActiveNegotiatedRates(ctx context.Context, db *gorm.DB, asOf time.Time) ([]ratecatalogdomain.NegotiatedRate, error) {
	var rates []ratecatalogdomain.NegotiatedRate
	err := db.WithContext(ctx).Raw(
		`SELECT id, customer_id, company_id, base_rate_record_id, effective_date, expiry_date,
		 global_discount_percent, volume_threshold, volume_discount_percent, rush_multiplier,
		 status, active_key, created_at, updated_at
		 FROM negotiated_rates
		 WHERE status = ? AND expiry_date IS NOT NULL AND expiry_date < ?
		 ORDER BY id ASC`,
		ratecatalogdomain.NegotiatedRateStatusActive,
		asOf,
	).Scan(&rates).Error
	return rates, err
}

func (r *repo) UpdateNegotiatedRateStatus(ctx context.Context, db *gorm.DB, rate *ratecatalogdomain.NegotiatedRate, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE negotiated_rates
		 SET status = ?, active_key = ?, updated_at = ?
		 WHERE id = ?`,
		rate.Status,
		rate.ActiveKey,
		now,
		rate.ID,
	).Error
}

func (r *repo) loadPrices(ctx context.Context, db *gorm.DB, record *ratecatalogdomain.RateRecord) error {
	var rows []ratecatalogdomain.RateRecordPrice
	err := db.WithContext(ctx).Raw(
		`SELECT id, rate_record_id, service_type, unit_price
		 FROM rate_record_prices WHERE rate_record_id = ?`,
		record.ID,
	).Scan(&rows).Error
	if err != nil {
		return err
	}
	record.Prices = lo.SliceToMap(rows, func(row ratecatalogdomain.RateRecordPrice) (string, decimal.Decimal) {
		return row.ServiceType, row.UnitPrice
	})
	return nil
}

func (r *repo) loadOverrides(ctx context.Context, db *gorm.DB, rate *ratecatalogdomain.NegotiatedRate) error {
	var rows []ratecatalogdomain.NegotiatedRateOverride
	err := db.WithContext(ctx).Raw(
		`SELECT id, negotiated_rate_id, service_type, unit_price
		 FROM negotiated_rate_overrides WHERE negotiated_rate_id = ?`,
		rate.ID,
	).Scan(&rows).Error
	if err != nil {
		return err
	}
	rate.Overrides = lo.SliceToMap(rows, func(row ratecatalogdomain.NegotiatedRateOverride) (string, decimal.Decimal) {
		return row.ServiceType, row.UnitPrice
	})
	return nil
}
