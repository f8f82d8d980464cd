package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	prepaiddomain "github.com/smallbiznis/storagebill/internal/prepaid/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() prepaiddomain.Repository {
	return &repo{}
}

func (r *repo) InsertBalance(ctx context.Context, db *gorm.DB, balance *prepaiddomain.PrepaidBalance) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO prepaid_balances (
			id, customer_id, company_id, service_type, remaining, locked_unit_rate,
			term_start, term_end, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		balance.ID,
		balance.CustomerID,
		balance.CompanyID,
		balance.ServiceType,
		balance.Remaining,
		balance.LockedUnitRate,
		balance.TermStart,
		balance.TermEnd,
		balance.CreatedAt,
		balance.UpdatedAt,
	).Error
}

func (r *repo) FindBalanceByCustomer(ctx context.Context, db *gorm.DB, customerID snowflake.ID) (*prepaiddomain.PrepaidBalance, error) {
	var balance prepaiddomain.PrepaidBalance
	err := db.WithContext(ctx).Raw(
		`SELECT id, customer_id, company_id, service_type, remaining, locked_unit_rate,
		 term_start, term_end, created_at, updated_at
		 FROM prepaid_balances WHERE customer_id = ?`,
		customerID,
	).Scan(&balance).Error
	if err != nil {
		return nil, err
	}
	if balance.ID == 0 {
		return nil, nil
	}
	return &balance, nil
}

func (r *repo) DeductBalance(ctx context.Context, db *gorm.DB, balanceID snowflake.ID, amount decimal.Decimal, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE prepaid_balances
		 SET remaining = remaining - ?, updated_at = ?
		 WHERE id = ? AND remaining >= ?`,
		amount,
		now,
		balanceID,
		amount,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) AddBalance(ctx context.Context, db *gorm.DB, balanceID snowflake.ID, amount decimal.Decimal, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE prepaid_balances SET remaining = remaining + ?, updated_at = ? WHERE id = ?`,
		amount,
		now,
		balanceID,
	).Error
}

func (r *repo) InsertConsumption(ctx context.Context, db *gorm.DB, consumption *prepaiddomain.PrepaidConsumption) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO prepaid_consumptions (
			id, balance_id, coverage_start, coverage_end, units, amount, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		consumption.ID,
		consumption.BalanceID,
		consumption.CoverageStart,
		consumption.CoverageEnd,
		consumption.Units,
		consumption.Amount,
		consumption.CreatedAt,
	).Error
}

func (r *repo) FindConsumption(ctx context.Context, db *gorm.DB, balanceID snowflake.ID, coverageStart time.Time) (*prepaiddomain.PrepaidConsumption, error) {
	var consumption prepaiddomain.PrepaidConsumption
	err := db.WithContext(ctx).Raw(
		`SELECT id, balance_id, coverage_start, coverage_end, units, amount, created_at
		 FROM prepaid_consumptions WHERE balance_id = ? AND coverage_start = ?`,
		balanceID,
		coverageStart,
	).Scan(&consumption).Error
	if err != nil {
		return nil, err
	}
	if consumption.ID == 0 {
		return nil, nil
	}
	return &consumption, nil
}

func (r *repo) ListConsumptions(ctx context.Context, db *gorm.DB, balanceID snowflake.ID) ([]prepaiddomain.PrepaidConsumption, error) {
	var consumptions []prepaiddomain.PrepaidConsumption
	err := db.WithContext(ctx).Raw(
		`SELECT id, balance_id, coverage_start, coverage_end, units, amount, created_at
		 FROM prepaid_consumptions WHERE balance_id = ? ORDER BY coverage_start ASC`,
		balanceID,
	).Scan(&consumptions).Error
	if err != nil {
		return nil, err
	}
	return consumptions, nil
}
