// Package report holds the batch report produced by a scheduler sweep and its
// persisted form for the operations dashboard.
package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	SkipNothingDue       = "nothing_due"
	SkipNotDue           = "not_due"
	SkipNoBillableLines  = "no_billable_lines"
	SkipDuplicatePeriod  = "duplicate_generation"
	SkipImmediateService = "immediate_service"
)

type Succeeded struct {
	CustomerID snowflake.ID `json:"customer_id"`
	PeriodID   snowflake.ID `json:"period_id"`
	Lines      int          `json:"lines"`
	Total      string       `json:"total"`
}

type Skipped struct {
	CustomerID snowflake.ID `json:"customer_id"`
	Reason     string       `json:"reason"`
}

type Failed struct {
	CustomerID snowflake.ID `json:"customer_id"`
	Cause      string       `json:"cause"`
	Message    string       `json:"message"`
}

type Alert struct {
	CustomerID snowflake.ID `json:"customer_id"`
	Kind       string       `json:"kind"`
	Message    string       `json:"message"`
}

// BatchReport is the outcome of one RunBatch call. Every processed customer
// appears in exactly one of Succeeded, Skipped or Failed.
type BatchReport struct {
	RunID      string      `json:"run_id"`
	RunDate    time.Time   `json:"run_date"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Succeeded  []Succeeded `json:"succeeded"`
	Skipped    []Skipped   `json:"skipped"`
	Failed     []Failed    `json:"failed"`
	Alerts     []Alert     `json:"alerts"`
}

func (r BatchReport) Partial() bool {
	return len(r.Failed) > 0
}

// Record is the persisted batch report.
type Record struct {
	ID         snowflake.ID   `gorm:"primaryKey"`
	RunID      string         `gorm:"type:text;not null;uniqueIndex"`
	RunDate    time.Time      `gorm:"not null;index"`
	Succeeded  int            `gorm:"not null"`
	Skipped    int            `gorm:"not null"`
	Failed     int            `gorm:"not null"`
	Alerts     int            `gorm:"not null"`
	Report     datatypes.JSON `gorm:"type:json;not null"`
	StartedAt  time.Time      `gorm:"not null"`
	FinishedAt time.Time      `gorm:"not null"`
}

func (Record) TableName() string { return "batch_reports" }

type Store struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewStore(db *gorm.DB, genID *snowflake.Node) *Store {
	return &Store{db: db, genID: genID}
}

func (s *Store) Save(ctx context.Context, r BatchReport) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO batch_reports (
			id, run_id, run_date, succeeded, skipped, failed, alerts, report, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.genID.Generate(),
		r.RunID,
		r.RunDate,
		len(r.Succeeded),
		len(r.Skipped),
		len(r.Failed),
		len(r.Alerts),
		datatypes.JSON(payload),
		r.StartedAt,
		r.FinishedAt,
	).Error
}

// Get returns the stored report for runID, or nil when none exists.
func (s *Store) Get(ctx context.Context, runID string) (*BatchReport, error) {
	var record Record
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, run_id, run_date, succeeded, skipped, failed, alerts, report, started_at, finished_at
		 FROM batch_reports WHERE run_id = ?`,
		runID,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	var out BatchReport
	if err := json.Unmarshal(record.Report, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []Record
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, run_id, run_date, succeeded, skipped, failed, alerts, report, started_at, finished_at
		 FROM batch_reports ORDER BY started_at DESC LIMIT ?`,
		limit,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
