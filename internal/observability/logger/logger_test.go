package logger

import (
	"context"
	"testing"

	"github.com/smallbiznis/storagebill/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := correlation.WithID(context.Background(), "01J0RUN")
	WithContext(ctx, base).Info("batch started")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "01J0RUN", entries[0].ContextMap()["correlation_id"])
	}
}

func TestStatementShape(t *testing.T) {
	cases := []struct {
		sql   string
		op    string
		table string
	}{
		{sql: "select * from billing_periods where id = ?", op: "SELECT", table: "billing_periods"},
		{sql: `INSERT INTO "billing_lines" (id) VALUES (?)`, op: "INSERT", table: "billing_lines"},
		{sql: "UPDATE prepaid_balances SET remaining = ?", op: "UPDATE", table: "prepaid_balances"},
		{sql: "DELETE FROM batch_reports", op: "DELETE", table: "batch_reports"},
		{sql: "", op: "UNKNOWN", table: ""},
	}
	for _, tc := range cases {
		op, table := statementShape(tc.sql)
		assert.Equal(t, tc.op, op, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}
