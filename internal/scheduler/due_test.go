package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsDue(t *testing.T) {
	day := func(y int, m time.Month, d int) *time.Time {
		v := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		return &v
	}

	tests := []struct {
		name       string
		billingDay int
		lastRun    *time.Time
		today      time.Time
		want       bool
	}{
		{"first run on billing day", 1, nil, *day(2025, 8, 1), true},
		{"before billing day", 15, nil, *day(2025, 8, 14), false},
		{"already ran this month", 1, day(2025, 8, 1), *day(2025, 8, 1), false},
		{"ran last month", 1, day(2025, 7, 1), *day(2025, 8, 1), true},
		{"missed day caught up later", 5, day(2025, 7, 5), *day(2025, 8, 9), true},
		{"billing day clamped to short month", 31, day(2025, 1, 31), *day(2025, 2, 28), true},
		{"clamped day not reached", 31, day(2025, 1, 31), *day(2025, 2, 27), false},
		{"time of day ignored", 1, nil, time.Date(2025, 8, 1, 23, 30, 0, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDue(tt.billingDay, tt.lastRun, tt.today))
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Workers: 8}.withDefaults()
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, DefaultConfig().BatchTimeout, cfg.BatchTimeout)
	assert.Equal(t, DefaultConfig().LeaseTTL, cfg.LeaseTTL)
}
