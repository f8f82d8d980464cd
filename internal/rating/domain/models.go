package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Step names one adjustment applied on top of the tier price.
type Step string

const (
	StepRush   Step = "rush"
	StepVolume Step = "volume"
	StepGlobal Step = "global"
)

// Provenance records which tier supplied the starting price.
type Provenance string

const (
	ProvenanceNegotiated Provenance = "negotiated"
	ProvenanceBase       Provenance = "base"
)

// Adjustment is one entry of the ordered discount trail. Factor is the rush
// multiplier for StepRush and a percentage for the discount steps.
type Adjustment struct {
	Step   Step            `json:"step"`
	Factor decimal.Decimal `json:"factor"`
	Before decimal.Decimal `json:"before"`
	After  decimal.Decimal `json:"after"`
}

type ResolveRequest struct {
	CustomerID  snowflake.ID
	CompanyID   snowflake.ID
	ServiceType string
	Quantity    decimal.Decimal
	RunDate     time.Time
	Rush        bool
}

type Resolution struct {
	UnitPrice    decimal.Decimal
	Trail        []Adjustment
	Provenance   Provenance
	ProvenanceID snowflake.ID
}

// Steps returns the trail step names in application order.
func (r Resolution) Steps() []Step {
	steps := make([]Step, 0, len(r.Trail))
	for _, adj := range r.Trail {
		steps = append(steps, adj.Step)
	}
	return steps
}
