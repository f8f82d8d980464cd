package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

type Service interface {
	Resolve(ctx context.Context, req ResolveRequest) (Resolution, error)
	LineTotal(unitPrice, quantity decimal.Decimal) decimal.Decimal
}
