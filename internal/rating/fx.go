package rating

import (
	"github.com/smallbiznis/storagebill/internal/rating/service"
	"go.uber.org/fx"
)

// Module provides the rate resolution engine used by the line item assembler
// and the prepaid tracker.
var Module = fx.Module("rating.engine",
	fx.Provide(service.New),
)
