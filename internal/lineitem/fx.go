package lineitem

import (
	"github.com/smallbiznis/storagebill/internal/lineitem/service"
	"go.uber.org/fx"
)

var Module = fx.Module("lineitem.service",
	fx.Provide(service.New),
)
