package billingwindow

import (
	"github.com/smallbiznis/storagebill/internal/billingwindow/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingwindow.service",
	fx.Provide(service.New),
)
