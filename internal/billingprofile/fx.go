package billingprofile

import (
	"github.com/smallbiznis/storagebill/internal/billingprofile/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingprofile.service",
	fx.Provide(service.New),
)
