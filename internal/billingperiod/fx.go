package billingperiod

import (
	billingperioddomain "github.com/smallbiznis/storagebill/internal/billingperiod/domain"
	"github.com/smallbiznis/storagebill/internal/billingperiod/repository"
	"github.com/smallbiznis/storagebill/internal/billingperiod/service"
	billingprofiledomain "github.com/smallbiznis/storagebill/internal/billingprofile/domain"
	billingwindowdomain "github.com/smallbiznis/storagebill/internal/billingwindow/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("billingperiod.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(
		func(svc billingperioddomain.Service) billingprofiledomain.InFlightChecker { return svc },
		func(svc billingperioddomain.Service) billingwindowdomain.PriorLoader { return svc },
	),
)
