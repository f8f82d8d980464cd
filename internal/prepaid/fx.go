package prepaid

import (
	"github.com/smallbiznis/storagebill/internal/prepaid/repository"
	"github.com/smallbiznis/storagebill/internal/prepaid/service"
	"go.uber.org/fx"
)

var Module = fx.Module("prepaid.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
