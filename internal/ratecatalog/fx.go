package ratecatalog

import (
	"github.com/smallbiznis/storagebill/internal/ratecatalog/repository"
	"github.com/smallbiznis/storagebill/internal/ratecatalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ratecatalog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
