package source

import (
	"github.com/smallbiznis/storagebill/internal/source/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("source.repository",
	fx.Provide(repository.Provide),
)
