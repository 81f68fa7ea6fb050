package api

import (
	"github.com/reviso/reviso/internal/config"
	"github.com/reviso/reviso/internal/infrastructure"
	"github.com/reviso/reviso/pkg/pagination"
)

// Runtime extends Infrastructure with API-specific configuration.
type Runtime struct {
	*infrastructure.Infrastructure
	Pagination pagination.Config
}

// NewRuntime creates an API runtime with a module-scoped logger.
func NewRuntime(cfg *config.Config, infra *infrastructure.Infrastructure) *Runtime {
	return &Runtime{
		Infrastructure: &infrastructure.Infrastructure{
			Lifecycle: infra.Lifecycle,
			Logger:    infra.Logger.With("module", "api"),
			Database:  infra.Database,
			Metrics:   infra.Metrics,
		},
		Pagination: cfg.API.Pagination,
	}
}
