package api

import (
	"net/http"

	"github.com/reviso/reviso/internal/audit"
	"github.com/reviso/reviso/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	runtime *Runtime,
) {
	routes.Register(
		mux,
		domain.Sections.Handler().Routes(),
		domain.Rulesets.Handler().Routes(),
		domain.Jobs.Handler().Routes(),
		domain.Reviews.Handler().Routes(),
		domain.Assembly.Handler().Routes(),
		audit.NewHandler(domain.Audit, runtime.Logger, runtime.Pagination).Routes(),
	)
}
