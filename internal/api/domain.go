package api

import (
	"github.com/reviso/reviso/internal/assembly"
	"github.com/reviso/reviso/internal/audit"
	"github.com/reviso/reviso/internal/config"
	"github.com/reviso/reviso/internal/inference"
	"github.com/reviso/reviso/internal/jobs"
	"github.com/reviso/reviso/internal/reviews"
	"github.com/reviso/reviso/internal/risk"
	"github.com/reviso/reviso/internal/rulesets"
	"github.com/reviso/reviso/internal/sections"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Audit    audit.System
	Sections sections.System
	Rulesets rulesets.System
	Jobs     jobs.System
	Reviews  reviews.System
	Assembly *assembly.Gate
}

// NewDomain creates all domain systems from the API runtime. The review
// gate and the orchestrator reference each other (reviews read rewrite
// state, rerun decisions feed back into scheduling), so the notifier is
// wired after both exist.
func NewDomain(cfg *config.Config, runtime *Runtime) *Domain {
	db := runtime.Database.Connection()

	ledger := audit.New(db, runtime.Logger)
	ledger.SetObserver(runtime.Metrics)

	sectionsSystem := sections.New(db, runtime.Logger)
	rulesetsSystem := rulesets.New(db, runtime.Logger)

	orchestrator := jobs.NewOrchestrator(
		runtime.Lifecycle.Context(),
		cfg.Orchestrator,
		jobs.NewPostgresStore(db, ledger, runtime.Logger),
		sectionsSystem,
		rulesetsSystem,
		inference.NewHTTPClient(cfg.Inference, runtime.Logger),
		risk.NewAnalyzer(cfg.Risk),
		runtime.Logger,
	)
	orchestrator.SetObserver(runtime.Metrics)
	runtime.Lifecycle.OnShutdown(orchestrator.Wait)

	reviewsSystem := reviews.NewService(
		reviews.NewPostgresStore(db, ledger, runtime.Logger),
		&rewriteSource{jobs: orchestrator},
		runtime.Logger,
	)
	reviewsSystem.SetRerunNotifier(&rerunNotifier{jobs: orchestrator})
	reviewsSystem.SetObserver(runtime.Metrics)

	gate := assembly.NewGate(
		orchestrator,
		reviewsSystem,
		sectionsSystem,
		runtime.Logger,
	)

	return &Domain{
		Audit:    ledger,
		Sections: sectionsSystem,
		Rulesets: rulesetsSystem,
		Jobs:     orchestrator,
		Reviews:  reviewsSystem,
		Assembly: gate,
	}
}
