package rulesets

import (
	"context"

	"github.com/google/uuid"
)

// System defines the public contract for ruleset domain operations.
type System interface {
	Handler() *Handler

	List(ctx context.Context) ([]Ruleset, error)
	Find(ctx context.Context, id uuid.UUID) (*Ruleset, error)
	Create(ctx context.Context, cmd CreateCommand) (*Ruleset, error)
	Activate(ctx context.Context, id uuid.UUID) (*Ruleset, error)
	Deactivate(ctx context.Context, id uuid.UUID) (*Ruleset, error)
}
