package rulesets

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/reviso/reviso/pkg/repository"
)

type repo struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a ruleset repository implementing the System interface.
func New(db *sql.DB, logger *slog.Logger) System {
	return &repo{
		db:     db,
		logger: logger.With("system", "rulesets"),
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger)
}

const rulesetSelect = `
	SELECT r.id, r.name, r.version, r.jurisdiction, r.active, r.fragments_json,
	       r.created_at, r.updated_at
	FROM rulesets r`

func (r *repo) List(ctx context.Context) ([]Ruleset, error) {
	q := rulesetSelect + " ORDER BY r.created_at DESC"

	sets, err := repository.QueryMany(ctx, r.db, q, nil, scanRuleset)
	if err != nil {
		return nil, fmt.Errorf("query rulesets: %w", err)
	}
	return sets, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Ruleset, error) {
	q := rulesetSelect + " WHERE r.id = $1"

	rs, err := repository.QueryOne(ctx, r.db, q, []any{id}, scanRuleset)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &rs, nil
}

func (r *repo) Create(ctx context.Context, cmd CreateCommand) (*Ruleset, error) {
	if len(cmd.Fragments) == 0 {
		return nil, ErrNoFragments
	}

	fragments, err := json.Marshal(cmd.Fragments)
	if err != nil {
		return nil, fmt.Errorf("encode fragments: %w", err)
	}

	const q = `
		INSERT INTO rulesets(id, name, version, jurisdiction, active, fragments_json)
		VALUES ($1, $2, 1, $3, false, $4)
		RETURNING id, name, version, jurisdiction, active, fragments_json, created_at, updated_at`

	rs, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Ruleset, error) {
		return repository.QueryOne(
			ctx, tx, q,
			[]any{uuid.New(), cmd.Name, cmd.Jurisdiction, fragments},
			scanRuleset,
		)
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("ruleset created", "id", rs.ID, "name", rs.Name)
	return &rs, nil
}

func (r *repo) Activate(ctx context.Context, id uuid.UUID) (*Ruleset, error) {
	return r.setActive(ctx, id, true)
}

func (r *repo) Deactivate(ctx context.Context, id uuid.UUID) (*Ruleset, error) {
	return r.setActive(ctx, id, false)
}

func (r *repo) setActive(ctx context.Context, id uuid.UUID, active bool) (*Ruleset, error) {
	const q = `
		UPDATE rulesets
		SET active = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, name, version, jurisdiction, active, fragments_json, created_at, updated_at`

	rs, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Ruleset, error) {
		return repository.QueryOne(ctx, tx, q, []any{id, active}, scanRuleset)
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("ruleset active state changed", "id", id, "active", active)
	return &rs, nil
}

func scanRuleset(s repository.Scanner) (Ruleset, error) {
	var (
		rs        Ruleset
		fragments []byte
	)
	if err := s.Scan(
		&rs.ID,
		&rs.Name,
		&rs.Version,
		&rs.Jurisdiction,
		&rs.Active,
		&fragments,
		&rs.CreatedAt,
		&rs.UpdatedAt,
	); err != nil {
		return rs, err
	}

	if err := json.Unmarshal(fragments, &rs.Fragments); err != nil {
		return rs, fmt.Errorf("decode fragments: %w", err)
	}
	return rs, nil
}
