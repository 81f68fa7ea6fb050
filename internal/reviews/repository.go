package reviews

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/reviso/reviso/internal/audit"
	"github.com/reviso/reviso/pkg/repository"
)

// PostgresStore persists reviews and their comment threads. Every mutation
// runs inside the ledger's append transaction, so a review change without
// its audit record cannot exist.
type PostgresStore struct {
	db     *sql.DB
	ledger *audit.Ledger
	logger *slog.Logger
}

// NewPostgresStore creates the store over a shared pool and ledger.
func NewPostgresStore(db *sql.DB, ledger *audit.Ledger, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		ledger: ledger,
		logger: logger.With("store", "reviews"),
	}
}

const reviewSelect = `
	SELECT r.id, r.rewrite_id, r.status, r.edited_text, r.override_reason,
	       r.decided_by, r.decided_at, r.created_at, r.updated_at
	FROM reviews r`

func (s *PostgresStore) Find(ctx context.Context, id uuid.UUID) (*Review, error) {
	q := reviewSelect + " WHERE r.id = $1"

	review, err := repository.QueryOne(ctx, s.db, q, []any{id}, scanReview)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &review, nil
}

func (s *PostgresStore) FindByRewrite(ctx context.Context, rewriteID uuid.UUID) (*Review, error) {
	q := reviewSelect + " WHERE r.rewrite_id = $1"

	review, err := repository.QueryOne(ctx, s.db, q, []any{rewriteID}, scanReview)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &review, nil
}

func (s *PostgresStore) Create(ctx context.Context, id, rewriteID uuid.UUID, entry audit.Entry) (*Review, error) {
	const q = `
		INSERT INTO reviews(id, rewrite_id, status)
		VALUES ($1, $2, $3)
		RETURNING id, rewrite_id, status, edited_text, override_reason,
		          decided_by, decided_at, created_at, updated_at`

	var review Review
	_, err := s.ledger.AppendWithin(ctx, entry, func(tx *sql.Tx) error {
		var err error
		review, err = repository.QueryOne(ctx, tx, q, []any{id, rewriteID, StatusPending}, scanReview)
		return err
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &review, nil
}

// Decide is the compare-and-set. The guarded UPDATE only matches decidable
// statuses; a zero-row result is resolved into not-found or a conflict
// carrying the current status, and in either case the audit append rolls
// back with the mutation.
func (s *PostgresStore) Decide(ctx context.Context, id uuid.UUID, upd DecisionUpdate, entry audit.Entry) (*Review, error) {
	const q = `
		UPDATE reviews
		SET status = $2, edited_text = $3, override_reason = $4,
		    decided_by = $5, decided_at = $6, updated_at = now()
		WHERE id = $1 AND status IN ($7, $8)
		RETURNING id, rewrite_id, status, edited_text, override_reason,
		          decided_by, decided_at, created_at, updated_at`

	var review Review
	_, err := s.ledger.AppendWithin(ctx, entry, func(tx *sql.Tx) error {
		var err error
		review, err = repository.QueryOne(
			ctx, tx, q,
			[]any{
				id, upd.Status, upd.EditedText, upd.OverrideReason,
				upd.DecidedBy, time.Now().UTC(),
				StatusPending, StatusRerunRequested,
			},
			scanReview,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return s.conflictFor(ctx, tx, id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &review, nil
}

// conflictFor distinguishes a missing review from a stale decide.
func (s *PostgresStore) conflictFor(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	var current Status
	err := tx.QueryRowContext(ctx, "SELECT status FROM reviews WHERE id = $1", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read review status: %w", err)
	}
	return &ConflictError{Current: current}
}

func (s *PostgresStore) AddComment(ctx context.Context, reviewID uuid.UUID, cmd CommentCommand, entry audit.Entry) (*Comment, error) {
	const q = `
		INSERT INTO review_comments(id, review_id, parent_id, author_id, body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, review_id, parent_id, author_id, body, created_at`

	var comment Comment
	_, err := s.ledger.AppendWithin(ctx, entry, func(tx *sql.Tx) error {
		var err error
		comment, err = repository.QueryOne(
			ctx, tx, q,
			[]any{uuid.New(), reviewID, cmd.ParentID, cmd.AuthorID, cmd.Body},
			scanComment,
		)
		return err
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &comment, nil
}

func (s *PostgresStore) Comments(ctx context.Context, reviewID uuid.UUID) ([]Comment, error) {
	const q = `
		SELECT c.id, c.review_id, c.parent_id, c.author_id, c.body, c.created_at
		FROM review_comments c
		WHERE c.review_id = $1
		ORDER BY c.created_at ASC, c.id ASC`

	comments, err := repository.QueryMany(ctx, s.db, q, []any{reviewID}, scanComment)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	return comments, nil
}

func scanReview(s repository.Scanner) (Review, error) {
	var r Review
	err := s.Scan(
		&r.ID,
		&r.RewriteID,
		&r.Status,
		&r.EditedText,
		&r.OverrideReason,
		&r.DecidedBy,
		&r.DecidedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	return r, err
}

func scanComment(s repository.Scanner) (Comment, error) {
	var c Comment
	err := s.Scan(
		&c.ID,
		&c.ReviewID,
		&c.ParentID,
		&c.AuthorID,
		&c.Body,
		&c.CreatedAt,
	)
	return c, err
}
