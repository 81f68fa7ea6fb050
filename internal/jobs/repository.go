package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/reviso/reviso/internal/audit"
	"github.com/reviso/reviso/internal/risk"
	"github.com/reviso/reviso/pkg/repository"
)

// PostgresStore persists jobs, section rewrites, and their risk findings.
// State transitions run inside the ledger's append transaction, so a
// transition without its audit record cannot exist.
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
		logger: logger.With("store", "jobs"),
	}
}

const jobSelect = `
	SELECT j.id, j.document_id, j.ruleset_id, j.ruleset_version, j.status,
	       j.total_sections, j.completed_sections, j.error_detail,
	       j.started_at, j.finished_at, j.created_at, j.updated_at
	FROM rewrite_jobs j`

const jobReturning = `
	RETURNING id, document_id, ruleset_id, ruleset_version, status,
	          total_sections, completed_sections, error_detail,
	          started_at, finished_at, created_at, updated_at`

const rewriteSelect = `
	SELECT sr.id, sr.job_id, sr.section_id, sr.status, sr.prompt_hash,
	       sr.rewritten_text, sr.model, sr.input_tokens, sr.output_tokens,
	       sr.duration_ms, sr.attempt, sr.created_at, sr.updated_at
	FROM section_rewrites sr`

const rewriteReturning = `
	RETURNING id, job_id, section_id, status, prompt_hash, rewritten_text,
	          model, input_tokens, output_tokens, duration_ms, attempt,
	          created_at, updated_at`

func (s *PostgresStore) CreateJob(ctx context.Context, job RewriteJob, entry audit.Entry) (*RewriteJob, error) {
	const q = `
		INSERT INTO rewrite_jobs(
			id, document_id, ruleset_id, ruleset_version, status, total_sections)
		VALUES ($1, $2, $3, $4, $5, $6)` + jobReturning

	var created RewriteJob
	_, err := s.ledger.AppendWithin(ctx, entry, func(tx *sql.Tx) error {
		var err error
		created, err = repository.QueryOne(
			ctx, tx, q,
			[]any{job.ID, job.DocumentID, job.RulesetID, job.RulesetVersion, JobPending, job.TotalSections},
			scanJob,
		)
		return err
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &created, nil
}

func (s *PostgresStore) Job(ctx context.Context, id uuid.UUID) (*RewriteJob, error) {
	q := jobSelect + " WHERE j.id = $1"

	job, err := repository.QueryOne(ctx, s.db, q, []any{id}, scanJob)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &job, nil
}

func (s *PostgresStore) Jobs(ctx context.Context) ([]RewriteJob, error) {
	q := jobSelect + " ORDER BY j.created_at DESC"

	jobs, err := repository.QueryMany(ctx, s.db, q, nil, scanJob)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	return jobs, nil
}

func (s *PostgresStore) TransitionJob(
	ctx context.Context,
	id uuid.UUID,
	from []JobStatus,
	upd JobUpdate,
	entry audit.Entry,
) (*RewriteJob, error) {
	args := []any{id, upd.Status, upd.ErrorDetail, upd.StartedAt, upd.FinishedAt}
	placeholders := make([]string, len(from))
	for i, status := range from {
		args = append(args, status)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}

	q := fmt.Sprintf(`
		UPDATE rewrite_jobs
		SET status = $2,
		    error_detail = COALESCE($3, error_detail),
		    started_at = COALESCE($4, started_at),
		    finished_at = COALESCE($5, finished_at),
		    updated_at = now()
		WHERE id = $1 AND status IN (%s)`,
		strings.Join(placeholders, ", ")) + jobReturning

	var job RewriteJob
	_, err := s.ledger.AppendWithin(ctx, entry, func(tx *sql.Tx) error {
		var err error
		job, err = repository.QueryOne(ctx, tx, q, args, scanJob)
		if errors.Is(err, sql.ErrNoRows) {
			return s.transitionConflict(ctx, tx, id, upd.Status)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *PostgresStore) transitionConflict(ctx context.Context, tx *sql.Tx, id uuid.UUID, target JobStatus) error {
	var current JobStatus
	err := tx.QueryRowContext(ctx, "SELECT status FROM rewrite_jobs WHERE id = $1", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read job status: %w", err)
	}
	return &TransitionError{Current: current, Target: target}
}

func (s *PostgresStore) IncrementCompleted(ctx context.Context, jobID uuid.UUID) (int, error) {
	const q = `
		UPDATE rewrite_jobs
		SET completed_sections = completed_sections + 1, updated_at = now()
		WHERE id = $1
		RETURNING completed_sections`

	var count int
	err := s.db.QueryRowContext(ctx, q, jobID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment completed sections: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CreateRewrite(ctx context.Context, sr SectionRewrite, entry audit.Entry) (*SectionRewrite, error) {
	const q = `
		INSERT INTO section_rewrites(id, job_id, section_id, status, prompt_hash, attempt)
		VALUES ($1, $2, $3, $4, $5, $6)` + rewriteReturning

	var created SectionRewrite
	_, err := s.ledger.AppendWithin(ctx, entry, func(tx *sql.Tx) error {
		var err error
		created, err = repository.QueryOne(
			ctx, tx, q,
			[]any{sr.ID, sr.JobID, sr.SectionID, RewritePending, sr.PromptHash, sr.Attempt},
			scanRewrite,
		)
		return err
	})
	if err != nil {
		return nil, repository.MapError(err, ErrRewriteNotFound, ErrDuplicate)
	}
	return &created, nil
}

func (s *PostgresStore) Rewrite(ctx context.Context, id uuid.UUID) (*SectionRewrite, error) {
	q := rewriteSelect + " WHERE sr.id = $1"

	sr, err := repository.QueryOne(ctx, s.db, q, []any{id}, scanRewrite)
	if err != nil {
		return nil, repository.MapError(err, ErrRewriteNotFound, ErrDuplicate)
	}

	if err := s.loadFindings(ctx, map[uuid.UUID]*SectionRewrite{sr.ID: &sr}); err != nil {
		return nil, err
	}
	return &sr, nil
}

func (s *PostgresStore) RewritesForJob(ctx context.Context, jobID uuid.UUID) ([]SectionRewrite, error) {
	q := rewriteSelect + " WHERE sr.job_id = $1 ORDER BY sr.created_at ASC, sr.attempt ASC"

	rewrites, err := repository.QueryMany(ctx, s.db, q, []any{jobID}, scanRewrite)
	if err != nil {
		return nil, fmt.Errorf("query section rewrites: %w", err)
	}

	byID := make(map[uuid.UUID]*SectionRewrite, len(rewrites))
	for i := range rewrites {
		byID[rewrites[i].ID] = &rewrites[i]
	}
	if err := s.loadFindings(ctx, byID); err != nil {
		return nil, err
	}
	return rewrites, nil
}

func (s *PostgresStore) LatestRewrite(ctx context.Context, jobID, sectionID uuid.UUID) (*SectionRewrite, error) {
	q := rewriteSelect + `
		WHERE sr.job_id = $1 AND sr.section_id = $2
		ORDER BY sr.attempt DESC
		LIMIT 1`

	sr, err := repository.QueryOne(ctx, s.db, q, []any{jobID, sectionID}, scanRewrite)
	if err != nil {
		return nil, repository.MapError(err, ErrRewriteNotFound, ErrDuplicate)
	}

	if err := s.loadFindings(ctx, map[uuid.UUID]*SectionRewrite{sr.ID: &sr}); err != nil {
		return nil, err
	}
	return &sr, nil
}

func (s *PostgresStore) UpdateRewrite(ctx context.Context, id uuid.UUID, upd RewriteUpdate, entry audit.Entry) (*SectionRewrite, error) {
	const q = `
		UPDATE section_rewrites
		SET status = COALESCE($2, status),
		    prompt_hash = COALESCE($3, prompt_hash),
		    rewritten_text = COALESCE($4, rewritten_text),
		    model = COALESCE($5, model),
		    input_tokens = COALESCE($6, input_tokens),
		    output_tokens = COALESCE($7, output_tokens),
		    duration_ms = COALESCE($8, duration_ms),
		    attempt = COALESCE($9, attempt),
		    updated_at = now()
		WHERE id = $1` + rewriteReturning

	var sr SectionRewrite
	_, err := s.ledger.AppendWithin(ctx, entry, func(tx *sql.Tx) error {
		var err error
		sr, err = repository.QueryOne(
			ctx, tx, q,
			[]any{
				id, upd.Status, upd.PromptHash, upd.RewrittenText, upd.Model,
				upd.InputTokens, upd.OutputTokens, upd.DurationMS, upd.Attempt,
			},
			scanRewrite,
		)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRewriteNotFound
		}
		if err != nil {
			return err
		}

		if upd.Findings != nil {
			if err := replaceFindings(ctx, tx, id, upd.Findings); err != nil {
				return err
			}
			sr.Findings = upd.Findings
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if upd.Findings == nil {
		if err := s.loadFindings(ctx, map[uuid.UUID]*SectionRewrite{sr.ID: &sr}); err != nil {
			return nil, err
		}
	}
	return &sr, nil
}

// replaceFindings swaps an attempt's finding set. Findings are immutable
// individually; the set is only ever written once, when the attempt
// completes.
func replaceFindings(ctx context.Context, tx *sql.Tx, rewriteID uuid.UUID, findings []risk.Finding) error {
	if _, err := tx.ExecContext(
		ctx, "DELETE FROM risk_findings WHERE rewrite_id = $1", rewriteID,
	); err != nil {
		return fmt.Errorf("clear risk findings: %w", err)
	}

	const q = `
		INSERT INTO risk_findings(id, rewrite_id, severity, category, description, score, detail_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for _, f := range findings {
		var detail *string
		if len(f.Detail) > 0 {
			d := string(f.Detail)
			detail = &d
		}
		if _, err := tx.ExecContext(
			ctx, q,
			uuid.New(), rewriteID, f.Severity, f.Category, f.Description, f.Score, detail,
		); err != nil {
			return fmt.Errorf("insert risk finding: %w", err)
		}
	}
	return nil
}

// loadFindings attaches risk findings to the given rewrites.
func (s *PostgresStore) loadFindings(ctx context.Context, byID map[uuid.UUID]*SectionRewrite) error {
	if len(byID) == 0 {
		return nil
	}

	ids := make([]string, 0, len(byID))
	args := make([]any, 0, len(byID))
	for id := range byID {
		args = append(args, id)
		ids = append(ids, fmt.Sprintf("$%d", len(args)))
	}

	q := fmt.Sprintf(`
		SELECT f.rewrite_id, f.severity, f.category, f.description, f.score, f.detail_json
		FROM risk_findings f
		WHERE f.rewrite_id IN (%s)
		ORDER BY f.created_at ASC`, strings.Join(ids, ", "))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("query risk findings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rewriteID uuid.UUID
			f         risk.Finding
			detail    *string
		)
		if err := rows.Scan(&rewriteID, &f.Severity, &f.Category, &f.Description, &f.Score, &detail); err != nil {
			return fmt.Errorf("scan risk finding: %w", err)
		}
		if detail != nil {
			f.Detail = []byte(*detail)
		}
		if sr, ok := byID[rewriteID]; ok {
			sr.Findings = append(sr.Findings, f)
		}
	}
	return rows.Err()
}

func scanJob(s repository.Scanner) (RewriteJob, error) {
	var j RewriteJob
	err := s.Scan(
		&j.ID,
		&j.DocumentID,
		&j.RulesetID,
		&j.RulesetVersion,
		&j.Status,
		&j.TotalSections,
		&j.CompletedSections,
		&j.ErrorDetail,
		&j.StartedAt,
		&j.FinishedAt,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	return j, err
}

func scanRewrite(s repository.Scanner) (SectionRewrite, error) {
	var sr SectionRewrite
	err := s.Scan(
		&sr.ID,
		&sr.JobID,
		&sr.SectionID,
		&sr.Status,
		&sr.PromptHash,
		&sr.RewrittenText,
		&sr.Model,
		&sr.InputTokens,
		&sr.OutputTokens,
		&sr.DurationMS,
		&sr.Attempt,
		&sr.CreatedAt,
		&sr.UpdatedAt,
	)
	return sr, err
}
