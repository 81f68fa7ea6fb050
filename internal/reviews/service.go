package reviews

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/reviso/reviso/internal/audit"
	"github.com/reviso/reviso/internal/risk"
)

// Audit event types emitted by the review gate.
const (
	EventReviewCreated = "review.created"
	EventReviewDecided = "review.decided"
	EventCommentAdded  = "review.comment_added"
)

// Observer receives decision notifications for metrics collection.
// All methods must be non-blocking.
type Observer interface {
	ReviewDecided(decision string)
}

// Service implements System over a Store and a RewriteSource. All decision
// validation lives here; the store only enforces the compare-and-set.
type Service struct {
	store    Store
	source   RewriteSource
	notifier RerunNotifier
	observer Observer
	logger   *slog.Logger
}

// NewService creates the review gate.
func NewService(store Store, source RewriteSource, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		source: source,
		logger: logger.With("system", "reviews"),
	}
}

// SetRerunNotifier wires the orchestrator-side rerun hook. Must be called
// before serving traffic; it exists as a setter only to break the
// construction cycle between the review and orchestration systems.
func (s *Service) SetRerunNotifier(n RerunNotifier) {
	s.notifier = n
}

// SetObserver wires metrics collection.
func (s *Service) SetObserver(obs Observer) {
	s.observer = obs
}

func (s *Service) Handler() *Handler {
	return NewHandler(s, s.logger)
}

// GetOrCreate returns the review gating a rewrite, creating it in pending
// status on first access. Only completed rewrites acquire reviews.
func (s *Service) GetOrCreate(ctx context.Context, rewriteID uuid.UUID) (*Review, error) {
	review, err := s.store.FindByRewrite(ctx, rewriteID)
	if err == nil {
		return review, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	state, err := s.source.RewriteState(ctx, rewriteID)
	if err != nil {
		return nil, err
	}
	if !state.Completed {
		return nil, ErrRewriteNotReady
	}

	id := uuid.New()
	review, err = s.store.Create(ctx, id, rewriteID, audit.Entry{
		EventType:     EventReviewCreated,
		EntityType:    "review",
		EntityID:      id.String(),
		CorrelationID: &state.JobID,
		Payload: map[string]any{
			"rewrite_id": rewriteID.String(),
			"section_id": state.SectionID.String(),
		},
	})
	if errors.Is(err, ErrDuplicate) {
		// Lost a create race; the winner's review is the review.
		return s.store.FindByRewrite(ctx, rewriteID)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("review created", "id", review.ID, "rewrite_id", rewriteID)
	return review, nil
}

func (s *Service) Find(ctx context.Context, id uuid.UUID) (*Review, error) {
	return s.store.Find(ctx, id)
}

func (s *Service) ForRewrite(ctx context.Context, rewriteID uuid.UUID) (*Review, error) {
	return s.store.FindByRewrite(ctx, rewriteID)
}

// Decide applies a reviewer decision under optimistic concurrency. The
// conflict check and the status mutation are one atomic unit in the store;
// of two racing callers exactly one succeeds and the other observes a
// ConflictError carrying the winner's status.
func (s *Service) Decide(ctx context.Context, id uuid.UUID, cmd DecideCommand) (*Review, error) {
	if !cmd.Decision.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, cmd.Decision)
	}

	review, err := s.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !review.Status.Decidable() {
		return nil, &ConflictError{Current: review.Status}
	}

	state, err := s.source.RewriteState(ctx, review.RewriteID)
	if err != nil {
		return nil, err
	}

	if err := validateDecision(cmd, state); err != nil {
		return nil, err
	}

	upd := DecisionUpdate{
		Status:         cmd.Decision.Status(),
		OverrideReason: cmd.OverrideReason,
		DecidedBy:      cmd.ActorID,
	}
	if cmd.Decision == DecisionEdit {
		upd.EditedText = cmd.EditedText
	}
	// A rerun keeps any previously edited text as a historical record to
	// compare against the new attempt.
	if cmd.Decision == DecisionRequestRerun {
		upd.EditedText = review.EditedText
	}

	payload := map[string]any{
		"decision":     string(cmd.Decision),
		"rewrite_id":   review.RewriteID.String(),
		"section_id":   state.SectionID.String(),
		"max_severity": string(risk.MaxSeverity(state.Findings)),
	}
	if cmd.OverrideReason != nil {
		payload["override_reason"] = *cmd.OverrideReason
	}

	decided, err := s.store.Decide(ctx, id, upd, audit.Entry{
		EventType:     EventReviewDecided,
		ActorID:       cmd.ActorID,
		EntityType:    "review",
		EntityID:      id.String(),
		CorrelationID: &state.JobID,
		Payload:       payload,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(
		"review decided",
		"id", id,
		"decision", cmd.Decision,
		"status", decided.Status,
	)
	if s.observer != nil {
		s.observer.ReviewDecided(string(cmd.Decision))
	}

	if cmd.Decision == DecisionRequestRerun && s.notifier != nil {
		if err := s.notifier.RerunRequested(ctx, state.JobID, state.SectionID, state.ID); err != nil {
			// The decision stands; the reviewer can issue request_rerun
			// again once the review returns to a decidable status.
			s.logger.Warn("rerun signal failed", "review_id", id, "error", err)
		}
	}

	return decided, nil
}

// AddComment appends to the review's discussion thread. Comments are
// post-hoc discussion, not decisions, so any status accepts them.
func (s *Service) AddComment(ctx context.Context, reviewID uuid.UUID, cmd CommentCommand) (*Comment, error) {
	if strings.TrimSpace(cmd.Body) == "" {
		return nil, ErrEmptyComment
	}

	review, err := s.store.Find(ctx, reviewID)
	if err != nil {
		return nil, err
	}

	return s.store.AddComment(ctx, review.ID, cmd, audit.Entry{
		EventType:  EventCommentAdded,
		ActorID:    cmd.AuthorID,
		EntityType: "review",
		EntityID:   review.ID.String(),
		Payload: map[string]any{
			"rewrite_id": review.RewriteID.String(),
		},
	})
}

func (s *Service) Comments(ctx context.Context, reviewID uuid.UUID) ([]Comment, error) {
	return s.store.Comments(ctx, reviewID)
}

// validateDecision enforces the content rules of a decision. Approval-class
// decisions over blocking findings require a justification; discarding
// decisions never do.
func validateDecision(cmd DecideCommand, state *RewriteState) error {
	if cmd.Decision == DecisionEdit {
		if cmd.EditedText == nil || strings.TrimSpace(*cmd.EditedText) == "" {
			return ErrEditedTextRequired
		}
	}

	if cmd.Decision.approvalClass() && state.Blocking() {
		if cmd.OverrideReason == nil || strings.TrimSpace(*cmd.OverrideReason) == "" {
			return fmt.Errorf(
				"%w: max severity %s",
				ErrOverrideRequired, risk.MaxSeverity(state.Findings),
			)
		}
	}
	return nil
}
