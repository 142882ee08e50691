package app

import (
	"context"
	"log/slog"

	"github.com/Kundhave/Sakhi/internal/domain"
	"github.com/google/uuid"
)

// ScoreRecomputer recomputes and stores a member's credit score.
type ScoreRecomputer interface {
	Recompute(ctx context.Context, memberID uuid.UUID) (domain.CreditScore, error)
}

// EligibilityReevaluator re-evaluates a member's scheme eligibility.
type EligibilityReevaluator interface {
	Reevaluate(ctx context.Context, memberID uuid.UUID) error
}

// ProfileRefresher runs the scoring then eligibility cascade after a member's records change.
type ProfileRefresher struct {
	scores      ScoreRecomputer
	eligibility EligibilityReevaluator
	logger      *slog.Logger
}

func NewProfileRefresher(scores ScoreRecomputer, eligibility EligibilityReevaluator, logger *slog.Logger) *ProfileRefresher {
	return &ProfileRefresher{scores: scores, eligibility: eligibility, logger: logger}
}

// Refresh recomputes the score, then re-evaluates eligibility. Failures are logged and
// swallowed: the record that triggered the refresh is already stored and stays stored.
// Eligibility still runs when scoring fails, against the last stored score.
func (r *ProfileRefresher) Refresh(ctx context.Context, memberID uuid.UUID) {
	if _, err := r.scores.Recompute(ctx, memberID); err != nil {
		r.logger.Error("score recompute failed", "member_id", memberID, "error", err)
	}
	if err := r.eligibility.Reevaluate(ctx, memberID); err != nil {
		r.logger.Error("eligibility reevaluate failed", "member_id", memberID, "error", err)
	}
}

// RefreshScore is Refresh for callers that need the new score. A scoring failure is
// returned; an eligibility failure is only logged.
func (r *ProfileRefresher) RefreshScore(ctx context.Context, memberID uuid.UUID) (domain.CreditScore, error) {
	score, err := r.scores.Recompute(ctx, memberID)
	if err != nil {
		return domain.CreditScore{}, err
	}
	if err := r.eligibility.Reevaluate(ctx, memberID); err != nil {
		r.logger.Error("eligibility reevaluate failed", "member_id", memberID, "error", err)
	}
	return score, nil
}

// Reevaluate runs only the eligibility engine.
func (r *ProfileRefresher) Reevaluate(ctx context.Context, memberID uuid.UUID) error {
	return r.eligibility.Reevaluate(ctx, memberID)
}
