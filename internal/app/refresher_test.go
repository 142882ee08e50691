package app

import (
	"context"
	"errors"
	"testing"

	"github.com/Kundhave/Sakhi/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callLog struct {
	calls []string
}

type stubScores struct {
	log   *callLog
	score domain.CreditScore
	err   error
}

func (s *stubScores) Recompute(ctx context.Context, memberID uuid.UUID) (domain.CreditScore, error) {
	s.log.calls = append(s.log.calls, "score")
	return s.score, s.err
}

type stubEligibility struct {
	log *callLog
	err error
}

func (s *stubEligibility) Reevaluate(ctx context.Context, memberID uuid.UUID) error {
	s.log.calls = append(s.log.calls, "eligibility")
	return s.err
}

func TestRefreshRunsScoringBeforeEligibility(t *testing.T) {
	log := &callLog{}
	r := NewProfileRefresher(&stubScores{log: log}, &stubEligibility{log: log}, testLogger())

	r.Refresh(context.Background(), uuid.New())
	assert.Equal(t, []string{"score", "eligibility"}, log.calls)
}

func TestRefreshSwallowsFailures(t *testing.T) {
	log := &callLog{}
	r := NewProfileRefresher(
		&stubScores{log: log, err: errors.New("db down")},
		&stubEligibility{log: log, err: errors.New("db still down")},
		testLogger(),
	)

	r.Refresh(context.Background(), uuid.New())
	assert.Equal(t, []string{"score", "eligibility"}, log.calls)
}

func TestRefreshScore(t *testing.T) {
	want := domain.CreditScore{Score: 81.5, Band: domain.BandExcellent, Confidence: domain.ConfidenceHigh}

	t.Run("eligibility failure keeps the score", func(t *testing.T) {
		log := &callLog{}
		r := NewProfileRefresher(&stubScores{log: log, score: want}, &stubEligibility{log: log, err: errors.New("boom")}, testLogger())
		got, err := r.RefreshScore(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("scoring failure stops the cascade", func(t *testing.T) {
		log := &callLog{}
		r := NewProfileRefresher(&stubScores{log: log, err: errors.New("boom")}, &stubEligibility{log: log}, testLogger())
		_, err := r.RefreshScore(context.Background(), uuid.New())
		assert.Error(t, err)
		assert.Equal(t, []string{"score"}, log.calls)
	})
}
