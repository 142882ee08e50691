/**
 * @description
 * Scheduled job implementations. The nightly refresh re-runs scoring and eligibility for
 * every member, since time-based factors (contribution frequency, group age for NABARD
 * linkage) change without any new record being written.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// MemberLister lists every registered member.
type MemberLister interface {
	ListMemberIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Refresher runs the scoring then eligibility cascade for one member.
type Refresher interface {
	Refresh(ctx context.Context, memberID uuid.UUID)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	members     MemberLister
	refresher   Refresher
	concurrency int
	logger      *slog.Logger
}

// NewJobs creates a new Jobs runner. concurrency bounds how many members refresh at once.
func NewJobs(members MemberLister, refresher Refresher, concurrency int, logger *slog.Logger) *Jobs {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Jobs{
		members:     members,
		refresher:   refresher,
		concurrency: concurrency,
		logger:      logger,
	}
}

// RefreshAllProfiles is the cron entry point for the nightly refresh.
func (j *Jobs) RefreshAllProfiles() {
	j.logger.Info("starting member profile refresh job")
	start := time.Now()

	count, err := j.RefreshAll(context.Background())
	if err != nil {
		j.logger.Error("member profile refresh job failed", "error", err)
		return
	}

	j.logger.Info("member profile refresh job finished", "members", count, "duration", time.Since(start))
}

// RefreshAll refreshes every member and returns how many were processed. Per-member failures
// are logged by the refresher and do not stop the run; a cancelled ctx stops handing out work.
func (j *Jobs) RefreshAll(ctx context.Context) (int, error) {
	ids, err := j.members.ListMemberIDs(ctx)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		j.logger.Info("no members to refresh")
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)

	processed := 0
	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		id := id
		g.Go(func() error {
			j.refresher.Refresh(gctx, id)
			return nil
		})
		processed++
	}
	if err := g.Wait(); err != nil {
		return processed, err
	}
	return processed, ctx.Err()
}
