/**
 * @description
 * The scheme eligibility engine re-evaluates a member against the scheme catalog and
 * diffs the result against the stored eligibility rows.
 *
 * @notes
 * - The first evaluation of a scheme creates its row and never notifies.
 * - A notification is sent only when a stored row moves from ineligible to eligible and
 *   has not been notified before. The notified flag is set after the send attempt, so at
 *   most one message goes out per scheme per member.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Kundhave/Sakhi/internal/catalog"
	"github.com/Kundhave/Sakhi/internal/domain"
	"github.com/Kundhave/Sakhi/internal/store"
	"github.com/Kundhave/Sakhi/pkg/messaging"
	"github.com/google/uuid"
)

// EligibilityEngine evaluates government scheme eligibility.
type EligibilityEngine struct {
	repo     store.Repository
	sender   messaging.Sender
	messages *catalog.Catalog
	events   *EventBus
	schemes  []Scheme
	logger   *slog.Logger
	now      func() time.Time
}

// NewEligibilityEngine creates an engine over the default scheme catalog. events may be nil.
func NewEligibilityEngine(repo store.Repository, sender messaging.Sender, messages *catalog.Catalog, events *EventBus, logger *slog.Logger) *EligibilityEngine {
	return &EligibilityEngine{
		repo:     repo,
		sender:   sender,
		messages: messages,
		events:   events,
		schemes:  Schemes,
		logger:   logger,
		now:      time.Now,
	}
}

// Evaluate returns the eligibility of every catalog scheme for the input.
func (e *EligibilityEngine) Evaluate(in EligibilityInput) map[domain.SchemeName]bool {
	out := make(map[domain.SchemeName]bool, len(e.schemes))
	for _, s := range e.schemes {
		out[s.Name] = s.Eligible(in)
	}
	return out
}

// Reevaluate recomputes scheme eligibility for a member and applies the transition rule.
func (e *EligibilityEngine) Reevaluate(ctx context.Context, memberID uuid.UUID) error {
	member, err := e.repo.FindMemberByID(ctx, memberID)
	if err != nil {
		return err
	}
	in, err := e.loadInput(ctx, member)
	if err != nil {
		return err
	}
	rows, err := e.repo.FindSchemeEligibilities(ctx, memberID)
	if err != nil {
		return fmt.Errorf("failed to load scheme eligibility: %w", err)
	}
	existing := make(map[domain.SchemeName]domain.SchemeEligibility, len(rows))
	for _, r := range rows {
		existing[r.SchemeName] = r
	}

	for _, scheme := range e.schemes {
		eligible := scheme.Eligible(in)

		row, ok := existing[scheme.Name]
		if !ok {
			if err := e.repo.CreateSchemeEligibility(ctx, &domain.SchemeEligibility{
				MemberID:   memberID,
				SchemeName: scheme.Name,
				IsEligible: eligible,
			}); err != nil {
				return fmt.Errorf("failed to create %s eligibility: %w", scheme.Name, err)
			}
			continue
		}

		if row.IsEligible != eligible {
			if err := e.repo.UpdateSchemeEligibility(ctx, row.ID, eligible); err != nil {
				return fmt.Errorf("failed to update %s eligibility: %w", scheme.Name, err)
			}
		}

		if !row.IsEligible && eligible && !row.Notified {
			if err := e.notify(ctx, member, scheme, row.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// notify claims the row's notification before sending, so concurrent evaluations of the
// same member send at most one message per scheme.
func (e *EligibilityEngine) notify(ctx context.Context, member *domain.Member, scheme Scheme, rowID uuid.UUID) error {
	now := e.now().UTC()
	claimed, err := e.repo.MarkSchemeNotified(ctx, rowID, now)
	if err != nil {
		return fmt.Errorf("failed to mark %s notified: %w", scheme.Name, err)
	}
	if !claimed {
		e.logger.Debug("scheme notification already claimed", "member_id", member.ID, "scheme", scheme.Name)
		return nil
	}

	text := e.messages.For(member.Language).SchemeNotification(scheme.DisplayName, scheme.Benefit)
	if err := e.sender.Send(ctx, member.ChannelID, text); err != nil {
		e.logger.Error("scheme notification failed", "member_id", member.ID, "scheme", scheme.Name, "error", err)
	}
	e.logger.Info("member newly eligible for scheme", "member_id", member.ID, "scheme", scheme.Name)
	e.events.publish(ctx, domain.EventSchemeEligible, domain.SchemeEligibleEvent{
		MemberID:   member.ID,
		SchemeName: scheme.Name,
		Timestamp:  now,
	})
	return nil
}

func (e *EligibilityEngine) loadInput(ctx context.Context, member *domain.Member) (EligibilityInput, error) {
	in := EligibilityInput{Member: *member}

	loans, err := e.repo.FindLoanRequestsByMemberID(ctx, member.ID)
	if err != nil {
		return in, fmt.Errorf("failed to load loan requests: %w", err)
	}
	in.Loans = loans

	group, err := e.repo.FindGroupByID(ctx, member.GroupID)
	switch {
	case errors.Is(err, store.ErrGroupNotFound):
		return in, nil
	case err != nil:
		return in, fmt.Errorf("failed to load group: %w", err)
	}
	in.Group = group

	first, err := e.repo.FindEarliestGroupTransaction(ctx, member.GroupID)
	switch {
	case errors.Is(err, store.ErrTransactionNotFound):
		in.GroupActiveMonths = 0
	case err != nil:
		return in, fmt.Errorf("failed to load group history: %w", err)
	default:
		in.GroupActiveMonths = activeMonths(first.CreatedAt, e.now())
	}
	return in, nil
}
