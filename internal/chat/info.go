package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/Kundhave/Sakhi/internal/app"
	"github.com/Kundhave/Sakhi/internal/domain"
	"github.com/Kundhave/Sakhi/internal/store"
)

const loanDetailsLimit = 5

var activeLoanStatuses = []domain.LoanStatus{domain.LoanPending, domain.LoanApproved, domain.LoanDisbursed}

func (m *Machine) showScore(ctx context.Context, tr *turn) (result, error) {
	savings, err := m.repo.SumTransactionsByType(ctx, tr.member.ID, domain.TransactionContribution)
	if err != nil {
		return result{}, fmt.Errorf("failed to sum contributions: %w", err)
	}
	return reply(tr.t.ScoreDisplay(tr.member.CreditScore, tr.member.ScoreBand, savings, tr.member.OutstandingLoanAmount)), nil
}

func (m *Machine) showLoans(ctx context.Context, tr *turn) (result, error) {
	loans, err := m.repo.FindRecentLoanRequests(ctx, tr.member.ID, activeLoanStatuses, loanDetailsLimit)
	if err != nil {
		return result{}, fmt.Errorf("failed to load loan requests: %w", err)
	}
	return reply(tr.t.LoanDetails(loans)), nil
}

func (m *Machine) showLeader(ctx context.Context, tr *turn) (result, error) {
	group, err := m.repo.FindGroupByID(ctx, tr.member.GroupID)
	if errors.Is(err, store.ErrGroupNotFound) {
		return reply(tr.t.InvalidInput()), nil
	}
	if err != nil {
		return result{}, fmt.Errorf("failed to load group: %w", err)
	}
	return reply(tr.t.LeaderContact(group.LeaderName, group.LeaderPhone)), nil
}

// showSchemes lists the schemes the member is currently eligible for, in catalog order.
func (m *Machine) showSchemes(ctx context.Context, tr *turn) (result, error) {
	rows, err := m.repo.FindSchemeEligibilities(ctx, tr.member.ID)
	if err != nil {
		return result{}, fmt.Errorf("failed to load scheme eligibility: %w", err)
	}
	eligible := make(map[domain.SchemeName]bool, len(rows))
	for _, r := range rows {
		eligible[r.SchemeName] = r.IsEligible
	}

	var names []string
	for _, s := range app.Schemes {
		if eligible[s.Name] {
			names = append(names, s.DisplayName)
		}
	}
	return reply(tr.t.SchemesList(names)), nil
}
