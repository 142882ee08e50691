package app

import (
	"context"
	"strings"

	"github.com/Kundhave/Sakhi/internal/domain"
	"github.com/google/uuid"
)

// GroupLoan is a loan request as the leader's approval queue shows it.
type GroupLoan struct {
	domain.LoanRequest
	MemberName  string           `json:"member_name"`
	CreditScore float64          `json:"credit_score"`
	ScoreBand   domain.ScoreBand `json:"score_band"`
}

// ListGroups returns every registered group.
func (s *Service) ListGroups(ctx context.Context) ([]domain.Group, error) {
	groups, err := s.repo.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = []domain.Group{}
	}
	return groups, nil
}

// GetGroup returns a group by ID.
func (s *Service) GetGroup(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	return s.repo.FindGroupByID(ctx, groupID)
}

// ListGroupMembers returns a group's members, highest score first.
func (s *Service) ListGroupMembers(ctx context.Context, groupID uuid.UUID) ([]domain.Member, error) {
	if _, err := s.repo.FindGroupByID(ctx, groupID); err != nil {
		return nil, err
	}
	members, err := s.repo.FindMembersByGroupID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []domain.Member{}
	}
	return members, nil
}

// ListGroupLoans returns a group's loan requests, newest first, with the requesting member's
// name and current score. status filters by loan status when not empty.
func (s *Service) ListGroupLoans(ctx context.Context, groupID uuid.UUID, status string) ([]GroupLoan, error) {
	filter := domain.LoanStatus(strings.ToUpper(strings.TrimSpace(status)))
	if filter != "" && !filter.Valid() {
		return nil, invalid("unknown loan status %q", status)
	}
	if _, err := s.repo.FindGroupByID(ctx, groupID); err != nil {
		return nil, err
	}
	loans, err := s.repo.FindLoanRequestsByGroupID(ctx, groupID, filter)
	if err != nil {
		return nil, err
	}
	members, err := s.repo.FindMembersByGroupID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]domain.Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}

	out := make([]GroupLoan, 0, len(loans))
	for _, l := range loans {
		m := byID[l.MemberID]
		out = append(out, GroupLoan{LoanRequest: l, MemberName: m.FullName, CreditScore: m.CreditScore, ScoreBand: m.ScoreBand})
	}
	return out, nil
}

// ListGroupTransactions returns a group's most recent transactions.
func (s *Service) ListGroupTransactions(ctx context.Context, groupID uuid.UUID, limit int) ([]domain.Transaction, error) {
	if _, err := s.repo.FindGroupByID(ctx, groupID); err != nil {
		return nil, err
	}
	txs, err := s.repo.FindRecentTransactionsByGroupID(ctx, groupID, limit)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	return txs, nil
}

// ListMemberTransactions returns a member's most recent transactions.
func (s *Service) ListMemberTransactions(ctx context.Context, memberID uuid.UUID, limit int) ([]domain.Transaction, error) {
	if _, err := s.repo.FindMemberByID(ctx, memberID); err != nil {
		return nil, err
	}
	txs, err := s.repo.FindRecentTransactionsByMemberID(ctx, memberID, limit)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	return txs, nil
}

// ListMemberLoans returns every loan request of a member, oldest first.
func (s *Service) ListMemberLoans(ctx context.Context, memberID uuid.UUID) ([]domain.LoanRequest, error) {
	if _, err := s.repo.FindMemberByID(ctx, memberID); err != nil {
		return nil, err
	}
	loans, err := s.repo.FindLoanRequestsByMemberID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if loans == nil {
		loans = []domain.LoanRequest{}
	}
	return loans, nil
}
