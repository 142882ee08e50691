// Package storetest provides an in-memory store.Repository for tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Kundhave/Sakhi/internal/domain"
	"github.com/Kundhave/Sakhi/internal/store"
	"github.com/google/uuid"
)

// Memory is a goroutine-safe in-memory Repository. Errors registered in Fail are
// returned by the method of the same name.
type Memory struct {
	mu sync.Mutex

	Groups       map[uuid.UUID]domain.Group
	Members      map[uuid.UUID]domain.Member
	Transactions []domain.Transaction
	Attendance   []domain.MeetingAttendance
	Loans        []domain.LoanRequest
	Schemes      []domain.SchemeEligibility

	Fail map[string]error

	// Now stamps created rows. Defaults to time.Now.
	Now func() time.Time
}

var _ store.Repository = (*Memory)(nil)

// NewMemory returns an empty repository.
func NewMemory() *Memory {
	return &Memory{
		Groups:  make(map[uuid.UUID]domain.Group),
		Members: make(map[uuid.UUID]domain.Member),
		Fail:    make(map[string]error),
		Now:     time.Now,
	}
}

func (m *Memory) fail(method string) error {
	return m.Fail[method]
}

// AddGroup stores a group and returns it with an ID.
func (m *Memory) AddGroup(g domain.Group) domain.Group {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Groups[g.ID] = g
	return g
}

// AddMember stores a member and returns it with an ID.
func (m *Memory) AddMember(mem domain.Member) domain.Member {
	if mem.ID == uuid.Nil {
		mem.ID = uuid.New()
	}
	if mem.Conversation == nil {
		mem.Conversation = domain.Idle{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Members[mem.ID] = mem
	return mem
}

// Member returns a copy of the stored member.
func (m *Memory) Member(id uuid.UUID) domain.Member {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Members[id]
}

// TransactionsOf returns the stored transactions of a member in insertion order.
func (m *Memory) TransactionsOf(memberID uuid.UUID) []domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range m.Transactions {
		if tx.MemberID == memberID {
			out = append(out, tx)
		}
	}
	return out
}

func (m *Memory) CreateGroup(ctx context.Context, group *domain.Group) error {
	if err := m.fail("CreateGroup"); err != nil {
		return err
	}
	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	group.CreatedAt = m.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Groups[group.ID] = *group
	return nil
}

func (m *Memory) FindGroupByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	if err := m.fail("FindGroupByID"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.Groups[groupID]
	if !ok {
		return nil, store.ErrGroupNotFound
	}
	return &g, nil
}

func (m *Memory) ListGroups(ctx context.Context) ([]domain.Group, error) {
	if err := m.fail("ListGroups"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Group, 0, len(m.Groups))
	for _, g := range m.Groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *Memory) CreateMember(ctx context.Context, member *domain.Member) error {
	if err := m.fail("CreateMember"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Members {
		if existing.ChannelID == member.ChannelID {
			return store.ErrDuplicateChannelID
		}
	}
	if member.ID == uuid.Nil {
		member.ID = uuid.New()
	}
	if member.Conversation == nil {
		member.Conversation = domain.Idle{}
	}
	member.CreatedAt = m.Now()
	member.UpdatedAt = member.CreatedAt
	m.Members[member.ID] = *member
	return nil
}

func (m *Memory) FindMemberByID(ctx context.Context, memberID uuid.UUID) (*domain.Member, error) {
	if err := m.fail("FindMemberByID"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.Members[memberID]
	if !ok {
		return nil, store.ErrMemberNotFound
	}
	return &mem, nil
}

func (m *Memory) FindMemberByChannelID(ctx context.Context, channelID string) (*domain.Member, error) {
	if err := m.fail("FindMemberByChannelID"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mem := range m.Members {
		if mem.ChannelID == channelID {
			return &mem, nil
		}
	}
	return nil, store.ErrMemberNotFound
}

func (m *Memory) ListMemberIDs(ctx context.Context) ([]uuid.UUID, error) {
	if err := m.fail("ListMemberIDs"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(m.Members))
	for id := range m.Members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (m *Memory) FindMembersByGroupID(ctx context.Context, groupID uuid.UUID) ([]domain.Member, error) {
	if err := m.fail("FindMembersByGroupID"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Member
	for _, mem := range m.Members {
		if mem.GroupID == groupID {
			out = append(out, mem)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreditScore != out[j].CreditScore {
			return out[i].CreditScore > out[j].CreditScore
		}
		return out[i].FullName < out[j].FullName
	})
	return out, nil
}

func (m *Memory) FindPeerScores(ctx context.Context, groupID uuid.UUID, excludeMemberID uuid.UUID) ([]float64, error) {
	if err := m.fail("FindPeerScores"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var scores []float64
	for _, mem := range m.Members {
		if mem.GroupID == groupID && mem.ID != excludeMemberID {
			scores = append(scores, mem.CreditScore)
		}
	}
	return scores, nil
}

func (m *Memory) updateMember(id uuid.UUID, fn func(*domain.Member)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.Members[id]
	if !ok {
		return store.ErrMemberNotFound
	}
	fn(&mem)
	mem.UpdatedAt = m.Now()
	m.Members[id] = mem
	return nil
}

func (m *Memory) UpdateMemberScore(ctx context.Context, memberID uuid.UUID, score domain.CreditScore) error {
	if err := m.fail("UpdateMemberScore"); err != nil {
		return err
	}
	return m.updateMember(memberID, func(mem *domain.Member) {
		mem.CreditScore, mem.ScoreBand, mem.ScoreConfidence = score.Score, score.Band, score.Confidence
	})
}

func (m *Memory) SaveConversation(ctx context.Context, memberID uuid.UUID, conversation domain.Conversation) error {
	if err := m.fail("SaveConversation"); err != nil {
		return err
	}
	// Round-trip through the persisted form so tests see exactly what Postgres would hold.
	state, payload, err := domain.EncodeConversation(conversation)
	if err != nil {
		return err
	}
	decoded := domain.LoadConversation(string(state), payload)
	return m.updateMember(memberID, func(mem *domain.Member) { mem.Conversation = decoded })
}

func (m *Memory) SwapConversation(ctx context.Context, memberID uuid.UUID, from domain.ConversationState, next domain.Conversation) (bool, error) {
	if err := m.fail("SwapConversation"); err != nil {
		return false, err
	}
	state, payload, err := domain.EncodeConversation(next)
	if err != nil {
		return false, err
	}
	decoded := domain.LoadConversation(string(state), payload)
	swapped := false
	err = m.updateMember(memberID, func(mem *domain.Member) {
		if mem.Conversation != nil && mem.Conversation.State() == from {
			mem.Conversation = decoded
			swapped = true
		}
	})
	if errors.Is(err, store.ErrMemberNotFound) {
		return false, nil
	}
	return swapped, err
}

func (m *Memory) UpdateMemberProfile(ctx context.Context, memberID uuid.UUID, update domain.UpdateMemberProfileRequest) (*domain.Member, error) {
	if err := m.fail("UpdateMemberProfile"); err != nil {
		return nil, err
	}
	if err := m.updateMember(memberID, update.Apply); err != nil {
		return nil, err
	}
	mem := m.Member(memberID)
	return &mem, nil
}

// UpdateMember applies fn to a stored member. It is a test helper, not part of the Repository.
func (m *Memory) UpdateMember(id uuid.UUID, fn func(*domain.Member)) {
	_ = m.updateMember(id, fn)
}

func (m *Memory) RecordTransactions(ctx context.Context, memberID uuid.UUID, txs []*domain.Transaction) error {
	if err := m.fail("RecordTransactions"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.Members[memberID]
	if !ok {
		return store.ErrMemberNotFound
	}
	for _, tx := range txs {
		m.insertTransaction(tx)
	}
	domain.BalanceEffectOf(txs).Apply(&mem)
	mem.UpdatedAt = m.Now()
	m.Members[memberID] = mem
	return nil
}

// insertTransaction requires m.mu.
func (m *Memory) insertTransaction(tx *domain.Transaction) {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	tx.CreatedAt = m.Now()
	m.Transactions = append(m.Transactions, *tx)
}

func (m *Memory) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	if err := m.fail("FindTransactionByID"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.Transactions {
		if tx.ID == transactionID {
			return &tx, nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (m *Memory) FindTransactionsByMemberID(ctx context.Context, memberID uuid.UUID) ([]domain.Transaction, error) {
	if err := m.fail("FindTransactionsByMemberID"); err != nil {
		return nil, err
	}
	out := m.TransactionsOf(memberID)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ActualDate.Before(out[j].ActualDate) })
	return out, nil
}

func (m *Memory) FindRecentTransactionsByMemberID(ctx context.Context, memberID uuid.UUID, limit int) ([]domain.Transaction, error) {
	if err := m.fail("FindRecentTransactionsByMemberID"); err != nil {
		return nil, err
	}
	return m.recentTransactions(func(tx domain.Transaction) bool { return tx.MemberID == memberID }, limit), nil
}

func (m *Memory) FindRecentTransactionsByGroupID(ctx context.Context, groupID uuid.UUID, limit int) ([]domain.Transaction, error) {
	if err := m.fail("FindRecentTransactionsByGroupID"); err != nil {
		return nil, err
	}
	return m.recentTransactions(func(tx domain.Transaction) bool { return tx.GroupID == groupID }, limit), nil
}

func (m *Memory) recentTransactions(match func(domain.Transaction) bool, limit int) []domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for i := len(m.Transactions) - 1; i >= 0; i-- {
		if match(m.Transactions[i]) {
			out = append(out, m.Transactions[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ActualDate.After(out[j].ActualDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Memory) FindEarliestGroupTransaction(ctx context.Context, groupID uuid.UUID) (*domain.Transaction, error) {
	if err := m.fail("FindEarliestGroupTransaction"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var earliest *domain.Transaction
	for i := range m.Transactions {
		tx := m.Transactions[i]
		if tx.GroupID == groupID && (earliest == nil || tx.CreatedAt.Before(earliest.CreatedAt)) {
			earliest = &tx
		}
	}
	if earliest == nil {
		return nil, store.ErrTransactionNotFound
	}
	return earliest, nil
}

func (m *Memory) SumTransactionsByType(ctx context.Context, memberID uuid.UUID, txType domain.TransactionType) (float64, error) {
	if err := m.fail("SumTransactionsByType"); err != nil {
		return 0, err
	}
	total := 0.0
	for _, tx := range m.TransactionsOf(memberID) {
		if tx.Type == txType {
			total += tx.Amount
		}
	}
	return total, nil
}

func (m *Memory) updateTransaction(id uuid.UUID, fn func(*domain.Transaction)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Transactions {
		if m.Transactions[i].ID == id {
			fn(&m.Transactions[i])
			return nil
		}
	}
	return store.ErrTransactionNotFound
}

func (m *Memory) MarkTransactionVerified(ctx context.Context, transactionID uuid.UUID) error {
	if err := m.fail("MarkTransactionVerified"); err != nil {
		return err
	}
	return m.updateTransaction(transactionID, func(tx *domain.Transaction) { tx.VerifiedByMember = true })
}

func (m *Memory) FlagTransaction(ctx context.Context, transactionID uuid.UUID, note string) error {
	if err := m.fail("FlagTransaction"); err != nil {
		return err
	}
	return m.updateTransaction(transactionID, func(tx *domain.Transaction) { tx.Note = note })
}

func (m *Memory) FindAttendanceByMemberID(ctx context.Context, memberID uuid.UUID) ([]domain.MeetingAttendance, error) {
	if err := m.fail("FindAttendanceByMemberID"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MeetingAttendance
	for _, a := range m.Attendance {
		if a.MemberID == memberID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *Memory) CreateLoanRequest(ctx context.Context, loan *domain.LoanRequest) error {
	if err := m.fail("CreateLoanRequest"); err != nil {
		return err
	}
	if loan.ID == uuid.Nil {
		loan.ID = uuid.New()
	}
	loan.Status = domain.LoanPending
	loan.RequestedAt = m.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Loans = append(m.Loans, *loan)
	return nil
}

func (m *Memory) FindLoanRequestByID(ctx context.Context, loanID uuid.UUID) (*domain.LoanRequest, error) {
	if err := m.fail("FindLoanRequestByID"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.Loans {
		if l.ID == loanID {
			return &l, nil
		}
	}
	return nil, store.ErrLoanRequestNotFound
}

func (m *Memory) FindLoanRequestsByMemberID(ctx context.Context, memberID uuid.UUID) ([]domain.LoanRequest, error) {
	if err := m.fail("FindLoanRequestsByMemberID"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LoanRequest
	for _, l := range m.Loans {
		if l.MemberID == memberID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *Memory) FindRecentLoanRequests(ctx context.Context, memberID uuid.UUID, statuses []domain.LoanStatus, limit int) ([]domain.LoanRequest, error) {
	if err := m.fail("FindRecentLoanRequests"); err != nil {
		return nil, err
	}
	all, _ := m.FindLoanRequestsByMemberID(ctx, memberID)
	var out []domain.LoanRequest
	for _, l := range all {
		if slices.Contains(statuses, l.Status) {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) FindLoanRequestsByGroupID(ctx context.Context, groupID uuid.UUID, status domain.LoanStatus) ([]domain.LoanRequest, error) {
	if err := m.fail("FindLoanRequestsByGroupID"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LoanRequest
	for i := len(m.Loans) - 1; i >= 0; i-- {
		l := m.Loans[i]
		if l.GroupID == groupID && (status == "" || l.Status == status) {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out, nil
}

func (m *Memory) TransitionLoanRequest(ctx context.Context, loanID uuid.UUID, from, to domain.LoanStatus, at time.Time) (*domain.LoanRequest, error) {
	if err := m.fail("TransitionLoanRequest"); err != nil {
		return nil, err
	}
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", store.ErrLoanTransitionNotAllowed, from, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, err := m.transitionLoan(loanID, from, to, at)
	if err != nil {
		return nil, err
	}
	out := *l
	return &out, nil
}

// ApproveLoanRequest fails before touching anything when "ApproveLoanRequest" is in Fail,
// which is how a rolled-back database transaction looks to callers.
func (m *Memory) ApproveLoanRequest(ctx context.Context, loanID uuid.UUID, at time.Time) (*domain.LoanRequest, *domain.Transaction, error) {
	if err := m.fail("ApproveLoanRequest"); err != nil {
		return nil, nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.Loans {
		if _, ok := m.Members[l.MemberID]; l.ID == loanID && !ok {
			return nil, nil, store.ErrMemberNotFound
		}
	}
	l, err := m.transitionLoan(loanID, domain.LoanPending, domain.LoanApproved, at)
	if err != nil {
		return nil, nil, err
	}
	loan := *l
	mem := m.Members[loan.MemberID]
	disbursement := domain.DisbursementFor(&loan, at)
	m.insertTransaction(disbursement)
	domain.BalanceEffect{Disbursed: loan.Amount}.Apply(&mem)
	mem.UpdatedAt = m.Now()
	m.Members[mem.ID] = mem
	return &loan, disbursement, nil
}

// transitionLoan requires m.mu.
func (m *Memory) transitionLoan(loanID uuid.UUID, from, to domain.LoanStatus, at time.Time) (*domain.LoanRequest, error) {
	for i := range m.Loans {
		l := &m.Loans[i]
		if l.ID != loanID {
			continue
		}
		if l.Status != from {
			return nil, fmt.Errorf("%w: loan is not %s", store.ErrLoanTransitionNotAllowed, from)
		}
		l.Status = to
		if l.ResolvedAt == nil {
			resolved := at
			l.ResolvedAt = &resolved
		}
		return l, nil
	}
	return nil, store.ErrLoanRequestNotFound
}

func (m *Memory) FindSchemeEligibilities(ctx context.Context, memberID uuid.UUID) ([]domain.SchemeEligibility, error) {
	if err := m.fail("FindSchemeEligibilities"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SchemeEligibility
	for _, s := range m.Schemes {
		if s.MemberID == memberID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) CreateSchemeEligibility(ctx context.Context, row *domain.SchemeEligibility) error {
	if err := m.fail("CreateSchemeEligibility"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Schemes {
		if s.MemberID == row.MemberID && s.SchemeName == row.SchemeName {
			return nil
		}
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.Notified = false
	row.CreatedAt = m.Now()
	row.UpdatedAt = row.CreatedAt
	m.Schemes = append(m.Schemes, *row)
	return nil
}

func (m *Memory) updateScheme(id uuid.UUID, fn func(*domain.SchemeEligibility)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Schemes {
		if m.Schemes[i].ID == id {
			fn(&m.Schemes[i])
			m.Schemes[i].UpdatedAt = m.Now()
			return nil
		}
	}
	return store.ErrSchemeEligibilityNotFound
}

func (m *Memory) UpdateSchemeEligibility(ctx context.Context, rowID uuid.UUID, isEligible bool) error {
	if err := m.fail("UpdateSchemeEligibility"); err != nil {
		return err
	}
	return m.updateScheme(rowID, func(s *domain.SchemeEligibility) { s.IsEligible = isEligible })
}

func (m *Memory) MarkSchemeNotified(ctx context.Context, rowID uuid.UUID, at time.Time) (bool, error) {
	if err := m.fail("MarkSchemeNotified"); err != nil {
		return false, err
	}
	claimed := false
	err := m.updateScheme(rowID, func(s *domain.SchemeEligibility) {
		if !s.Notified {
			s.Notified = true
			notifiedAt := at
			s.NotifiedAt = &notifiedAt
			claimed = true
		}
	})
	if errors.Is(err, store.ErrSchemeEligibilityNotFound) {
		return false, nil
	}
	return claimed, err
}
