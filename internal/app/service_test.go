package app

import (
	"context"
	"testing"
	"time"

	"github.com/Kundhave/Sakhi/internal/catalog"
	"github.com/Kundhave/Sakhi/internal/domain"
	"github.com/Kundhave/Sakhi/internal/store"
	"github.com/Kundhave/Sakhi/internal/store/storetest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCascade struct {
	refreshed   []uuid.UUID
	reevaluated []uuid.UUID
}

func (c *stubCascade) Refresh(ctx context.Context, memberID uuid.UUID) {
	c.refreshed = append(c.refreshed, memberID)
}

func (c *stubCascade) RefreshScore(ctx context.Context, memberID uuid.UUID) (domain.CreditScore, error) {
	c.refreshed = append(c.refreshed, memberID)
	return domain.CreditScore{}, nil
}

func (c *stubCascade) Reevaluate(ctx context.Context, memberID uuid.UUID) error {
	c.reevaluated = append(c.reevaluated, memberID)
	return nil
}

type stubPrompter struct {
	prompted []domain.Transaction
}

func (p *stubPrompter) PromptVerification(ctx context.Context, memberID uuid.UUID, tx domain.Transaction) error {
	p.prompted = append(p.prompted, tx)
	return nil
}

type serviceFixture struct {
	repo    *storetest.Memory
	sender  *fakeSender
	cascade *stubCascade
	svc     *Service
	group   domain.Group
	member  domain.Member
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	repo := storetest.NewMemory()
	group := repo.AddGroup(domain.Group{Name: "Mahila Shakti", LeaderName: "Lakshmi", LeaderPhone: "919811111111"})
	member := repo.AddMember(domain.Member{
		GroupID:   group.ID,
		ChannelID: "919000000001",
		FullName:  "Radha",
		Language:  domain.LanguageEnglish,
	})

	f := &serviceFixture{repo: repo, sender: &fakeSender{}, cascade: &stubCascade{}, group: group, member: member}
	f.svc = NewService(repo, f.cascade, f.sender, catalog.MustLoad(), nil, testLogger())
	return f
}

func (f *serviceFixture) pendingLoan(t *testing.T, amount float64) domain.LoanRequest {
	t.Helper()
	loan, err := f.svc.SubmitLoanRequest(context.Background(), &f.member, amount, domain.PurposeBusiness, 10, nil)
	require.NoError(t, err)
	return *loan
}

func TestCreateMemberAppliesDefaultsAndScores(t *testing.T) {
	repo := storetest.NewMemory()
	group := repo.AddGroup(domain.Group{Name: "Mahila Shakti"})
	scores := NewScoreEngine(repo, nil, testLogger())
	eligibility := NewEligibilityEngine(repo, &fakeSender{}, catalog.MustLoad(), nil, testLogger())
	svc := NewService(repo, NewProfileRefresher(scores, eligibility, testLogger()), &fakeSender{}, catalog.MustLoad(), nil, testLogger())

	member, err := svc.CreateMember(context.Background(), domain.CreateMemberRequest{
		GroupID:        group.ID,
		ChannelID:      " 919000000002 ",
		FullName:       "Meena",
		TenureMonths:   24,
		LoansCompleted: 2,
		HasBankAccount: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "919000000002", member.ChannelID)
	assert.Equal(t, domain.LanguageEnglish, member.Language)
	assert.True(t, member.RepaymentOnTime)
	assert.False(t, member.JoinedOn.IsZero())
	assert.Greater(t, member.CreditScore, 0.0)
	assert.Equal(t, domain.BandForScore(member.CreditScore), member.ScoreBand)
	assert.Equal(t, domain.ConfidenceLow, member.ScoreConfidence)
	assert.Equal(t, domain.StateIdle, member.Conversation.State())

	rows, err := repo.FindSchemeEligibilities(context.Background(), member.ID)
	require.NoError(t, err)
	assert.Len(t, rows, len(Schemes))
}

func TestCreateMemberValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  domain.CreateMemberRequest
		want error
	}{
		{name: "missing name", req: domain.CreateMemberRequest{GroupID: f.group.ID, ChannelID: "1"}, want: ErrInvalidRequest},
		{name: "negative tenure", req: domain.CreateMemberRequest{GroupID: f.group.ID, ChannelID: "1", FullName: "A", TenureMonths: -1}, want: ErrInvalidRequest},
		{name: "unknown language", req: domain.CreateMemberRequest{GroupID: f.group.ID, ChannelID: "1", FullName: "A", Language: "KANNADA"}, want: ErrInvalidRequest},
		{name: "unknown group", req: domain.CreateMemberRequest{GroupID: uuid.New(), ChannelID: "1", FullName: "A"}, want: store.ErrGroupNotFound},
		{name: "duplicate channel", req: domain.CreateMemberRequest{GroupID: f.group.ID, ChannelID: f.member.ChannelID, FullName: "A"}, want: store.ErrDuplicateChannelID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateMember(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.cascade.refreshed)
}

func TestRecordTransactionUpdatesBalancesAndRefreshes(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	prompter := &stubPrompter{}
	f.svc.SetVerificationPrompter(prompter)

	tx, err := f.svc.RecordTransaction(ctx, domain.RecordTransactionRequest{
		MemberID:            f.member.ID,
		Type:                domain.TransactionContribution,
		Amount:              300,
		RequestVerification: true,
	})
	require.NoError(t, err)

	assert.False(t, tx.VerifiedByMember)
	assert.Equal(t, f.group.ID, tx.GroupID)
	assert.Equal(t, 300.0, f.repo.Member(f.member.ID).TotalContributed)
	assert.Equal(t, []uuid.UUID{f.member.ID}, f.cascade.refreshed)
	require.Len(t, prompter.prompted, 1)
	assert.Equal(t, tx.ID, prompter.prompted[0].ID)

	_, err = f.svc.RecordTransaction(ctx, domain.RecordTransactionRequest{
		MemberID: f.member.ID,
		Type:     domain.TransactionLoanDisbursement,
		Amount:   2000,
	})
	require.NoError(t, err)
	_, err = f.svc.RecordTransaction(ctx, domain.RecordTransactionRequest{
		MemberID: f.member.ID,
		Type:     domain.TransactionLoanRepayment,
		Amount:   500,
	})
	require.NoError(t, err)

	assert.Equal(t, 1500.0, f.repo.Member(f.member.ID).OutstandingLoanAmount)
	assert.Len(t, prompter.prompted, 1)
}

func TestRecordTransactionRejectsBadInput(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecordTransaction(ctx, domain.RecordTransactionRequest{MemberID: f.member.ID, Type: "GIFT", Amount: 10})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.RecordTransaction(ctx, domain.RecordTransactionRequest{MemberID: f.member.ID, Type: domain.TransactionContribution, Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.RecordTransaction(ctx, domain.RecordTransactionRequest{MemberID: uuid.New(), Type: domain.TransactionContribution, Amount: 10})
	assert.ErrorIs(t, err, store.ErrMemberNotFound)

	assert.Empty(t, f.repo.Transactions)
	assert.Empty(t, f.cascade.refreshed)
}

func TestRecordCheckin(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }
	f.repo.UpdateMember(f.member.ID, func(m *domain.Member) { m.OutstandingLoanAmount = 1000 })

	repayment := 250.0
	require.NoError(t, f.svc.RecordCheckin(ctx, &f.member, 500, &repayment))

	txs := f.repo.TransactionsOf(f.member.ID)
	require.Len(t, txs, 2)
	assert.Equal(t, domain.TransactionContribution, txs[0].Type)
	assert.Equal(t, 500.0, txs[0].Amount)
	assert.Equal(t, domain.TransactionLoanRepayment, txs[1].Type)
	for _, tx := range txs {
		assert.True(t, tx.VerifiedByMember)
		assert.Equal(t, 0, tx.DaysLate)
		assert.Equal(t, now, tx.ActualDate)
	}

	stored := f.repo.Member(f.member.ID)
	assert.Equal(t, 500.0, stored.TotalContributed)
	assert.Equal(t, 750.0, stored.OutstandingLoanAmount)
	assert.Empty(t, f.cascade.refreshed, "the chat flow runs the cascade")
}

func TestApproveLoan(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	loan := f.pendingLoan(t, 5000)

	approved, err := f.svc.ApproveLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanApproved, approved.Status)
	require.NotNil(t, approved.ResolvedAt)

	txs := f.repo.TransactionsOf(f.member.ID)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TransactionLoanDisbursement, txs[0].Type)
	assert.Equal(t, 5000.0, txs[0].Amount)
	assert.Equal(t, 5000.0, f.repo.Member(f.member.ID).OutstandingLoanAmount)

	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, f.member.ChannelID, msgs[0].To)
	assert.Contains(t, msgs[0].Text, "₹5000 has been APPROVED")
	assert.Equal(t, []uuid.UUID{f.member.ID}, f.cascade.refreshed)

	_, err = f.svc.ApproveLoan(ctx, loan.ID)
	assert.ErrorIs(t, err, store.ErrLoanTransitionNotAllowed)
	assert.Len(t, f.repo.TransactionsOf(f.member.ID), 1)
}

func TestApproveLoanFailureLeavesLoanPending(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	loan := f.pendingLoan(t, 5000)
	f.repo.Fail["ApproveLoanRequest"] = assert.AnError

	_, err := f.svc.ApproveLoan(ctx, loan.ID)
	assert.ErrorIs(t, err, assert.AnError)

	stored, err := f.repo.FindLoanRequestByID(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanPending, stored.Status)
	assert.Empty(t, f.repo.TransactionsOf(f.member.ID))
	assert.Zero(t, f.repo.Member(f.member.ID).OutstandingLoanAmount)
	assert.Empty(t, f.sender.messages())
	assert.Empty(t, f.cascade.refreshed)

	delete(f.repo.Fail, "ApproveLoanRequest")
	approved, err := f.svc.ApproveLoan(ctx, loan.ID)
	require.NoError(t, err, "a failed approval can be retried")
	assert.Equal(t, domain.LoanApproved, approved.Status)
	assert.Len(t, f.repo.TransactionsOf(f.member.ID), 1)
	assert.Equal(t, 5000.0, f.repo.Member(f.member.ID).OutstandingLoanAmount)
}

func TestRejectLoan(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	loan := f.pendingLoan(t, 1000)

	rejected, err := f.svc.RejectLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanRejected, rejected.Status)
	assert.Empty(t, f.repo.TransactionsOf(f.member.ID))

	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, catalog.MustLoad().English().LoanRejected(), msgs[0].Text)

	_, err = f.svc.MarkLoanDisbursed(ctx, loan.ID)
	assert.ErrorIs(t, err, store.ErrLoanTransitionNotAllowed)
}

func TestMarkLoanDisbursed(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	loan := f.pendingLoan(t, 1000)

	_, err := f.svc.MarkLoanDisbursed(ctx, loan.ID)
	assert.ErrorIs(t, err, store.ErrLoanTransitionNotAllowed)

	_, err = f.svc.ApproveLoan(ctx, loan.ID)
	require.NoError(t, err)
	disbursed, err := f.svc.MarkLoanDisbursed(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanDisbursed, disbursed.Status)

	_, err = f.svc.MarkLoanDisbursed(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrLoanRequestNotFound)
}

func TestListSchemesFollowsCatalogOrder(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	engine := NewEligibilityEngine(f.repo, f.sender, catalog.MustLoad(), nil, testLogger())
	require.NoError(t, engine.Reevaluate(ctx, f.member.ID))

	got, err := f.svc.ListSchemes(ctx, f.member.ID)
	require.NoError(t, err)
	require.Len(t, got, len(Schemes))
	for i, s := range Schemes {
		assert.Equal(t, s.Name, got[i].SchemeName)
		assert.Equal(t, s.DisplayName, got[i].DisplayName)
	}

	_, err = f.svc.ListSchemes(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrMemberNotFound)
}

func TestReevaluateSchemesDelegates(t *testing.T) {
	f := newServiceFixture(t)
	require.NoError(t, f.svc.ReevaluateSchemes(context.Background(), f.member.ID))
	assert.Equal(t, []uuid.UUID{f.member.ID}, f.cascade.reevaluated)
	assert.Empty(t, f.cascade.refreshed)
}

func TestUpdateMemberProfileAnnouncesNewSchemes(t *testing.T) {
	repo, sender, eligibility, member := newEligibilityFixture(t, domain.Member{
		FullName:     "Radha",
		Language:     domain.LanguageEnglish,
		Conversation: domain.AwaitLoanAmount{},
	})
	ctx := context.Background()
	refresher := NewProfileRefresher(NewScoreEngine(repo, nil, testLogger()), eligibility, testLogger())
	svc := NewService(repo, refresher, sender, catalog.MustLoad(), nil, testLogger())
	require.NoError(t, eligibility.Reevaluate(ctx, member.ID))
	require.Empty(t, sender.messages())
	before := repo.Member(member.ID).CreditScore

	hasAccount := true
	tenure := 18
	updated, err := svc.UpdateMemberProfile(ctx, member.ID, domain.UpdateMemberProfileRequest{
		HasBankAccount: &hasAccount,
		TenureMonths:   &tenure,
	})
	require.NoError(t, err)

	assert.True(t, updated.HasBankAccount)
	assert.Equal(t, 18, updated.TenureMonths)
	assert.Equal(t, "Radha", updated.FullName)
	assert.Equal(t, domain.AwaitLoanAmount{}, updated.Conversation, "the conversation is left alone")
	assert.Greater(t, updated.CreditScore, before)

	assert.True(t, schemeRow(t, repo, member.ID, domain.SchemePMJJBY).Notified)
	assert.True(t, schemeRow(t, repo, member.ID, domain.SchemePMSBY).Notified)
	assert.GreaterOrEqual(t, len(sender.messages()), 2)
}

func TestUpdateMemberProfileValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	blank := "  "
	negative := -1
	kannada := domain.Language("KANNADA")

	tests := []struct {
		name string
		id   uuid.UUID
		req  domain.UpdateMemberProfileRequest
		want error
	}{
		{name: "blank name", id: f.member.ID, req: domain.UpdateMemberProfileRequest{FullName: &blank}, want: ErrInvalidRequest},
		{name: "negative loans", id: f.member.ID, req: domain.UpdateMemberProfileRequest{LoansCompleted: &negative}, want: ErrInvalidRequest},
		{name: "unknown language", id: f.member.ID, req: domain.UpdateMemberProfileRequest{Language: &kannada}, want: ErrInvalidRequest},
		{name: "unknown member", id: uuid.New(), req: domain.UpdateMemberProfileRequest{}, want: store.ErrMemberNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.UpdateMemberProfile(ctx, tt.id, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, "Radha", f.repo.Member(f.member.ID).FullName)
	assert.Empty(t, f.cascade.refreshed)
}
