package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Kundhave/Sakhi/internal/catalog"
	"github.com/Kundhave/Sakhi/internal/domain"
	"github.com/Kundhave/Sakhi/internal/store/storetest"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	To   string
	Text string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *fakeSender) Send(ctx context.Context, to, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{To: to, Text: text})
	return nil
}

func (s *fakeSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

func newEligibilityFixture(t *testing.T, member domain.Member) (*storetest.Memory, *fakeSender, *EligibilityEngine, domain.Member) {
	t.Helper()
	repo := storetest.NewMemory()
	group := repo.AddGroup(domain.Group{Name: "Mahila Shakti", CorpusAmount: 25000})
	member.GroupID = group.ID
	if member.ChannelID == "" {
		member.ChannelID = "919000000001"
	}
	member = repo.AddMember(member)

	sender := &fakeSender{}
	engine := NewEligibilityEngine(repo, sender, catalog.MustLoad(), nil, testLogger())
	return repo, sender, engine, member
}

func schemeRow(t *testing.T, repo *storetest.Memory, memberID uuid.UUID, name domain.SchemeName) domain.SchemeEligibility {
	t.Helper()
	rows, err := repo.FindSchemeEligibilities(context.Background(), memberID)
	require.NoError(t, err)
	for _, r := range rows {
		if r.SchemeName == name {
			return r
		}
	}
	t.Fatalf("no eligibility row for %s", name)
	return domain.SchemeEligibility{}
}

func TestFirstEvaluationCreatesRowsWithoutNotifying(t *testing.T) {
	repo, sender, engine, member := newEligibilityFixture(t, domain.Member{HasBankAccount: false})

	require.NoError(t, engine.Reevaluate(context.Background(), member.ID))

	rows, err := repo.FindSchemeEligibilities(context.Background(), member.ID)
	require.NoError(t, err)
	assert.Len(t, rows, len(Schemes))

	janDhan := schemeRow(t, repo, member.ID, domain.SchemePMJanDhan)
	assert.True(t, janDhan.IsEligible)
	assert.False(t, janDhan.Notified)
	assert.Empty(t, sender.messages())
}

func TestReevaluateTwiceIsIdempotent(t *testing.T) {
	repo, sender, engine, member := newEligibilityFixture(t, domain.Member{HasBankAccount: true, CreditScore: 75})
	ctx := context.Background()

	require.NoError(t, engine.Reevaluate(ctx, member.ID))
	first, err := repo.FindSchemeEligibilities(ctx, member.ID)
	require.NoError(t, err)

	require.NoError(t, engine.Reevaluate(ctx, member.ID))
	second, err := repo.FindSchemeEligibilities(ctx, member.ID)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(domain.SchemeEligibility{}, "UpdatedAt")); diff != "" {
		t.Fatalf("eligibility rows changed (-first +second):\n%s", diff)
	}
	assert.Empty(t, sender.messages())
}

func TestTransitionToEligibleNotifiesOnce(t *testing.T) {
	repo, sender, engine, member := newEligibilityFixture(t, domain.Member{HasBankAccount: false, Language: domain.LanguageEnglish})
	ctx := context.Background()

	require.NoError(t, engine.Reevaluate(ctx, member.ID))
	require.False(t, schemeRow(t, repo, member.ID, domain.SchemePMSBY).IsEligible)

	// Member opens a bank account.
	stored := repo.Member(member.ID)
	stored.HasBankAccount = true
	repo.AddMember(stored)

	require.NoError(t, engine.Reevaluate(ctx, member.ID))

	msgs := sender.messages()
	require.Len(t, msgs, 2, "PMJJBY and PMSBY both became eligible")
	assert.Equal(t, member.ChannelID, msgs[0].To)
	assert.Contains(t, msgs[0].Text, "PM Jeevan Jyoti Bima Yojana")
	assert.Contains(t, msgs[1].Text, "₹2 lakh accident insurance at just ₹20/year")

	pmsby := schemeRow(t, repo, member.ID, domain.SchemePMSBY)
	assert.True(t, pmsby.IsEligible)
	assert.True(t, pmsby.Notified)
	assert.NotNil(t, pmsby.NotifiedAt)
	assert.False(t, schemeRow(t, repo, member.ID, domain.SchemePMJanDhan).IsEligible)

	// Losing the account makes Jan Dhan newly eligible, which was never notified.
	stored.HasBankAccount = false
	repo.AddMember(stored)
	require.NoError(t, engine.Reevaluate(ctx, member.ID))
	msgs = sender.messages()
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[2].Text, "PM Jan Dhan Yojana")

	// Regaining it flips the insurance schemes again, but they were already notified.
	stored.HasBankAccount = true
	repo.AddMember(stored)
	require.NoError(t, engine.Reevaluate(ctx, member.ID))

	assert.Len(t, sender.messages(), 3)
	assert.True(t, schemeRow(t, repo, member.ID, domain.SchemePMSBY).Notified)
}

// lockstepRepo holds every FindSchemeEligibilities caller until all expected readers have
// read, so concurrent evaluations see the same stale rows.
type lockstepRepo struct {
	*storetest.Memory
	readers sync.WaitGroup
}

func (r *lockstepRepo) FindSchemeEligibilities(ctx context.Context, memberID uuid.UUID) ([]domain.SchemeEligibility, error) {
	rows, err := r.Memory.FindSchemeEligibilities(ctx, memberID)
	r.readers.Done()
	r.readers.Wait()
	return rows, err
}

func TestConcurrentReevaluationsNotifyOnce(t *testing.T) {
	repo, sender, engine, member := newEligibilityFixture(t, domain.Member{HasBankAccount: false})
	ctx := context.Background()
	require.NoError(t, engine.Reevaluate(ctx, member.ID))

	stored := repo.Member(member.ID)
	stored.HasBankAccount = true
	repo.AddMember(stored)

	const runs = 2
	lockstep := &lockstepRepo{Memory: repo}
	lockstep.readers.Add(runs)
	concurrent := NewEligibilityEngine(lockstep, sender, catalog.MustLoad(), nil, testLogger())

	var wg sync.WaitGroup
	errs := make([]error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = concurrent.Reevaluate(ctx, member.ID)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	msgs := sender.messages()
	require.Len(t, msgs, 2, "PMJJBY and PMSBY are each announced once")
	assert.NotEqual(t, msgs[0].Text, msgs[1].Text)
	assert.True(t, schemeRow(t, repo, member.ID, domain.SchemePMJJBY).Notified)
	assert.True(t, schemeRow(t, repo, member.ID, domain.SchemePMSBY).Notified)
}

func TestMarkSchemeNotifiedClaimsOnce(t *testing.T) {
	repo, _, engine, member := newEligibilityFixture(t, domain.Member{HasBankAccount: true})
	ctx := context.Background()
	require.NoError(t, engine.Reevaluate(ctx, member.ID))
	row := schemeRow(t, repo, member.ID, domain.SchemePMJanDhan)

	claimed, err := repo.MarkSchemeNotified(ctx, row.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.MarkSchemeNotified(ctx, row.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestLoanDrivenSchemes(t *testing.T) {
	engine := &EligibilityEngine{schemes: Schemes}

	tests := []struct {
		name  string
		score float64
		loans []domain.LoanPurpose
		want  map[domain.SchemeName]bool
	}{
		{
			name:  "business loan with strong score",
			score: 72,
			loans: []domain.LoanPurpose{domain.PurposeBusiness},
			want:  map[domain.SchemeName]bool{domain.SchemePMMudraShishu: true, domain.SchemePMSvanidhi: true},
		},
		{
			name:  "agriculture loan qualifies for mudra only",
			score: 80,
			loans: []domain.LoanPurpose{domain.PurposeAgriculture},
			want:  map[domain.SchemeName]bool{domain.SchemePMMudraShishu: true, domain.SchemePMSvanidhi: false},
		},
		{
			name:  "score between sixty and seventy",
			score: 65,
			loans: []domain.LoanPurpose{domain.PurposeBusiness},
			want:  map[domain.SchemeName]bool{domain.SchemePMMudraShishu: false, domain.SchemePMSvanidhi: true},
		},
		{
			name:  "no qualifying loan",
			score: 90,
			loans: []domain.LoanPurpose{domain.PurposeMedical},
			want:  map[domain.SchemeName]bool{domain.SchemePMMudraShishu: false, domain.SchemePMSvanidhi: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := EligibilityInput{Member: domain.Member{CreditScore: tt.score}}
			for _, p := range tt.loans {
				in.Loans = append(in.Loans, domain.LoanRequest{Purpose: p})
			}
			got := engine.Evaluate(in)
			for name, want := range tt.want {
				assert.Equal(t, want, got[name], name)
			}
		})
	}
}

func TestNABARDNeedsSixMonthsAndCorpus(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		firstTxAt *time.Time
		corpus    float64
		want      bool
	}{
		{name: "no transactions", corpus: 1000, want: false},
		{name: "five months and a day rounds up to six", firstTxAt: ptrTime(now.Add(-(150*24 + 1) * time.Hour)), corpus: 1000, want: true},
		{name: "exactly five periods", firstTxAt: ptrTime(now.Add(-150 * 24 * time.Hour)), corpus: 1000, want: false},
		{name: "old group without corpus", firstTxAt: ptrTime(now.AddDate(-1, 0, 0)), corpus: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := storetest.NewMemory()
			group := repo.AddGroup(domain.Group{Name: "G", CorpusAmount: tt.corpus})
			member := repo.AddMember(domain.Member{GroupID: group.ID, ChannelID: "1"})
			if tt.firstTxAt != nil {
				repo.Transactions = append(repo.Transactions, domain.Transaction{ID: uuid.New(), GroupID: group.ID, MemberID: member.ID, CreatedAt: *tt.firstTxAt})
			}

			engine := NewEligibilityEngine(repo, &fakeSender{}, catalog.MustLoad(), nil, testLogger())
			engine.now = func() time.Time { return now }

			in, err := engine.loadInput(context.Background(), &member)
			require.NoError(t, err)
			assert.Equal(t, tt.want, engine.Evaluate(in)[domain.SchemeNABARDLinkage])
		})
	}
}

func TestMissingGroupIsNotAnError(t *testing.T) {
	repo := storetest.NewMemory()
	member := repo.AddMember(domain.Member{GroupID: uuid.New(), ChannelID: "1"})
	engine := NewEligibilityEngine(repo, &fakeSender{}, catalog.MustLoad(), nil, testLogger())

	require.NoError(t, engine.Reevaluate(context.Background(), member.ID))
	assert.False(t, schemeRow(t, repo, member.ID, domain.SchemeNABARDLinkage).IsEligible)
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
