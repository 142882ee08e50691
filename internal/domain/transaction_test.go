package domain

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBalanceEffectFloorsRepaymentBeforeDisbursement(t *testing.T) {
	txs := []*Transaction{
		{Type: TransactionContribution, Amount: 500},
		{Type: TransactionLoanRepayment, Amount: 1200},
		{Type: TransactionLoanDisbursement, Amount: 3000},
		{Type: TransactionContribution, Amount: 100},
	}
	effect := BalanceEffectOf(txs)
	if diff := cmp.Diff(BalanceEffect{Contributed: 600, Repaid: 1200, Disbursed: 3000}, effect); diff != "" {
		t.Fatalf("effect mismatch (-want +got):\n%s", diff)
	}

	m := Member{TotalContributed: 50, OutstandingLoanAmount: 1000}
	effect.Apply(&m)
	if m.TotalContributed != 650 || m.OutstandingLoanAmount != 3000 {
		t.Fatalf("got contributed=%v outstanding=%v, want 650 and 3000", m.TotalContributed, m.OutstandingLoanAmount)
	}
}

func TestLoanStatusValid(t *testing.T) {
	for _, s := range []LoanStatus{LoanPending, LoanApproved, LoanRejected, LoanDisbursed} {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	for _, s := range []LoanStatus{"pending", ""} {
		if s.Valid() {
			t.Errorf("%q should not be valid", s)
		}
	}
}
