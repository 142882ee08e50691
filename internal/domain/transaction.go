package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionContribution     TransactionType = "CONTRIBUTION"
	TransactionLoanRepayment    TransactionType = "LOAN_REPAYMENT"
	TransactionLoanDisbursement TransactionType = "LOAN_DISBURSEMENT"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionContribution, TransactionLoanRepayment, TransactionLoanDisbursement:
		return true
	}
	return false
}

// NoteFlaggedByMember is written to a transaction's note when the member disputes it.
const NoteFlaggedByMember = "FLAGGED_BY_MEMBER"

// Transaction is an immutable ledger record. Only VerifiedByMember and Note change after insert.
type Transaction struct {
	ID               uuid.UUID       `json:"id"`
	MemberID         uuid.UUID       `json:"member_id"`
	GroupID          uuid.UUID       `json:"group_id"`
	Type             TransactionType `json:"type"`
	Amount           float64         `json:"amount"`
	ActualDate       time.Time       `json:"actual_date"`
	DaysLate         int             `json:"days_late"` // <= 0 on time or early
	VerifiedByMember bool            `json:"verified_by_member"`
	Note             string          `json:"note,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// BalanceEffect is what a batch of transactions does to a member's running balances.
type BalanceEffect struct {
	Contributed float64
	Repaid      float64
	Disbursed   float64
}

// BalanceEffectOf totals txs by type.
func BalanceEffectOf(txs []*Transaction) BalanceEffect {
	var e BalanceEffect
	for _, tx := range txs {
		switch tx.Type {
		case TransactionContribution:
			e.Contributed += tx.Amount
		case TransactionLoanRepayment:
			e.Repaid += tx.Amount
		case TransactionLoanDisbursement:
			e.Disbursed += tx.Amount
		}
	}
	return e
}

// Apply updates m's running totals. Repayments are floored at zero before disbursements are added.
func (e BalanceEffect) Apply(m *Member) {
	m.TotalContributed += e.Contributed
	m.OutstandingLoanAmount = max(0, m.OutstandingLoanAmount-e.Repaid) + e.Disbursed
}

// DisbursementFor builds the LOAN_DISBURSEMENT record of an approved loan.
func DisbursementFor(loan *LoanRequest, at time.Time) *Transaction {
	return &Transaction{
		MemberID:   loan.MemberID,
		GroupID:    loan.GroupID,
		Type:       TransactionLoanDisbursement,
		Amount:     loan.Amount,
		ActualDate: at,
	}
}

// RecordTransactionRequest is the DTO for a leader-entered transaction.
type RecordTransactionRequest struct {
	MemberID            uuid.UUID       `json:"member_id"`
	Type                TransactionType `json:"type"`
	Amount              float64         `json:"amount"`
	ActualDate          *time.Time      `json:"actual_date"`
	DaysLate            int             `json:"days_late"`
	Note                string          `json:"note"`
	RequestVerification bool            `json:"request_verification"`
}

// LoanPurpose is the finite set of reasons a member may give for a loan.
type LoanPurpose string

const (
	PurposeAgriculture    LoanPurpose = "AGRICULTURE"
	PurposeBusiness       LoanPurpose = "BUSINESS"
	PurposeEducation      LoanPurpose = "EDUCATION"
	PurposeMedical        LoanPurpose = "MEDICAL"
	PurposeHomeRepair     LoanPurpose = "HOME_REPAIR"
	PurposeFamilyFunction LoanPurpose = "FAMILY_FUNCTION"
	PurposeOther          LoanPurpose = "OTHER"
)

// LoanStatus is the lifecycle state of a loan request.
type LoanStatus string

const (
	LoanPending   LoanStatus = "PENDING"
	LoanApproved  LoanStatus = "APPROVED"
	LoanRejected  LoanStatus = "REJECTED"
	LoanDisbursed LoanStatus = "DISBURSED"
)

// Valid reports whether s is a known status.
func (s LoanStatus) Valid() bool {
	switch s {
	case LoanPending, LoanApproved, LoanRejected, LoanDisbursed:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is allowed. Transitions only move forward.
func (s LoanStatus) CanTransitionTo(next LoanStatus) bool {
	switch s {
	case LoanPending:
		return next == LoanApproved || next == LoanRejected
	case LoanApproved:
		return next == LoanDisbursed
	default:
		return false
	}
}

// LoanRequest maps to the `loan_requests` table.
type LoanRequest struct {
	ID              uuid.UUID   `json:"id"`
	MemberID        uuid.UUID   `json:"member_id"`
	GroupID         uuid.UUID   `json:"group_id"`
	Amount          float64     `json:"amount"`
	Purpose         LoanPurpose `json:"purpose"`
	RepaymentMonths int         `json:"repayment_months"`
	Status          LoanStatus  `json:"status"`
	// HasOutstandingLoan is the member's own answer in the chat flow; nil for loans
	// created outside the chat.
	HasOutstandingLoan *bool      `json:"has_outstanding_loan,omitempty"`
	RequestedAt        time.Time  `json:"requested_at"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
}
