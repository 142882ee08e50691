/**
 * @description
 * This file defines the `Repository` interface, the contract for every data access
 * operation used by the scoring engine, the eligibility engine, the chat state machine and
 * the record-mutation service. Business logic depends on this interface only, so tests can
 * stub the methods they exercise.
 *
 * @notes
 * - Writes that touch more than one table (check-ins, leader-entered transactions, loan
 *   approval) are single methods so the implementation can run them in one database
 *   transaction. Every other method is a single statement.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/Kundhave/Sakhi/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrMemberNotFound            = errors.New("member not found")
	ErrGroupNotFound             = errors.New("group not found")
	ErrTransactionNotFound       = errors.New("transaction not found")
	ErrLoanRequestNotFound       = errors.New("loan request not found")
	ErrLoanTransitionNotAllowed  = errors.New("loan status transition not allowed")
	ErrDuplicateChannelID        = errors.New("a member with this channel id already exists")
	ErrSchemeEligibilityNotFound = errors.New("scheme eligibility not found")
)

// Default page sizes of the dashboard transaction listings.
const (
	MemberTransactionLimit = 50
	GroupTransactionLimit  = 100
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Group methods
	CreateGroup(ctx context.Context, group *domain.Group) error
	FindGroupByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error)
	ListGroups(ctx context.Context) ([]domain.Group, error)

	// Member methods
	CreateMember(ctx context.Context, member *domain.Member) error
	FindMemberByID(ctx context.Context, memberID uuid.UUID) (*domain.Member, error)
	FindMemberByChannelID(ctx context.Context, channelID string) (*domain.Member, error)
	ListMemberIDs(ctx context.Context) ([]uuid.UUID, error)
	// FindMembersByGroupID returns the members of a group, highest credit score first.
	FindMembersByGroupID(ctx context.Context, groupID uuid.UUID) ([]domain.Member, error)
	FindPeerScores(ctx context.Context, groupID uuid.UUID, excludeMemberID uuid.UUID) ([]float64, error)
	UpdateMemberScore(ctx context.Context, memberID uuid.UUID, score domain.CreditScore) error
	// UpdateMemberProfile overwrites the non-nil profile fields of a member. It never touches
	// the conversation register or the score fields.
	UpdateMemberProfile(ctx context.Context, memberID uuid.UUID, update domain.UpdateMemberProfileRequest) (*domain.Member, error)
	SaveConversation(ctx context.Context, memberID uuid.UUID, conversation domain.Conversation) error
	// SwapConversation saves next only if the stored conversation is still in state from and
	// reports whether it did.
	SwapConversation(ctx context.Context, memberID uuid.UUID, from domain.ConversationState, next domain.Conversation) (bool, error)

	// Transaction methods
	// RecordTransactions inserts the transactions of one member and applies them to the
	// running balances, all or nothing. Contributions add to the total contributed,
	// repayments reduce the outstanding loan amount (floored at zero) and disbursements
	// raise it.
	RecordTransactions(ctx context.Context, memberID uuid.UUID, txs []*domain.Transaction) error
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	FindTransactionsByMemberID(ctx context.Context, memberID uuid.UUID) ([]domain.Transaction, error)
	// FindRecentTransactionsByMemberID and FindRecentTransactionsByGroupID return the newest
	// transactions first.
	FindRecentTransactionsByMemberID(ctx context.Context, memberID uuid.UUID, limit int) ([]domain.Transaction, error)
	FindRecentTransactionsByGroupID(ctx context.Context, groupID uuid.UUID, limit int) ([]domain.Transaction, error)
	FindEarliestGroupTransaction(ctx context.Context, groupID uuid.UUID) (*domain.Transaction, error)
	SumTransactionsByType(ctx context.Context, memberID uuid.UUID, txType domain.TransactionType) (float64, error)
	MarkTransactionVerified(ctx context.Context, transactionID uuid.UUID) error
	FlagTransaction(ctx context.Context, transactionID uuid.UUID, note string) error

	// Attendance methods
	FindAttendanceByMemberID(ctx context.Context, memberID uuid.UUID) ([]domain.MeetingAttendance, error)

	// Loan request methods
	CreateLoanRequest(ctx context.Context, loan *domain.LoanRequest) error
	FindLoanRequestByID(ctx context.Context, loanID uuid.UUID) (*domain.LoanRequest, error)
	FindLoanRequestsByMemberID(ctx context.Context, memberID uuid.UUID) ([]domain.LoanRequest, error)
	FindRecentLoanRequests(ctx context.Context, memberID uuid.UUID, statuses []domain.LoanStatus, limit int) ([]domain.LoanRequest, error)
	// FindLoanRequestsByGroupID returns the loan requests of a group, newest first. An empty
	// status returns every status.
	FindLoanRequestsByGroupID(ctx context.Context, groupID uuid.UUID, status domain.LoanStatus) ([]domain.LoanRequest, error)
	// TransitionLoanRequest moves a loan from `from` to `to` only if it is still in `from`.
	TransitionLoanRequest(ctx context.Context, loanID uuid.UUID, from, to domain.LoanStatus, at time.Time) (*domain.LoanRequest, error)
	// ApproveLoanRequest moves a PENDING loan to APPROVED, inserts its LOAN_DISBURSEMENT
	// transaction dated at and raises the member's outstanding amount, all or nothing.
	ApproveLoanRequest(ctx context.Context, loanID uuid.UUID, at time.Time) (*domain.LoanRequest, *domain.Transaction, error)

	// Scheme eligibility methods
	FindSchemeEligibilities(ctx context.Context, memberID uuid.UUID) ([]domain.SchemeEligibility, error)
	CreateSchemeEligibility(ctx context.Context, row *domain.SchemeEligibility) error
	UpdateSchemeEligibility(ctx context.Context, rowID uuid.UUID, isEligible bool) error
	// MarkSchemeNotified sets the notified flag if it is still false and reports whether this
	// call set it. Only the caller that set it may send the notification.
	MarkSchemeNotified(ctx context.Context, rowID uuid.UUID, at time.Time) (bool, error)
}
