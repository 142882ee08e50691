/**
 * @description
 * This file contains the record-mutation use cases of Sakhi. The `Service` struct is used
 * by the HTTP API (leader dashboard) and by the chat state machine for everything that
 * writes ground-truth records: groups, members, transactions and loan requests.
 *
 * Key features:
 * - Every write that changes a member's history is followed by the scoring then
 *   eligibility cascade (or leaves that to the caller, where noted).
 * - Loan requests move PENDING -> APPROVED | REJECTED and APPROVED -> DISBURSED only.
 * - Domain events are published after each write; publishing failures are logged only.
 *
 * @dependencies
 * - internal/domain, internal/store: For domain models and data access.
 * - internal/catalog, pkg/messaging: For member notifications.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Kundhave/Sakhi/internal/catalog"
	"github.com/Kundhave/Sakhi/internal/domain"
	"github.com/Kundhave/Sakhi/internal/store"
	"github.com/Kundhave/Sakhi/pkg/messaging"
	"github.com/google/uuid"
)

// ErrInvalidRequest is returned for requests that fail validation.
var ErrInvalidRequest = errors.New("invalid request")

// Event sources recorded on TransactionRecordedEvent.
const (
	SourceChat   = "chat"
	SourceLeader = "leader"
)

// Cascade runs the scoring and eligibility engines for a member.
type Cascade interface {
	Refresh(ctx context.Context, memberID uuid.UUID)
	RefreshScore(ctx context.Context, memberID uuid.UUID) (domain.CreditScore, error)
	Reevaluate(ctx context.Context, memberID uuid.UUID) error
}

// VerificationPrompter asks a member to confirm a leader-entered transaction over chat.
type VerificationPrompter interface {
	PromptVerification(ctx context.Context, memberID uuid.UUID, tx domain.Transaction) error
}

// SchemeStatus is a stored eligibility row together with its catalog entry.
type SchemeStatus struct {
	domain.SchemeEligibility
	DisplayName string `json:"display_name"`
	Benefit     string `json:"benefit"`
}

// Service provides the record-mutation business logic.
type Service struct {
	repo     store.Repository
	cascade  Cascade
	sender   messaging.Sender
	messages *catalog.Catalog
	events   *EventBus
	logger   *slog.Logger
	now      func() time.Time

	verifier VerificationPrompter
}

// NewService creates a new Service. events may be nil.
func NewService(repo store.Repository, cascade Cascade, sender messaging.Sender, messages *catalog.Catalog, events *EventBus, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		cascade:  cascade,
		sender:   sender,
		messages: messages,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

// SetVerificationPrompter wires the chat state machine after both are constructed.
func (s *Service) SetVerificationPrompter(p VerificationPrompter) {
	s.verifier = p
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// CreateGroup registers a self-help group.
func (s *Service) CreateGroup(ctx context.Context, req domain.CreateGroupRequest) (*domain.Group, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, invalid("name is required")
	}
	if strings.TrimSpace(req.LeaderName) == "" || strings.TrimSpace(req.LeaderPhone) == "" {
		return nil, invalid("leader name and phone are required")
	}
	if req.CorpusAmount < 0 || req.LoanCycles < 0 {
		return nil, invalid("corpus amount and loan cycles must not be negative")
	}

	group := &domain.Group{
		Name:         strings.TrimSpace(req.Name),
		Village:      req.Village,
		District:     req.District,
		State:        req.State,
		FormedOn:     req.FormedOn,
		LeaderName:   strings.TrimSpace(req.LeaderName),
		LeaderPhone:  strings.TrimSpace(req.LeaderPhone),
		CorpusAmount: req.CorpusAmount,
		LoanCycles:   req.LoanCycles,
	}
	if err := s.repo.CreateGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	s.logger.Info("group created", "group_id", group.ID)
	return group, nil
}

// CreateMember registers a member and computes the initial founding score.
func (s *Service) CreateMember(ctx context.Context, req domain.CreateMemberRequest) (*domain.Member, error) {
	channelID := strings.TrimSpace(req.ChannelID)
	if channelID == "" || strings.TrimSpace(req.FullName) == "" {
		return nil, invalid("channel id and full name are required")
	}
	if req.TenureMonths < 0 || req.LoansCompleted < 0 || req.OutstandingLoanAmount < 0 || req.TotalContributed < 0 {
		return nil, invalid("onboarding values must not be negative")
	}
	if _, err := s.repo.FindGroupByID(ctx, req.GroupID); err != nil {
		return nil, err
	}

	lang := req.Language
	if lang == "" {
		lang = domain.LanguageEnglish
	}
	if !validLanguage(lang) {
		return nil, invalid("unsupported language %q", req.Language)
	}

	joined := s.now().UTC()
	if req.JoinedOn != nil {
		joined = *req.JoinedOn
	}
	onTime := true
	if req.RepaymentOnTime != nil {
		onTime = *req.RepaymentOnTime
	}

	member := &domain.Member{
		GroupID:               req.GroupID,
		ChannelID:             channelID,
		FullName:              strings.TrimSpace(req.FullName),
		Language:              lang,
		JoinedOn:              joined,
		TenureMonths:          req.TenureMonths,
		LoansCompleted:        req.LoansCompleted,
		RepaymentOnTime:       onTime,
		OutstandingLoanAmount: req.OutstandingLoanAmount,
		HasBankAccount:        req.HasBankAccount,
		TotalContributed:      req.TotalContributed,
		ScoreBand:             domain.BandNeedsImprovement,
		ScoreConfidence:       domain.ConfidenceLow,
		Conversation:          domain.Idle{},
	}
	if err := s.repo.CreateMember(ctx, member); err != nil {
		return nil, err
	}
	s.logger.Info("member created", "member_id", member.ID, "group_id", member.GroupID)

	if _, err := s.cascade.RefreshScore(ctx, member.ID); err != nil {
		s.logger.Error("initial score failed", "member_id", member.ID, "error", err)
	}
	return s.repo.FindMemberByID(ctx, member.ID)
}

func validLanguage(lang domain.Language) bool {
	switch lang {
	case domain.LanguageEnglish, domain.LanguageHindi, domain.LanguageTamil, domain.LanguageTelugu:
		return true
	}
	return false
}

// GetMember returns a member by ID.
func (s *Service) GetMember(ctx context.Context, memberID uuid.UUID) (*domain.Member, error) {
	return s.repo.FindMemberByID(ctx, memberID)
}

// UpdateMemberProfile applies a leader's correction to a member's profile and runs the
// cascade, since tenure, loan history and bank access all feed the score and the schemes.
// The conversation register is never touched.
func (s *Service) UpdateMemberProfile(ctx context.Context, memberID uuid.UUID, req domain.UpdateMemberProfileRequest) (*domain.Member, error) {
	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" {
			return nil, invalid("full name must not be empty")
		}
		req.FullName = &name
	}
	if req.Language != nil && !validLanguage(*req.Language) {
		return nil, invalid("unsupported language %q", *req.Language)
	}
	if (req.TenureMonths != nil && *req.TenureMonths < 0) ||
		(req.LoansCompleted != nil && *req.LoansCompleted < 0) ||
		(req.OutstandingLoanAmount != nil && *req.OutstandingLoanAmount < 0) {
		return nil, invalid("profile values must not be negative")
	}

	if _, err := s.repo.UpdateMemberProfile(ctx, memberID, req); err != nil {
		return nil, err
	}
	s.logger.Info("member profile updated", "member_id", memberID)

	s.cascade.Refresh(ctx, memberID)
	return s.repo.FindMemberByID(ctx, memberID)
}

// RecordTransaction stores a leader-entered transaction, keeps the member's running
// balances in step and runs the cascade. With RequestVerification set, the member is asked
// over chat to confirm the record.
func (s *Service) RecordTransaction(ctx context.Context, req domain.RecordTransactionRequest) (*domain.Transaction, error) {
	if !req.Type.Valid() {
		return nil, invalid("unknown transaction type %q", req.Type)
	}
	if req.Amount <= 0 {
		return nil, invalid("amount must be positive")
	}
	member, err := s.repo.FindMemberByID(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}

	actual := s.now().UTC()
	if req.ActualDate != nil {
		actual = *req.ActualDate
	}
	tx := &domain.Transaction{
		MemberID:   member.ID,
		GroupID:    member.GroupID,
		Type:       req.Type,
		Amount:     req.Amount,
		ActualDate: actual,
		DaysLate:   req.DaysLate,
		Note:       req.Note,
	}
	if err := s.repo.RecordTransactions(ctx, member.ID, []*domain.Transaction{tx}); err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	s.publishTransaction(ctx, *tx, SourceLeader)

	s.cascade.Refresh(ctx, member.ID)

	if req.RequestVerification {
		if s.verifier == nil {
			s.logger.Warn("verification requested but no chat is configured", "transaction_id", tx.ID)
		} else if err := s.verifier.PromptVerification(ctx, member.ID, *tx); err != nil {
			s.logger.Error("verification prompt failed", "member_id", member.ID, "transaction_id", tx.ID, "error", err)
		}
	}
	return tx, nil
}

// RecordCheckin stores a member's self-reported monthly check-in: one verified CONTRIBUTION
// and, when repayment is set, one verified LOAN_REPAYMENT, both dated now. The records and
// the balance update are written together or not at all. It does not run the cascade; the
// chat flow does that after resetting the conversation.
func (s *Service) RecordCheckin(ctx context.Context, member *domain.Member, contribution float64, repayment *float64) error {
	now := s.now().UTC()
	txs := []*domain.Transaction{{
		MemberID:         member.ID,
		GroupID:          member.GroupID,
		Type:             domain.TransactionContribution,
		Amount:           contribution,
		ActualDate:       now,
		VerifiedByMember: true,
	}}
	if repayment != nil {
		txs = append(txs, &domain.Transaction{
			MemberID:         member.ID,
			GroupID:          member.GroupID,
			Type:             domain.TransactionLoanRepayment,
			Amount:           *repayment,
			ActualDate:       now,
			VerifiedByMember: true,
		})
	}
	if err := s.repo.RecordTransactions(ctx, member.ID, txs); err != nil {
		return fmt.Errorf("failed to record check-in: %w", err)
	}
	for _, tx := range txs {
		s.publishTransaction(ctx, *tx, SourceChat)
	}
	return nil
}

// SubmitLoanRequest stores a PENDING loan request from the chat flow. It does not run the cascade.
func (s *Service) SubmitLoanRequest(ctx context.Context, member *domain.Member, amount float64, purpose domain.LoanPurpose, months int, hasOutstanding *bool) (*domain.LoanRequest, error) {
	loan := &domain.LoanRequest{
		MemberID:           member.ID,
		GroupID:            member.GroupID,
		Amount:             amount,
		Purpose:            purpose,
		RepaymentMonths:    months,
		HasOutstandingLoan: hasOutstanding,
	}
	if err := s.repo.CreateLoanRequest(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to create loan request: %w", err)
	}
	s.logger.Info("loan requested", "member_id", member.ID, "loan_request_id", loan.ID, "amount", amount, "purpose", purpose)
	s.publishLoan(ctx, domain.EventLoanRequested, *loan)
	return loan, nil
}

// ApproveLoan approves a pending loan, records the disbursement transaction, raises the
// member's outstanding amount and tells the member. The three writes succeed or fail
// together, so a failed approval can simply be retried.
func (s *Service) ApproveLoan(ctx context.Context, loanID uuid.UUID) (*domain.LoanRequest, error) {
	loan, tx, err := s.repo.ApproveLoanRequest(ctx, loanID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.logger.Info("loan approved", "loan_request_id", loan.ID, "member_id", loan.MemberID, "amount", loan.Amount)
	s.publishTransaction(ctx, *tx, SourceLeader)
	s.publishLoan(ctx, domain.EventLoanResolved, *loan)

	s.notifyMember(ctx, loan.MemberID, func(t *catalog.Templates) string { return t.LoanApproved(loan.Amount) })
	s.cascade.Refresh(ctx, loan.MemberID)
	return loan, nil
}

// RejectLoan rejects a pending loan and tells the member.
func (s *Service) RejectLoan(ctx context.Context, loanID uuid.UUID) (*domain.LoanRequest, error) {
	loan, err := s.repo.TransitionLoanRequest(ctx, loanID, domain.LoanPending, domain.LoanRejected, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.publishLoan(ctx, domain.EventLoanResolved, *loan)
	s.notifyMember(ctx, loan.MemberID, func(t *catalog.Templates) string { return t.LoanRejected() })
	return loan, nil
}

// MarkLoanDisbursed records that an approved loan has been paid out.
func (s *Service) MarkLoanDisbursed(ctx context.Context, loanID uuid.UUID) (*domain.LoanRequest, error) {
	loan, err := s.repo.TransitionLoanRequest(ctx, loanID, domain.LoanApproved, domain.LoanDisbursed, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.publishLoan(ctx, domain.EventLoanResolved, *loan)
	return loan, nil
}

// RecalculateScore runs the cascade for a member and returns the new score.
func (s *Service) RecalculateScore(ctx context.Context, memberID uuid.UUID) (domain.CreditScore, error) {
	return s.cascade.RefreshScore(ctx, memberID)
}

// ReevaluateSchemes runs only the eligibility engine for a member.
func (s *Service) ReevaluateSchemes(ctx context.Context, memberID uuid.UUID) error {
	return s.cascade.Reevaluate(ctx, memberID)
}

// ListSchemes returns the stored eligibility rows of a member in catalog order.
func (s *Service) ListSchemes(ctx context.Context, memberID uuid.UUID) ([]SchemeStatus, error) {
	if _, err := s.repo.FindMemberByID(ctx, memberID); err != nil {
		return nil, err
	}
	rows, err := s.repo.FindSchemeEligibilities(ctx, memberID)
	if err != nil {
		return nil, err
	}
	byName := make(map[domain.SchemeName]domain.SchemeEligibility, len(rows))
	for _, r := range rows {
		byName[r.SchemeName] = r
	}

	out := make([]SchemeStatus, 0, len(rows))
	for _, scheme := range Schemes {
		row, ok := byName[scheme.Name]
		if !ok {
			continue
		}
		out = append(out, SchemeStatus{SchemeEligibility: row, DisplayName: scheme.DisplayName, Benefit: scheme.Benefit})
	}
	return out, nil
}

func (s *Service) notifyMember(ctx context.Context, memberID uuid.UUID, render func(*catalog.Templates) string) {
	member, err := s.repo.FindMemberByID(ctx, memberID)
	if err != nil {
		s.logger.Error("member lookup for notification failed", "member_id", memberID, "error", err)
		return
	}
	if err := s.sender.Send(ctx, member.ChannelID, render(s.messages.For(member.Language))); err != nil {
		s.logger.Error("member notification failed", "member_id", memberID, "error", err)
	}
}

func (s *Service) publishTransaction(ctx context.Context, tx domain.Transaction, source string) {
	s.events.publish(ctx, domain.EventTransactionRecorded, domain.TransactionRecordedEvent{
		TransactionID: tx.ID,
		MemberID:      tx.MemberID,
		GroupID:       tx.GroupID,
		Type:          tx.Type,
		Amount:        tx.Amount,
		Source:        source,
		Timestamp:     s.now().UTC(),
	})
}

func (s *Service) publishLoan(ctx context.Context, key string, loan domain.LoanRequest) {
	s.events.publish(ctx, key, domain.LoanEvent{
		LoanRequestID: loan.ID,
		MemberID:      loan.MemberID,
		GroupID:       loan.GroupID,
		Amount:        loan.Amount,
		Purpose:       loan.Purpose,
		Status:        loan.Status,
		Timestamp:     s.now().UTC(),
	})
}
