/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains the SQL for groups, members (including their conversation register),
 * transactions, meeting attendance, loan requests and scheme eligibility rows.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Kundhave/Sakhi/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolationCode = "23505"

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateGroup inserts a new group. ID and CreatedAt are filled in when zero.
func (r *PostgresRepository) CreateGroup(ctx context.Context, group *domain.Group) error {
	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	query := `
		INSERT INTO groups (id, name, village, district, state, formed_on, leader_name, leader_phone, corpus_amount, loan_cycles)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		group.ID, group.Name, group.Village, group.District, group.State, nullableTime(group.FormedOn),
		group.LeaderName, group.LeaderPhone, group.CorpusAmount, group.LoanCycles,
	).Scan(&group.CreatedAt)
}

const groupColumns = `id, name, village, district, state, formed_on, leader_name, leader_phone, corpus_amount, loan_cycles, created_at`

func scanGroup(row pgx.Row) (*domain.Group, error) {
	var group domain.Group
	var formedOn *time.Time
	err := row.Scan(
		&group.ID, &group.Name, &group.Village, &group.District, &group.State, &formedOn,
		&group.LeaderName, &group.LeaderPhone, &group.CorpusAmount, &group.LoanCycles, &group.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	if formedOn != nil {
		group.FormedOn = *formedOn
	}
	return &group, nil
}

// FindGroupByID retrieves a group by its ID.
func (r *PostgresRepository) FindGroupByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	return scanGroup(r.db.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, groupID))
}

// ListGroups returns every group, oldest first.
func (r *PostgresRepository) ListGroups(ctx context.Context) ([]domain.Group, error) {
	rows, err := r.db.Query(ctx, `SELECT `+groupColumns+` FROM groups ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

const memberColumns = `
	id, group_id, channel_id, full_name, language, joined_on,
	tenure_months, loans_completed, repayment_on_time, outstanding_loan_amount, has_bank_account,
	total_contributed, credit_score, score_band, score_confidence,
	conversation_state, conversation_context, created_at, updated_at
`

func scanMember(row pgx.Row) (*domain.Member, error) {
	var m domain.Member
	var state string
	var payload []byte
	err := row.Scan(
		&m.ID, &m.GroupID, &m.ChannelID, &m.FullName, &m.Language, &m.JoinedOn,
		&m.TenureMonths, &m.LoansCompleted, &m.RepaymentOnTime, &m.OutstandingLoanAmount, &m.HasBankAccount,
		&m.TotalContributed, &m.CreditScore, &m.ScoreBand, &m.ScoreConfidence,
		&state, &payload, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	m.Conversation = domain.LoadConversation(state, payload)
	return &m, nil
}

// CreateMember inserts a new member with an idle conversation.
func (r *PostgresRepository) CreateMember(ctx context.Context, member *domain.Member) error {
	if member.ID == uuid.Nil {
		member.ID = uuid.New()
	}
	state, payload, err := domain.EncodeConversation(member.Conversation)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO members (
			id, group_id, channel_id, full_name, language, joined_on,
			tenure_months, loans_completed, repayment_on_time, outstanding_loan_amount, has_bank_account,
			total_contributed, credit_score, score_band, score_confidence,
			conversation_state, conversation_context
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRow(ctx, query,
		member.ID, member.GroupID, member.ChannelID, member.FullName, member.Language, member.JoinedOn,
		member.TenureMonths, member.LoansCompleted, member.RepaymentOnTime, member.OutstandingLoanAmount, member.HasBankAccount,
		member.TotalContributed, member.CreditScore, member.ScoreBand, member.ScoreConfidence,
		state, payload,
	).Scan(&member.CreatedAt, &member.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return ErrDuplicateChannelID
		}
		return err
	}
	return nil
}

// FindMemberByID retrieves a member by ID.
func (r *PostgresRepository) FindMemberByID(ctx context.Context, memberID uuid.UUID) (*domain.Member, error) {
	return scanMember(r.db.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, memberID))
}

// FindMemberByChannelID retrieves a member by phone number or channel identifier.
func (r *PostgresRepository) FindMemberByChannelID(ctx context.Context, channelID string) (*domain.Member, error) {
	return scanMember(r.db.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE channel_id = $1`, channelID))
}

// ListMemberIDs returns the IDs of every member, oldest first.
func (r *PostgresRepository) ListMemberIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM members ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// FindMembersByGroupID returns the members of a group, highest credit score first.
func (r *PostgresRepository) FindMembersByGroupID(ctx context.Context, groupID uuid.UUID) ([]domain.Member, error) {
	rows, err := r.db.Query(ctx, `SELECT `+memberColumns+` FROM members WHERE group_id = $1 ORDER BY credit_score DESC, full_name ASC`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// FindPeerScores returns the current credit scores of the other members of a group.
func (r *PostgresRepository) FindPeerScores(ctx context.Context, groupID uuid.UUID, excludeMemberID uuid.UUID) ([]float64, error) {
	rows, err := r.db.Query(ctx, `SELECT credit_score FROM members WHERE group_id = $1 AND id <> $2`, groupID, excludeMemberID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[float64])
}

// UpdateMemberScore overwrites the score fields of a member.
func (r *PostgresRepository) UpdateMemberScore(ctx context.Context, memberID uuid.UUID, score domain.CreditScore) error {
	query := `
		UPDATE members
		SET credit_score = $2, score_band = $3, score_confidence = $4, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, ErrMemberNotFound, query, memberID, score.Score, score.Band, score.Confidence)
}

// SaveConversation persists the conversation register of a member.
func (r *PostgresRepository) SaveConversation(ctx context.Context, memberID uuid.UUID, conversation domain.Conversation) error {
	state, payload, err := domain.EncodeConversation(conversation)
	if err != nil {
		return err
	}
	query := `
		UPDATE members
		SET conversation_state = $2, conversation_context = $3, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, ErrMemberNotFound, query, memberID, state, payload)
}

// UpdateMemberProfile overwrites the profile columns given in update and returns the member.
func (r *PostgresRepository) UpdateMemberProfile(ctx context.Context, memberID uuid.UUID, update domain.UpdateMemberProfileRequest) (*domain.Member, error) {
	query := `
		UPDATE members
		SET full_name = COALESCE($2, full_name),
			language = COALESCE($3, language),
			joined_on = COALESCE($4, joined_on),
			tenure_months = COALESCE($5, tenure_months),
			loans_completed = COALESCE($6, loans_completed),
			repayment_on_time = COALESCE($7, repayment_on_time),
			outstanding_loan_amount = COALESCE($8, outstanding_loan_amount),
			has_bank_account = COALESCE($9, has_bank_account),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + memberColumns
	var language *string
	if update.Language != nil {
		l := string(*update.Language)
		language = &l
	}
	return scanMember(r.db.QueryRow(ctx, query,
		memberID, update.FullName, language, update.JoinedOn, update.TenureMonths, update.LoansCompleted,
		update.RepaymentOnTime, update.OutstandingLoanAmount, update.HasBankAccount,
	))
}

// SwapConversation is a compare-and-set on the conversation state tag.
func (r *PostgresRepository) SwapConversation(ctx context.Context, memberID uuid.UUID, from domain.ConversationState, next domain.Conversation) (bool, error) {
	state, payload, err := domain.EncodeConversation(next)
	if err != nil {
		return false, err
	}
	query := `
		UPDATE members
		SET conversation_state = $3, conversation_context = $4, updated_at = NOW()
		WHERE id = $1 AND conversation_state = $2
	`
	result, err := r.db.Exec(ctx, query, memberID, string(from), state, payload)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// applyBalancesQuery floors the outstanding amount after repayments and before disbursements.
const applyBalancesQuery = `
	UPDATE members
	SET total_contributed = total_contributed + $2,
		outstanding_loan_amount = GREATEST(0, outstanding_loan_amount - $3) + $4,
		updated_at = NOW()
	WHERE id = $1
`

func applyBalances(ctx context.Context, tx pgx.Tx, memberID uuid.UUID, effect domain.BalanceEffect) error {
	result, err := tx.Exec(ctx, applyBalancesQuery, memberID, effect.Contributed, effect.Repaid, effect.Disbursed)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

const transactionColumns = `id, member_id, group_id, type, amount, actual_date, days_late, verified_by_member, note, created_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(&tx.ID, &tx.MemberID, &tx.GroupID, &tx.Type, &tx.Amount, &tx.ActualDate,
		&tx.DaysLate, &tx.VerifiedByMember, &tx.Note, &tx.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	defer rows.Close()
	var out []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// rowQuerier is satisfied by both the pool and an open transaction.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertTransaction(ctx context.Context, q rowQuerier, record *domain.Transaction) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	query := `
		INSERT INTO transactions (id, member_id, group_id, type, amount, actual_date, days_late, verified_by_member, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	return q.QueryRow(ctx, query,
		record.ID, record.MemberID, record.GroupID, record.Type, record.Amount, record.ActualDate,
		record.DaysLate, record.VerifiedByMember, record.Note,
	).Scan(&record.CreatedAt)
}

// RecordTransactions inserts ledger records and updates the member's running balances in
// one database transaction.
func (r *PostgresRepository) RecordTransactions(ctx context.Context, memberID uuid.UUID, records []*domain.Transaction) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, record := range records {
		if err := insertTransaction(ctx, tx, record); err != nil {
			return err
		}
	}
	if err := applyBalances(ctx, tx, memberID, domain.BalanceEffectOf(records)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FindTransactionByID retrieves a transaction by its ID.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, transactionID))
}

// FindTransactionsByMemberID returns a member's transactions in ascending actual date order.
func (r *PostgresRepository) FindTransactionsByMemberID(ctx context.Context, memberID uuid.UUID) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE member_id = $1 ORDER BY actual_date ASC, created_at ASC`, memberID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// FindRecentTransactionsByMemberID returns a member's newest transactions.
func (r *PostgresRepository) FindRecentTransactionsByMemberID(ctx context.Context, memberID uuid.UUID, limit int) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE member_id = $1 ORDER BY actual_date DESC, created_at DESC LIMIT $2`, memberID, limit)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// FindRecentTransactionsByGroupID returns a group's newest transactions.
func (r *PostgresRepository) FindRecentTransactionsByGroupID(ctx context.Context, groupID uuid.UUID, limit int) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE group_id = $1 ORDER BY actual_date DESC, created_at DESC LIMIT $2`, groupID, limit)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// FindEarliestGroupTransaction returns the first transaction recorded for a group.
func (r *PostgresRepository) FindEarliestGroupTransaction(ctx context.Context, groupID uuid.UUID) (*domain.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE group_id = $1 ORDER BY created_at ASC LIMIT 1`, groupID))
}

// SumTransactionsByType totals a member's transactions of one type.
func (r *PostgresRepository) SumTransactionsByType(ctx context.Context, memberID uuid.UUID, txType domain.TransactionType) (float64, error) {
	var total float64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE member_id = $1 AND type = $2`, memberID, txType).Scan(&total)
	return total, err
}

// MarkTransactionVerified records the member's confirmation of a transaction.
func (r *PostgresRepository) MarkTransactionVerified(ctx context.Context, transactionID uuid.UUID) error {
	return r.execOne(ctx, ErrTransactionNotFound, `UPDATE transactions SET verified_by_member = TRUE WHERE id = $1`, transactionID)
}

// FlagTransaction stores a dispute note on a transaction.
func (r *PostgresRepository) FlagTransaction(ctx context.Context, transactionID uuid.UUID, note string) error {
	return r.execOne(ctx, ErrTransactionNotFound, `UPDATE transactions SET note = $2 WHERE id = $1`, transactionID, note)
}

// FindAttendanceByMemberID returns all meeting attendance rows for a member.
func (r *PostgresRepository) FindAttendanceByMemberID(ctx context.Context, memberID uuid.UUID) ([]domain.MeetingAttendance, error) {
	query := `
		SELECT id, member_id, meeting_id, meeting_date, attended
		FROM meeting_attendances WHERE member_id = $1
		ORDER BY meeting_date ASC
	`
	rows, err := r.db.Query(ctx, query, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MeetingAttendance
	for rows.Next() {
		var a domain.MeetingAttendance
		if err := rows.Scan(&a.ID, &a.MemberID, &a.MeetingID, &a.MeetingDate, &a.Attended); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const loanColumns = `id, member_id, group_id, amount, purpose, repayment_months, status, has_outstanding_loan, requested_at, resolved_at`

func scanLoan(row pgx.Row) (*domain.LoanRequest, error) {
	var l domain.LoanRequest
	err := row.Scan(&l.ID, &l.MemberID, &l.GroupID, &l.Amount, &l.Purpose, &l.RepaymentMonths,
		&l.Status, &l.HasOutstandingLoan, &l.RequestedAt, &l.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLoanRequestNotFound
		}
		return nil, err
	}
	return &l, nil
}

func collectLoans(rows pgx.Rows) ([]domain.LoanRequest, error) {
	defer rows.Close()
	var out []domain.LoanRequest
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// CreateLoanRequest inserts a new PENDING loan request.
func (r *PostgresRepository) CreateLoanRequest(ctx context.Context, loan *domain.LoanRequest) error {
	if loan.ID == uuid.Nil {
		loan.ID = uuid.New()
	}
	loan.Status = domain.LoanPending
	query := `
		INSERT INTO loan_requests (id, member_id, group_id, amount, purpose, repayment_months, status, has_outstanding_loan)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING requested_at
	`
	return r.db.QueryRow(ctx, query,
		loan.ID, loan.MemberID, loan.GroupID, loan.Amount, loan.Purpose, loan.RepaymentMonths, loan.Status, loan.HasOutstandingLoan,
	).Scan(&loan.RequestedAt)
}

// FindLoanRequestByID retrieves a loan request by its ID.
func (r *PostgresRepository) FindLoanRequestByID(ctx context.Context, loanID uuid.UUID) (*domain.LoanRequest, error) {
	return scanLoan(r.db.QueryRow(ctx, `SELECT `+loanColumns+` FROM loan_requests WHERE id = $1`, loanID))
}

// FindLoanRequestsByMemberID returns every loan request of a member, oldest first.
func (r *PostgresRepository) FindLoanRequestsByMemberID(ctx context.Context, memberID uuid.UUID) ([]domain.LoanRequest, error) {
	rows, err := r.db.Query(ctx, `SELECT `+loanColumns+` FROM loan_requests WHERE member_id = $1 ORDER BY requested_at ASC`, memberID)
	if err != nil {
		return nil, err
	}
	return collectLoans(rows)
}

// FindRecentLoanRequests returns the newest loan requests of a member in the given statuses.
func (r *PostgresRepository) FindRecentLoanRequests(ctx context.Context, memberID uuid.UUID, statuses []domain.LoanStatus, limit int) ([]domain.LoanRequest, error) {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}
	query := `
		SELECT ` + loanColumns + `
		FROM loan_requests
		WHERE member_id = $1 AND status = ANY($2)
		ORDER BY requested_at DESC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, memberID, values, limit)
	if err != nil {
		return nil, err
	}
	return collectLoans(rows)
}

// FindLoanRequestsByGroupID returns a group's loan requests, newest first, optionally of one status.
func (r *PostgresRepository) FindLoanRequestsByGroupID(ctx context.Context, groupID uuid.UUID, status domain.LoanStatus) ([]domain.LoanRequest, error) {
	query := `SELECT ` + loanColumns + ` FROM loan_requests WHERE group_id = $1`
	args := []any{groupID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY requested_at DESC`
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectLoans(rows)
}

const transitionLoanQuery = `
	UPDATE loan_requests
	SET status = $3, resolved_at = COALESCE(resolved_at, $4)
	WHERE id = $1 AND status = $2
	RETURNING ` + loanColumns

// TransitionLoanRequest performs a guarded status update so that transitions stay monotonic.
func (r *PostgresRepository) TransitionLoanRequest(ctx context.Context, loanID uuid.UUID, from, to domain.LoanStatus, at time.Time) (*domain.LoanRequest, error) {
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrLoanTransitionNotAllowed, from, to)
	}
	loan, err := scanLoan(r.db.QueryRow(ctx, transitionLoanQuery, loanID, from, to, at))
	if errors.Is(err, ErrLoanRequestNotFound) {
		return nil, r.missedTransition(ctx, loanID, from)
	}
	return loan, err
}

// ApproveLoanRequest approves a pending loan and books its disbursement in one database
// transaction, so a failure part way leaves the loan PENDING and the ledger untouched.
func (r *PostgresRepository) ApproveLoanRequest(ctx context.Context, loanID uuid.UUID, at time.Time) (*domain.LoanRequest, *domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	loan, err := scanLoan(tx.QueryRow(ctx, transitionLoanQuery, loanID, domain.LoanPending, domain.LoanApproved, at))
	if errors.Is(err, ErrLoanRequestNotFound) {
		return nil, nil, r.missedTransition(ctx, loanID, domain.LoanPending)
	}
	if err != nil {
		return nil, nil, err
	}

	disbursement := domain.DisbursementFor(loan, at)
	if err := insertTransaction(ctx, tx, disbursement); err != nil {
		return nil, nil, err
	}
	if err := applyBalances(ctx, tx, loan.MemberID, domain.BalanceEffect{Disbursed: loan.Amount}); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return loan, disbursement, nil
}

// missedTransition distinguishes a missing loan from one that has already moved on.
func (r *PostgresRepository) missedTransition(ctx context.Context, loanID uuid.UUID, from domain.LoanStatus) error {
	if _, err := r.FindLoanRequestByID(ctx, loanID); err != nil {
		return err
	}
	return fmt.Errorf("%w: loan is not %s", ErrLoanTransitionNotAllowed, from)
}

const schemeColumns = `id, member_id, scheme_name, is_eligible, notified, notified_at, created_at, updated_at`

// FindSchemeEligibilities returns the stored eligibility rows for a member.
func (r *PostgresRepository) FindSchemeEligibilities(ctx context.Context, memberID uuid.UUID) ([]domain.SchemeEligibility, error) {
	rows, err := r.db.Query(ctx, `SELECT `+schemeColumns+` FROM scheme_eligibilities WHERE member_id = $1 ORDER BY created_at ASC`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SchemeEligibility
	for rows.Next() {
		var s domain.SchemeEligibility
		if err := rows.Scan(&s.ID, &s.MemberID, &s.SchemeName, &s.IsEligible, &s.Notified, &s.NotifiedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateSchemeEligibility inserts the first evaluation of a scheme for a member. A row that
// was created concurrently by another evaluation is left untouched.
func (r *PostgresRepository) CreateSchemeEligibility(ctx context.Context, row *domain.SchemeEligibility) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	query := `
		INSERT INTO scheme_eligibilities (id, member_id, scheme_name, is_eligible, notified)
		VALUES ($1, $2, $3, $4, FALSE)
		ON CONFLICT (member_id, scheme_name) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, row.ID, row.MemberID, row.SchemeName, row.IsEligible)
	return err
}

// UpdateSchemeEligibility overwrites the eligibility flag of a row.
func (r *PostgresRepository) UpdateSchemeEligibility(ctx context.Context, rowID uuid.UUID, isEligible bool) error {
	query := `UPDATE scheme_eligibilities SET is_eligible = $2, updated_at = NOW() WHERE id = $1`
	return r.execOne(ctx, ErrSchemeEligibilityNotFound, query, rowID, isEligible)
}

// MarkSchemeNotified claims the one notification of a scheme row. The flag never moves back
// to false, so of two concurrent evaluations only one sees a row affected.
func (r *PostgresRepository) MarkSchemeNotified(ctx context.Context, rowID uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE scheme_eligibilities
		SET notified = TRUE, notified_at = $2, updated_at = NOW()
		WHERE id = $1 AND notified = FALSE
	`
	result, err := r.db.Exec(ctx, query, rowID, at)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, notFound error, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return notFound
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
