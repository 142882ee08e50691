/**
 * @description
 * This file defines the core member-side domain models for the Sakhi service: the SHG group,
 * its members, meeting attendance and the credit score attached to every member.
 *
 * @notes
 * - Amounts are rupee values kept as float64; the scoring maths (means, regression,
 *   coefficient of variation) works on real numbers and the chat flow accepts paise.
 * - A member's channel identifier is either a phone number or "TG_<telegram user id>".
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Language selects the message catalog used when talking to a member.
type Language string

const (
	LanguageEnglish Language = "ENGLISH"
	LanguageHindi   Language = "HINDI"
	LanguageTamil   Language = "TAMIL"
	LanguageTelugu  Language = "TELUGU"
)

// ScoreBand is the coarse label derived from a numeric credit score.
type ScoreBand string

const (
	BandExcellent        ScoreBand = "EXCELLENT"
	BandGood             ScoreBand = "GOOD"
	BandFair             ScoreBand = "FAIR"
	BandNeedsImprovement ScoreBand = "NEEDS_IMPROVEMENT"
)

// BandForScore maps a 0..100 score onto its band.
func BandForScore(score float64) ScoreBand {
	switch {
	case score >= 80:
		return BandExcellent
	case score >= 60:
		return BandGood
	case score >= 40:
		return BandFair
	default:
		return BandNeedsImprovement
	}
}

// ScoreConfidence reflects how much dated transaction history backs a score.
type ScoreConfidence string

const (
	ConfidenceLow    ScoreConfidence = "LOW"
	ConfidenceMedium ScoreConfidence = "MEDIUM"
	ConfidenceHigh   ScoreConfidence = "HIGH"
)

// ConfidenceForMonths maps the number of distinct active months onto a confidence label.
func ConfidenceForMonths(monthsWithData int) ScoreConfidence {
	switch {
	case monthsWithData >= 6:
		return ConfidenceHigh
	case monthsWithData >= 1:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// CreditScore is the output of the scoring engine and the persisted score fields of a member.
type CreditScore struct {
	Score      float64         `json:"score"`
	Band       ScoreBand       `json:"band"`
	Confidence ScoreConfidence `json:"confidence"`
}

// Group is a self-help group. One group owns many members.
type Group struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Village      string    `json:"village"`
	District     string    `json:"district"`
	State        string    `json:"state"`
	FormedOn     time.Time `json:"formed_on"`
	LeaderName   string    `json:"leader_name"`
	LeaderPhone  string    `json:"leader_phone"`
	CorpusAmount float64   `json:"corpus_amount"`
	LoanCycles   int       `json:"loan_cycles"`
	CreatedAt    time.Time `json:"created_at"`
}

// Member maps to the `members` table.
type Member struct {
	ID        uuid.UUID `json:"id"`
	GroupID   uuid.UUID `json:"group_id"`
	ChannelID string    `json:"channel_id"`
	FullName  string    `json:"full_name"`
	Language  Language  `json:"language"`
	JoinedOn  time.Time `json:"joined_on"`

	// Onboarding snapshot used by the founding score.
	TenureMonths          int     `json:"tenure_months"`
	LoansCompleted        int     `json:"loans_completed"`
	RepaymentOnTime       bool    `json:"repayment_on_time"`
	OutstandingLoanAmount float64 `json:"outstanding_loan_amount"`
	HasBankAccount        bool    `json:"has_bank_account"`

	TotalContributed float64 `json:"total_contributed"`

	CreditScore     float64         `json:"credit_score"`
	ScoreBand       ScoreBand       `json:"score_band"`
	ScoreConfidence ScoreConfidence `json:"score_confidence"`

	// Conversation is written only by the chat state machine.
	Conversation Conversation `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Score returns the persisted score fields as a CreditScore.
func (m *Member) Score() CreditScore {
	return CreditScore{Score: m.CreditScore, Band: m.ScoreBand, Confidence: m.ScoreConfidence}
}

// MeetingAttendance records whether a member attended one group meeting.
type MeetingAttendance struct {
	ID          uuid.UUID `json:"id"`
	MemberID    uuid.UUID `json:"member_id"`
	MeetingID   uuid.UUID `json:"meeting_id"`
	MeetingDate time.Time `json:"meeting_date"`
	Attended    bool      `json:"attended"`
}

// CreateGroupRequest is the DTO for administrative group registration.
type CreateGroupRequest struct {
	Name         string    `json:"name"`
	Village      string    `json:"village"`
	District     string    `json:"district"`
	State        string    `json:"state"`
	FormedOn     time.Time `json:"formed_on"`
	LeaderName   string    `json:"leader_name"`
	LeaderPhone  string    `json:"leader_phone"`
	CorpusAmount float64   `json:"corpus_amount"`
	LoanCycles   int       `json:"loan_cycles"`
}

// CreateMemberRequest is the DTO for administrative member registration.
type CreateMemberRequest struct {
	GroupID               uuid.UUID  `json:"group_id"`
	ChannelID             string     `json:"channel_id"`
	FullName              string     `json:"full_name"`
	Language              Language   `json:"language"`
	JoinedOn              *time.Time `json:"joined_on"`
	TenureMonths          int        `json:"tenure_months"`
	LoansCompleted        int        `json:"loans_completed"`
	RepaymentOnTime       *bool      `json:"repayment_on_time"`
	OutstandingLoanAmount float64    `json:"outstanding_loan_amount"`
	HasBankAccount        bool       `json:"has_bank_account"`
	TotalContributed      float64    `json:"total_contributed"`
}

// UpdateMemberProfileRequest is the DTO for a leader's correction of a member's profile. Nil
// fields are left unchanged.
type UpdateMemberProfileRequest struct {
	FullName              *string    `json:"full_name"`
	Language              *Language  `json:"language"`
	JoinedOn              *time.Time `json:"joined_on"`
	TenureMonths          *int       `json:"tenure_months"`
	LoansCompleted        *int       `json:"loans_completed"`
	RepaymentOnTime       *bool      `json:"repayment_on_time"`
	OutstandingLoanAmount *float64   `json:"outstanding_loan_amount"`
	HasBankAccount        *bool      `json:"has_bank_account"`
}

// Apply copies the non-nil fields onto m.
func (r UpdateMemberProfileRequest) Apply(m *Member) {
	if r.FullName != nil {
		m.FullName = *r.FullName
	}
	if r.Language != nil {
		m.Language = *r.Language
	}
	if r.JoinedOn != nil {
		m.JoinedOn = *r.JoinedOn
	}
	if r.TenureMonths != nil {
		m.TenureMonths = *r.TenureMonths
	}
	if r.LoansCompleted != nil {
		m.LoansCompleted = *r.LoansCompleted
	}
	if r.RepaymentOnTime != nil {
		m.RepaymentOnTime = *r.RepaymentOnTime
	}
	if r.OutstandingLoanAmount != nil {
		m.OutstandingLoanAmount = *r.OutstandingLoanAmount
	}
	if r.HasBankAccount != nil {
		m.HasBankAccount = *r.HasBankAccount
	}
}
