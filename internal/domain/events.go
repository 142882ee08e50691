package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys published on the events exchange.
const (
	EventTransactionRecorded = "transaction.recorded"
	EventLoanRequested       = "loan.requested"
	EventLoanResolved        = "loan.resolved"
	EventScoreUpdated        = "score.updated"
	EventSchemeEligible      = "scheme.eligible"
)

// TransactionRecordedEvent is published after a transaction row is written.
type TransactionRecordedEvent struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	MemberID      uuid.UUID       `json:"member_id"`
	GroupID       uuid.UUID       `json:"group_id"`
	Type          TransactionType `json:"type"`
	Amount        float64         `json:"amount"`
	Source        string          `json:"source"` // "chat" or "leader"
	Timestamp     time.Time       `json:"timestamp"`
}

// LoanEvent is published when a loan request is created or resolved.
type LoanEvent struct {
	LoanRequestID uuid.UUID   `json:"loan_request_id"`
	MemberID      uuid.UUID   `json:"member_id"`
	GroupID       uuid.UUID   `json:"group_id"`
	Amount        float64     `json:"amount"`
	Purpose       LoanPurpose `json:"purpose"`
	Status        LoanStatus  `json:"status"`
	Timestamp     time.Time   `json:"timestamp"`
}

// ScoreUpdatedEvent is published after the scoring engine persists a score.
type ScoreUpdatedEvent struct {
	MemberID   uuid.UUID       `json:"member_id"`
	Score      float64         `json:"score"`
	Band       ScoreBand       `json:"band"`
	Confidence ScoreConfidence `json:"confidence"`
	Timestamp  time.Time       `json:"timestamp"`
}

// SchemeEligibleEvent is published when a member gains eligibility for a scheme.
type SchemeEligibleEvent struct {
	MemberID   uuid.UUID  `json:"member_id"`
	SchemeName SchemeName `json:"scheme_name"`
	Timestamp  time.Time  `json:"timestamp"`
}

// InboundMessage is one message received from any chat transport.
type InboundMessage struct {
	From     string `json:"from"`
	Text     string `json:"text"`
	IsGroup  bool   `json:"is_group"`
	IsStatus bool   `json:"is_status"`
	Channel  string `json:"channel,omitempty"`
}
