/**
 * @description
 * This file defines the per-member conversation register used by the chat state machine.
 * A conversation is a tagged union: the state tag selects exactly one payload type, so a
 * half-filled loan context can never sit next to a contribution state.
 *
 * @notes
 * - The union is persisted as (state text, payload jsonb). DecodeConversation rejects
 *   unknown tags and payloads that fail validation with ErrUnknownConversationState; the
 *   state machine recovers from that by resetting the member to the menu.
 */

package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ConversationState is the persisted tag of a conversation.
type ConversationState string

const (
	StateIdle                  ConversationState = "IDLE"
	StateAwaitMenuChoice       ConversationState = "AWAIT_MENU_CHOICE"
	StateAwaitContribution     ConversationState = "AWAIT_CONTRIBUTION"
	StateAwaitRepaymentCheck   ConversationState = "AWAIT_REPAYMENT_CHECK"
	StateAwaitRepaymentAmount  ConversationState = "AWAIT_REPAYMENT_AMOUNT"
	StateConfirmCheckin        ConversationState = "CONFIRM_CHECKIN"
	StateAwaitLoanAmount       ConversationState = "AWAIT_LOAN_AMOUNT"
	StateAwaitLoanPurpose      ConversationState = "AWAIT_LOAN_PURPOSE"
	StateAwaitLoanMonths       ConversationState = "AWAIT_LOAN_MONTHS"
	StateAwaitOutstandingCheck ConversationState = "AWAIT_OUTSTANDING_CHECK"
	StateAwaitVerification     ConversationState = "AWAIT_VERIFICATION"
)

// ErrUnknownConversationState is returned when a persisted conversation cannot be decoded.
var ErrUnknownConversationState = errors.New("unknown conversation state")

// Conversation is implemented by every state payload.
type Conversation interface {
	State() ConversationState
	validate() error
}

type Idle struct{}

type AwaitMenuChoice struct{}

type AwaitContribution struct{}

type AwaitRepaymentCheck struct {
	Contribution float64 `json:"contribution"`
}

type AwaitRepaymentAmount struct {
	Contribution float64 `json:"contribution"`
}

// ConfirmCheckin holds a fully collected check-in. Repayment is nil when the member said
// there is no repayment this month.
type ConfirmCheckin struct {
	Contribution float64  `json:"contribution"`
	Repayment    *float64 `json:"repayment"`
}

type AwaitLoanAmount struct{}

type AwaitLoanPurpose struct {
	Amount float64 `json:"loan_amount"`
}

type AwaitLoanMonths struct {
	Amount  float64     `json:"loan_amount"`
	Purpose LoanPurpose `json:"loan_purpose"`
}

type AwaitOutstandingCheck struct {
	Amount          float64     `json:"loan_amount"`
	Purpose         LoanPurpose `json:"loan_purpose"`
	RepaymentMonths int         `json:"repayment_months"`
}

// AwaitVerification asks the member to confirm a leader-entered transaction.
type AwaitVerification struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Action        TransactionType `json:"action"`
	Amount        float64         `json:"amount"`
}

func (Idle) State() ConversationState                  { return StateIdle }
func (AwaitMenuChoice) State() ConversationState       { return StateAwaitMenuChoice }
func (AwaitContribution) State() ConversationState     { return StateAwaitContribution }
func (AwaitRepaymentCheck) State() ConversationState   { return StateAwaitRepaymentCheck }
func (AwaitRepaymentAmount) State() ConversationState  { return StateAwaitRepaymentAmount }
func (ConfirmCheckin) State() ConversationState        { return StateConfirmCheckin }
func (AwaitLoanAmount) State() ConversationState       { return StateAwaitLoanAmount }
func (AwaitLoanPurpose) State() ConversationState      { return StateAwaitLoanPurpose }
func (AwaitLoanMonths) State() ConversationState       { return StateAwaitLoanMonths }
func (AwaitOutstandingCheck) State() ConversationState { return StateAwaitOutstandingCheck }
func (AwaitVerification) State() ConversationState     { return StateAwaitVerification }

func (Idle) validate() error              { return nil }
func (AwaitMenuChoice) validate() error   { return nil }
func (AwaitContribution) validate() error { return nil }
func (AwaitLoanAmount) validate() error   { return nil }

func (c AwaitRepaymentCheck) validate() error  { return positive("contribution", c.Contribution) }
func (c AwaitRepaymentAmount) validate() error { return positive("contribution", c.Contribution) }

func (c ConfirmCheckin) validate() error {
	if err := positive("contribution", c.Contribution); err != nil {
		return err
	}
	if c.Repayment != nil {
		return positive("repayment", *c.Repayment)
	}
	return nil
}

func (c AwaitLoanPurpose) validate() error { return positive("loan_amount", c.Amount) }

func (c AwaitLoanMonths) validate() error {
	if err := positive("loan_amount", c.Amount); err != nil {
		return err
	}
	if c.Purpose == "" {
		return errors.New("loan_purpose missing")
	}
	return nil
}

func (c AwaitOutstandingCheck) validate() error {
	if err := (AwaitLoanMonths{Amount: c.Amount, Purpose: c.Purpose}).validate(); err != nil {
		return err
	}
	if c.RepaymentMonths <= 0 || c.RepaymentMonths > MaxRepaymentMonths {
		return fmt.Errorf("repayment_months out of range: %d", c.RepaymentMonths)
	}
	return nil
}

func (c AwaitVerification) validate() error {
	if c.TransactionID == uuid.Nil {
		return errors.New("transaction_id missing")
	}
	return nil
}

// MaxRepaymentMonths is the longest repayment term a member can ask for.
const MaxRepaymentMonths = 60

func positive(field string, v float64) error {
	if v <= 0 {
		return fmt.Errorf("%s must be positive, got %v", field, v)
	}
	return nil
}

// Unrecognized wraps a persisted conversation that failed to decode. It is never encoded;
// the state machine replaces it with a fresh menu conversation.
type Unrecognized struct {
	Tag string
	Err error
}

func (u Unrecognized) State() ConversationState { return ConversationState(u.Tag) }
func (u Unrecognized) validate() error          { return u.Err }

// LoadConversation decodes a persisted conversation, returning Unrecognized instead of an error.
func LoadConversation(state string, payload []byte) Conversation {
	c, err := DecodeConversation(state, payload)
	if err != nil {
		return Unrecognized{Tag: state, Err: err}
	}
	return c
}

// EncodeConversation returns the state tag and JSON payload to persist. A nil conversation
// encodes as idle.
func EncodeConversation(c Conversation) (ConversationState, []byte, error) {
	if c == nil {
		c = Idle{}
	}
	if u, ok := c.(Unrecognized); ok {
		return "", nil, fmt.Errorf("%w: cannot persist %q", ErrUnknownConversationState, u.Tag)
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s payload: %w", c.State(), err)
	}
	return c.State(), payload, nil
}

// DecodeConversation rebuilds a conversation from its persisted form. An empty tag is idle.
func DecodeConversation(state string, payload []byte) (Conversation, error) {
	var c Conversation
	switch ConversationState(strings.TrimSpace(state)) {
	case "", StateIdle:
		return Idle{}, nil
	case StateAwaitMenuChoice:
		return AwaitMenuChoice{}, nil
	case StateAwaitContribution:
		return AwaitContribution{}, nil
	case StateAwaitLoanAmount:
		return AwaitLoanAmount{}, nil
	case StateAwaitRepaymentCheck:
		c = decodeInto[AwaitRepaymentCheck](payload)
	case StateAwaitRepaymentAmount:
		c = decodeInto[AwaitRepaymentAmount](payload)
	case StateConfirmCheckin:
		c = decodeInto[ConfirmCheckin](payload)
	case StateAwaitLoanPurpose:
		c = decodeInto[AwaitLoanPurpose](payload)
	case StateAwaitLoanMonths:
		c = decodeInto[AwaitLoanMonths](payload)
	case StateAwaitOutstandingCheck:
		c = decodeInto[AwaitOutstandingCheck](payload)
	case StateAwaitVerification:
		c = decodeInto[AwaitVerification](payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownConversationState, state)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s payload is not valid json", ErrUnknownConversationState, state)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownConversationState, state, err)
	}
	return c, nil
}

func decodeInto[T Conversation](payload []byte) Conversation {
	var v T
	if len(payload) == 0 {
		return v
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil
	}
	return v
}
