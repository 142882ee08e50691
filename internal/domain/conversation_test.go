package domain

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestConversationRoundTripKeepsPayload(t *testing.T) {
	repayment := 250.0
	txID := uuid.New()
	tests := []Conversation{
		Idle{},
		AwaitMenuChoice{},
		AwaitRepaymentCheck{Contribution: 500},
		ConfirmCheckin{Contribution: 500},
		ConfirmCheckin{Contribution: 500, Repayment: &repayment},
		AwaitOutstandingCheck{Amount: 10000, Purpose: PurposeBusiness, RepaymentMonths: 12},
		AwaitVerification{TransactionID: txID, Action: TransactionContribution, Amount: 300},
	}

	for _, want := range tests {
		t.Run(string(want.State()), func(t *testing.T) {
			state, payload, err := EncodeConversation(want)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := DecodeConversation(string(state), payload)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("conversation mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeConversationRejectsCorruptedState(t *testing.T) {
	tests := []struct {
		name    string
		state   string
		payload string
	}{
		{name: "unknown tag", state: "AWAIT_SOMETHING", payload: `{}`},
		{name: "bad json", state: "CONFIRM_CHECKIN", payload: `{"contribution":`},
		{name: "missing contribution", state: "AWAIT_REPAYMENT_CHECK", payload: `{}`},
		{name: "months out of range", state: "AWAIT_OUTSTANDING_CHECK", payload: `{"loan_amount":100,"loan_purpose":"BUSINESS","repayment_months":61}`},
		{name: "verification without transaction", state: "AWAIT_VERIFICATION", payload: `{"amount":10}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeConversation(tt.state, []byte(tt.payload))
			if !errors.Is(err, ErrUnknownConversationState) {
				t.Fatalf("expected ErrUnknownConversationState, got %v", err)
			}
		})
	}
}

func TestDecodeConversationEmptyTagIsIdle(t *testing.T) {
	got, err := DecodeConversation("", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.State() != StateIdle {
		t.Fatalf("expected IDLE, got %s", got.State())
	}
}

func TestBandAndConfidenceThresholds(t *testing.T) {
	bands := map[float64]ScoreBand{
		100: BandExcellent, 80: BandExcellent, 79.9: BandGood, 60: BandGood,
		59.9: BandFair, 40: BandFair, 39.9: BandNeedsImprovement, 0: BandNeedsImprovement,
	}
	for score, want := range bands {
		if got := BandForScore(score); got != want {
			t.Errorf("BandForScore(%v) = %s, want %s", score, got, want)
		}
	}

	confidence := map[int]ScoreConfidence{0: ConfidenceLow, 1: ConfidenceMedium, 5: ConfidenceMedium, 6: ConfidenceHigh, 24: ConfidenceHigh}
	for months, want := range confidence {
		if got := ConfidenceForMonths(months); got != want {
			t.Errorf("ConfidenceForMonths(%d) = %s, want %s", months, got, want)
		}
	}
}

func TestLoanStatusTransitionsAreOneDirectional(t *testing.T) {
	allowed := map[[2]LoanStatus]bool{
		{LoanPending, LoanApproved}:   true,
		{LoanPending, LoanRejected}:   true,
		{LoanApproved, LoanDisbursed}: true,
	}
	all := []LoanStatus{LoanPending, LoanApproved, LoanRejected, LoanDisbursed}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]LoanStatus{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s: got %t, want %t", from, to, got, want)
			}
		}
	}
}
