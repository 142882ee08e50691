package chat

import (
	"context"
	"errors"

	"github.com/Kundhave/Sakhi/internal/domain"
	"github.com/Kundhave/Sakhi/internal/store"
)

var loanPurposes = map[string]domain.LoanPurpose{
	"1": domain.PurposeAgriculture,
	"2": domain.PurposeBusiness,
	"3": domain.PurposeEducation,
	"4": domain.PurposeMedical,
	"5": domain.PurposeHomeRepair,
	"6": domain.PurposeFamilyFunction,
	"7": domain.PurposeOther,
}

func (m *Machine) loanAmount(ctx context.Context, tr *turn) (result, error) {
	amount, ok := parseAmount(tr.text)
	if !ok {
		return reply(tr.t.Reprompt(tr.t.AskLoanAmount())), nil
	}
	return advance(domain.AwaitLoanPurpose{Amount: amount}, tr.t.AskLoanPurpose()), nil
}

func (m *Machine) loanPurpose(ctx context.Context, tr *turn) (result, error) {
	c := tr.conversation.(domain.AwaitLoanPurpose)
	purpose, ok := loanPurposes[tr.text]
	if !ok {
		return reply(tr.t.Reprompt(tr.t.AskLoanPurpose())), nil
	}
	return advance(domain.AwaitLoanMonths{Amount: c.Amount, Purpose: purpose}, tr.t.AskLoanMonths()), nil
}

func (m *Machine) loanMonths(ctx context.Context, tr *turn) (result, error) {
	c := tr.conversation.(domain.AwaitLoanMonths)
	months, ok := parseMonths(tr.text)
	if !ok {
		return reply(tr.t.Reprompt(tr.t.AskLoanMonths())), nil
	}
	return advance(
		domain.AwaitOutstandingCheck{Amount: c.Amount, Purpose: c.Purpose, RepaymentMonths: months},
		tr.t.AskOutstanding(),
	), nil
}

// outstandingCheck submits the loan request on either answer and tells the group leader.
func (m *Machine) outstandingCheck(ctx context.Context, tr *turn) (result, error) {
	c := tr.conversation.(domain.AwaitOutstandingCheck)
	if tr.text != "1" && tr.text != "2" {
		return reply(tr.t.Reprompt(tr.t.AskOutstanding())), nil
	}
	hasOutstanding := tr.text == "1"

	return result{
		reply: tr.t.LoanSubmitted(c.Amount),
		next:  domain.Idle{},
		commit: func(ctx context.Context) error {
			loan, err := m.records.SubmitLoanRequest(ctx, tr.member, c.Amount, c.Purpose, c.RepaymentMonths, &hasOutstanding)
			if err != nil {
				return err
			}
			m.notifyLeader(ctx, tr.member, loan)
			return nil
		},
	}, nil
}

// notifyLeader sends the new request to the group leader with the member's current score.
// Leaders are addressed in English.
func (m *Machine) notifyLeader(ctx context.Context, member *domain.Member, loan *domain.LoanRequest) {
	group, err := m.repo.FindGroupByID(ctx, member.GroupID)
	if err != nil {
		if !errors.Is(err, store.ErrGroupNotFound) {
			m.logger.Error("group lookup for leader notification failed", "member_id", member.ID, "error", err)
		}
		return
	}
	if group.LeaderPhone == "" {
		return
	}

	text := m.messages.English().LeaderLoanRequest(member.FullName, loan.Amount, loan.Purpose, loan.RepaymentMonths, member.CreditScore)
	if err := m.sender.Send(ctx, group.LeaderPhone, text); err != nil {
		m.logger.Error("leader notification failed", "member_id", member.ID, "loan_request_id", loan.ID, "error", err)
	}
}
