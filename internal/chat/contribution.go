package chat

import (
	"context"

	"github.com/Kundhave/Sakhi/internal/domain"
)

func (m *Machine) contribution(ctx context.Context, tr *turn) (result, error) {
	amount, ok := parseAmount(tr.text)
	if !ok {
		return reply(tr.t.Reprompt(tr.t.AskContribution())), nil
	}
	return advance(domain.AwaitRepaymentCheck{Contribution: amount}, tr.t.AskRepayment()), nil
}

func (m *Machine) repaymentCheck(ctx context.Context, tr *turn) (result, error) {
	c := tr.conversation.(domain.AwaitRepaymentCheck)
	switch tr.text {
	case "1":
		return advance(domain.AwaitRepaymentAmount(c), tr.t.AskRepaymentAmount()), nil
	case "2":
		return advance(domain.ConfirmCheckin{Contribution: c.Contribution}, tr.t.ConfirmCheckin(c.Contribution, nil)), nil
	default:
		return reply(tr.t.Reprompt(tr.t.AskRepayment())), nil
	}
}

func (m *Machine) repaymentAmount(ctx context.Context, tr *turn) (result, error) {
	c := tr.conversation.(domain.AwaitRepaymentAmount)
	amount, ok := parseAmount(tr.text)
	if !ok {
		return reply(tr.t.Reprompt(tr.t.AskRepaymentAmount())), nil
	}
	return advance(
		domain.ConfirmCheckin{Contribution: c.Contribution, Repayment: &amount},
		tr.t.ConfirmCheckin(c.Contribution, &amount),
	), nil
}

// confirmCheckin commits the check-in on "1" and restarts it on "2".
func (m *Machine) confirmCheckin(ctx context.Context, tr *turn) (result, error) {
	c := tr.conversation.(domain.ConfirmCheckin)
	switch tr.text {
	case "1":
		return result{
			reply: tr.t.SavedSuccess(),
			next:  domain.Idle{},
			commit: func(ctx context.Context) error {
				return m.records.RecordCheckin(ctx, tr.member, c.Contribution, c.Repayment)
			},
		}, nil
	case "2":
		return advance(domain.AwaitContribution{}, tr.t.AskContribution()), nil
	default:
		return reply(tr.t.Reprompt(tr.t.ConfirmCheckin(c.Contribution, c.Repayment))), nil
	}
}
