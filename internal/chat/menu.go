package chat

import (
	"context"

	"github.com/Kundhave/Sakhi/internal/domain"
)

// infoFlow names a read-only flow reached from the main menu.
type infoFlow string

const (
	infoScore   infoFlow = "score"
	infoLoans   infoFlow = "loans"
	infoLeader  infoFlow = "leader"
	infoSchemes infoFlow = "schemes"
)

// idle shows the menu on an empty message and otherwise treats the text as a menu choice.
func (m *Machine) idle(ctx context.Context, tr *turn) (result, error) {
	if tr.text == "" {
		return advance(domain.AwaitMenuChoice{}, tr.t.WelcomeMenu()), nil
	}
	return m.menuChoice(ctx, tr)
}

func (m *Machine) menuChoice(ctx context.Context, tr *turn) (result, error) {
	switch tr.text {
	case "1":
		return advance(domain.AwaitContribution{}, tr.t.AskContribution()), nil
	case "2":
		return advance(domain.AwaitLoanAmount{}, tr.t.AskLoanAmount()), nil
	case "3":
		return result{redirect: infoScore}, nil
	case "4":
		return result{redirect: infoLoans}, nil
	case "5":
		return result{redirect: infoLeader}, nil
	case "6":
		return result{redirect: infoSchemes}, nil
	default:
		return reply(tr.t.Reprompt(tr.t.WelcomeMenu())), nil
	}
}
