package chat

import (
	"context"
	"errors"

	"github.com/Kundhave/Sakhi/internal/domain"
	"github.com/Kundhave/Sakhi/internal/store"
)

// verification confirms ("1") or disputes ("2") a leader-entered transaction.
func (m *Machine) verification(ctx context.Context, tr *turn) (result, error) {
	c := tr.conversation.(domain.AwaitVerification)

	var (
		err  error
		text string
	)
	switch tr.text {
	case "1":
		err = m.repo.MarkTransactionVerified(ctx, c.TransactionID)
		text = tr.t.SavedSuccess()
	case "2":
		err = m.repo.FlagTransaction(ctx, c.TransactionID, domain.NoteFlaggedByMember)
		text = tr.t.VerificationFlagged()
	default:
		return reply(tr.t.Reprompt(tr.t.VerificationRequest(c.Action, c.Amount))), nil
	}

	if errors.Is(err, store.ErrTransactionNotFound) {
		m.logger.Warn("verified transaction no longer exists", "member_id", tr.member.ID, "transaction_id", c.TransactionID)
		return advance(domain.Idle{}, tr.t.WelcomeMenu()), nil
	}
	if err != nil {
		return result{}, err
	}
	return advance(domain.Idle{}, text), nil
}
