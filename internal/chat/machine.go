/**
 * @description
 * This file contains the conversational state machine that drives member chats. Every
 * inbound message is handled against the member's persisted conversation state and produces
 * one reply plus, optionally, a new state.
 *
 * Key features:
 * - "menu" or "0" returns to the main menu from any state.
 * - Invalid input re-prompts without advancing.
 * - A conversation that cannot be decoded is reset to the menu.
 * - Messages for one member are handled one at a time within this process.
 *
 * - Flows that write records first move the conversation on with a compare-and-set, so a
 *   repeated or concurrent confirmation finds the state gone and writes nothing twice.
 *
 * @notes
 * - Outside those committing steps, two processes handling the same member at once can
 *   still overwrite each other's conversation (last write wins).
 */

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Kundhave/Sakhi/internal/app"
	"github.com/Kundhave/Sakhi/internal/catalog"
	"github.com/Kundhave/Sakhi/internal/domain"
	"github.com/Kundhave/Sakhi/internal/store"
	"github.com/Kundhave/Sakhi/pkg/messaging"
	"github.com/google/uuid"
)

// ErrNotRegistered is returned, with the NOT_REGISTERED reply, when no member owns the sender ID.
var ErrNotRegistered = errors.New("sender is not a registered member")

// Recorder writes the ground-truth records created from chat.
type Recorder interface {
	RecordCheckin(ctx context.Context, member *domain.Member, contribution float64, repayment *float64) error
	SubmitLoanRequest(ctx context.Context, member *domain.Member, amount float64, purpose domain.LoanPurpose, months int, hasOutstanding *bool) (*domain.LoanRequest, error)
}

// turn is one inbound message being handled for a member.
type turn struct {
	member       *domain.Member
	conversation domain.Conversation
	text         string
	t            *catalog.Templates
}

// result is what a flow decided. A nil next keeps the current state. A non-empty redirect
// hands the turn to a read-only info flow, which replies and resets to IDLE.
type result struct {
	reply    string
	next     domain.Conversation
	redirect infoFlow
	// commit writes the records the turn confirmed. It runs only after the conversation has
	// been swapped from its current state to next, and the cascade always follows it.
	commit func(ctx context.Context) error
}

func reply(text string) result {
	return result{reply: text}
}

func advance(next domain.Conversation, text string) result {
	return result{reply: text, next: next}
}

type flowFunc func(ctx context.Context, tr *turn) (result, error)

// Machine is the conversational state machine.
type Machine struct {
	repo     store.Repository
	records  Recorder
	cascade  app.Refresher
	sender   messaging.Sender
	messages *catalog.Catalog
	logger   *slog.Logger

	locks *memberLocks
	flows map[domain.ConversationState]flowFunc
	info  map[infoFlow]flowFunc
}

// NewMachine creates a state machine. sender is used for messages that do not reply to the
// current sender: verification prompts and leader notifications.
func NewMachine(repo store.Repository, records Recorder, cascade app.Refresher, sender messaging.Sender, messages *catalog.Catalog, logger *slog.Logger) *Machine {
	m := &Machine{
		repo:     repo,
		records:  records,
		cascade:  cascade,
		sender:   sender,
		messages: messages,
		logger:   logger,
		locks:    newMemberLocks(),
	}
	m.flows = map[domain.ConversationState]flowFunc{
		domain.StateIdle:                  m.idle,
		domain.StateAwaitMenuChoice:       m.menuChoice,
		domain.StateAwaitContribution:     m.contribution,
		domain.StateAwaitRepaymentCheck:   m.repaymentCheck,
		domain.StateAwaitRepaymentAmount:  m.repaymentAmount,
		domain.StateConfirmCheckin:        m.confirmCheckin,
		domain.StateAwaitLoanAmount:       m.loanAmount,
		domain.StateAwaitLoanPurpose:      m.loanPurpose,
		domain.StateAwaitLoanMonths:       m.loanMonths,
		domain.StateAwaitOutstandingCheck: m.outstandingCheck,
		domain.StateAwaitVerification:     m.verification,
	}
	m.info = map[infoFlow]flowFunc{
		infoScore:   m.showScore,
		infoLoans:   m.showLoans,
		infoLeader:  m.showLeader,
		infoSchemes: m.showSchemes,
	}
	return m
}

// HandleIncoming handles one message from sender and returns the reply to send back.
func (m *Machine) HandleIncoming(ctx context.Context, sender, text string) (string, error) {
	unlock := m.locks.lock(sender)
	defer unlock()

	member, err := m.repo.FindMemberByChannelID(ctx, sender)
	if errors.Is(err, store.ErrMemberNotFound) {
		return m.messages.English().NotRegistered(), ErrNotRegistered
	}
	if err != nil {
		return "", fmt.Errorf("failed to load member: %w", err)
	}

	tr := &turn{
		member:       member,
		conversation: member.Conversation,
		text:         strings.TrimSpace(text),
		t:            m.messages.For(member.Language),
	}
	if tr.conversation == nil {
		tr.conversation = domain.Idle{}
	}

	res, err := m.dispatch(ctx, tr)
	if err != nil {
		m.logger.Error("chat flow failed", "member_id", member.ID, "state", tr.conversation.State(), "error", err)
		return "", err
	}
	if res.commit != nil {
		return m.commit(ctx, tr, res)
	}

	if res.next != nil {
		if err := m.repo.SaveConversation(ctx, member.ID, res.next); err != nil {
			return "", fmt.Errorf("failed to save conversation: %w", err)
		}
	}
	return res.reply, nil
}

// commit claims the turn by swapping the conversation to res.next, then writes the records.
// A write failure puts the previous conversation back so the member can confirm again.
func (m *Machine) commit(ctx context.Context, tr *turn, res result) (string, error) {
	from := tr.conversation.State()
	swapped, err := m.repo.SwapConversation(ctx, tr.member.ID, from, res.next)
	if err != nil {
		return "", fmt.Errorf("failed to save conversation: %w", err)
	}
	if !swapped {
		m.logger.Warn("conversation moved on before commit", "member_id", tr.member.ID, "state", from)
		return tr.t.WelcomeMenu(), nil
	}

	if err := res.commit(ctx); err != nil {
		m.logger.Error("chat commit failed", "member_id", tr.member.ID, "state", from, "error", err)
		if restoreErr := m.repo.SaveConversation(ctx, tr.member.ID, tr.conversation); restoreErr != nil {
			m.logger.Error("failed to restore conversation", "member_id", tr.member.ID, "state", from, "error", restoreErr)
		}
		return "", err
	}

	m.cascade.Refresh(ctx, tr.member.ID)
	return res.reply, nil
}

func (m *Machine) dispatch(ctx context.Context, tr *turn) (result, error) {
	if isMenuEscape(tr.text) {
		return advance(domain.Idle{}, tr.t.WelcomeMenu()), nil
	}

	if u, ok := tr.conversation.(domain.Unrecognized); ok {
		m.logger.Warn("resetting unrecognized conversation", "member_id", tr.member.ID, "state", u.Tag, "error", u.Err)
		return advance(domain.AwaitMenuChoice{}, tr.t.WelcomeMenu()), nil
	}

	flow, ok := m.flows[tr.conversation.State()]
	if !ok {
		m.logger.Warn("no flow for conversation state", "member_id", tr.member.ID, "state", tr.conversation.State())
		return advance(domain.AwaitMenuChoice{}, tr.t.WelcomeMenu()), nil
	}

	res, err := flow(ctx, tr)
	if err != nil || res.redirect == "" {
		return res, err
	}

	show, ok := m.info[res.redirect]
	if !ok {
		return result{}, fmt.Errorf("unknown info flow %q", res.redirect)
	}
	res, err = show(ctx, tr)
	if err != nil {
		return res, err
	}
	res.next = domain.Idle{}
	return res, nil
}

// PromptVerification asks the member to confirm a leader-entered transaction and moves the
// conversation to AWAIT_VERIFICATION.
func (m *Machine) PromptVerification(ctx context.Context, memberID uuid.UUID, tx domain.Transaction) error {
	member, err := m.repo.FindMemberByID(ctx, memberID)
	if err != nil {
		return err
	}

	unlock := m.locks.lock(member.ChannelID)
	defer unlock()

	if err := m.repo.SaveConversation(ctx, member.ID, domain.AwaitVerification{
		TransactionID: tx.ID,
		Action:        tx.Type,
		Amount:        tx.Amount,
	}); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	text := m.messages.For(member.Language).VerificationRequest(tx.Type, tx.Amount)
	if err := m.sender.Send(ctx, member.ChannelID, text); err != nil {
		m.logger.Error("verification prompt failed", "member_id", member.ID, "transaction_id", tx.ID, "error", err)
	}
	return nil
}
