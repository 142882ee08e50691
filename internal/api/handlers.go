/**
 * @description
 * This file contains the HTTP handlers for Sakhi. Handlers parse requests, call the record
 * service or the chat gateway, and map domain errors onto status codes.
 *
 * @dependencies
 * - internal/app, internal/chat, internal/store: For service logic and sentinel errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/Kundhave/Sakhi/internal/app"
	"github.com/Kundhave/Sakhi/internal/chat"
	"github.com/Kundhave/Sakhi/internal/domain"
	"github.com/Kundhave/Sakhi/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// InboundHandler runs an inbound chat message and returns the reply.
type InboundHandler interface {
	Handle(ctx context.Context, msg domain.InboundMessage) (string, error)
}

// Handlers holds the application services the handlers use.
type Handlers struct {
	service *app.Service
	inbound InboundHandler
	logger  *slog.Logger
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(service *app.Service, inbound InboundHandler, logger *slog.Logger) *Handlers {
	return &Handlers{service: service, inbound: inbound, logger: logger}
}

type chatReplyResponse struct {
	Reply string `json:"reply"`
}

type loanResponse struct {
	Loan *domain.LoanRequest `json:"loan"`
}

// CreateGroupHandler handles POST /groups.
func (h *Handlers) CreateGroupHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateGroupRequest
	if !h.decode(w, r, &req) {
		return
	}
	group, err := h.service.CreateGroup(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "create_group", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, group)
}

// ListGroupsHandler handles GET /groups.
func (h *Handlers) ListGroupsHandler(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.ListGroups(r.Context())
	if err != nil {
		h.writeServiceError(w, "list_groups", err)
		return
	}
	h.writeJSON(w, http.StatusOK, groups)
}

// GetGroupHandler handles GET /groups/{groupID}.
func (h *Handlers) GetGroupHandler(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}
	group, err := h.service.GetGroup(r.Context(), groupID)
	if err != nil {
		h.writeServiceError(w, "get_group", err)
		return
	}
	h.writeJSON(w, http.StatusOK, group)
}

// ListGroupMembersHandler handles GET /groups/{groupID}/members.
func (h *Handlers) ListGroupMembersHandler(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}
	members, err := h.service.ListGroupMembers(r.Context(), groupID)
	if err != nil {
		h.writeServiceError(w, "list_group_members", err)
		return
	}
	h.writeJSON(w, http.StatusOK, members)
}

// ListGroupLoansHandler handles GET /groups/{groupID}/loans?status=PENDING.
func (h *Handlers) ListGroupLoansHandler(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}
	loans, err := h.service.ListGroupLoans(r.Context(), groupID, r.URL.Query().Get("status"))
	if err != nil {
		h.writeServiceError(w, "list_group_loans", err)
		return
	}
	h.writeJSON(w, http.StatusOK, loans)
}

// ListGroupTransactionsHandler handles GET /groups/{groupID}/transactions.
func (h *Handlers) ListGroupTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	groupID, ok := h.pathUUID(w, r, "groupID")
	if !ok {
		return
	}
	limit, ok := h.queryLimit(w, r, store.GroupTransactionLimit)
	if !ok {
		return
	}
	txs, err := h.service.ListGroupTransactions(r.Context(), groupID, limit)
	if err != nil {
		h.writeServiceError(w, "list_group_transactions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

// CreateMemberHandler handles POST /members.
func (h *Handlers) CreateMemberHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateMemberRequest
	if !h.decode(w, r, &req) {
		return
	}
	member, err := h.service.CreateMember(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "create_member", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, member)
}

// GetMemberHandler handles GET /members/{memberID}.
func (h *Handlers) GetMemberHandler(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.pathUUID(w, r, "memberID")
	if !ok {
		return
	}
	member, err := h.service.GetMember(r.Context(), memberID)
	if err != nil {
		h.writeServiceError(w, "get_member", err)
		return
	}
	h.writeJSON(w, http.StatusOK, member)
}

// UpdateMemberHandler handles PATCH /members/{memberID}.
func (h *Handlers) UpdateMemberHandler(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.pathUUID(w, r, "memberID")
	if !ok {
		return
	}
	var req domain.UpdateMemberProfileRequest
	if !h.decode(w, r, &req) {
		return
	}
	member, err := h.service.UpdateMemberProfile(r.Context(), memberID, req)
	if err != nil {
		h.writeServiceError(w, "update_member", err)
		return
	}
	h.writeJSON(w, http.StatusOK, member)
}

// ListMemberTransactionsHandler handles GET /members/{memberID}/transactions.
func (h *Handlers) ListMemberTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.pathUUID(w, r, "memberID")
	if !ok {
		return
	}
	limit, ok := h.queryLimit(w, r, store.MemberTransactionLimit)
	if !ok {
		return
	}
	txs, err := h.service.ListMemberTransactions(r.Context(), memberID, limit)
	if err != nil {
		h.writeServiceError(w, "list_member_transactions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

// ListMemberLoansHandler handles GET /members/{memberID}/loans.
func (h *Handlers) ListMemberLoansHandler(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.pathUUID(w, r, "memberID")
	if !ok {
		return
	}
	loans, err := h.service.ListMemberLoans(r.Context(), memberID)
	if err != nil {
		h.writeServiceError(w, "list_member_loans", err)
		return
	}
	h.writeJSON(w, http.StatusOK, loans)
}

// RecalculateScoreHandler handles POST /members/{memberID}/recalculate-score.
func (h *Handlers) RecalculateScoreHandler(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.pathUUID(w, r, "memberID")
	if !ok {
		return
	}
	score, err := h.service.RecalculateScore(r.Context(), memberID)
	if err != nil {
		h.writeServiceError(w, "recalculate_score", err)
		return
	}
	h.writeJSON(w, http.StatusOK, score)
}

// ListSchemesHandler handles GET /members/{memberID}/schemes.
func (h *Handlers) ListSchemesHandler(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.pathUUID(w, r, "memberID")
	if !ok {
		return
	}
	schemes, err := h.service.ListSchemes(r.Context(), memberID)
	if err != nil {
		h.writeServiceError(w, "list_schemes", err)
		return
	}
	h.writeJSON(w, http.StatusOK, schemes)
}

// ReevaluateSchemesHandler handles POST /members/{memberID}/schemes/reevaluate.
func (h *Handlers) ReevaluateSchemesHandler(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.pathUUID(w, r, "memberID")
	if !ok {
		return
	}
	if err := h.service.ReevaluateSchemes(r.Context(), memberID); err != nil {
		h.writeServiceError(w, "reevaluate_schemes", err)
		return
	}
	schemes, err := h.service.ListSchemes(r.Context(), memberID)
	if err != nil {
		h.writeServiceError(w, "reevaluate_schemes", err)
		return
	}
	h.writeJSON(w, http.StatusOK, schemes)
}

// RecordTransactionHandler handles POST /transactions.
func (h *Handlers) RecordTransactionHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.RecordTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.service.RecordTransaction(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "record_transaction", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tx)
}

// ApproveLoanHandler handles PATCH /loans/{loanID}/approve.
func (h *Handlers) ApproveLoanHandler(w http.ResponseWriter, r *http.Request) {
	h.transitionLoan(w, r, "approve_loan", h.service.ApproveLoan)
}

// RejectLoanHandler handles PATCH /loans/{loanID}/reject.
func (h *Handlers) RejectLoanHandler(w http.ResponseWriter, r *http.Request) {
	h.transitionLoan(w, r, "reject_loan", h.service.RejectLoan)
}

// DisburseLoanHandler handles PATCH /loans/{loanID}/disburse.
func (h *Handlers) DisburseLoanHandler(w http.ResponseWriter, r *http.Request) {
	h.transitionLoan(w, r, "disburse_loan", h.service.MarkLoanDisbursed)
}

func (h *Handlers) transitionLoan(w http.ResponseWriter, r *http.Request, endpoint string, transition func(context.Context, uuid.UUID) (*domain.LoanRequest, error)) {
	loanID, ok := h.pathUUID(w, r, "loanID")
	if !ok {
		return
	}
	loan, err := transition(r.Context(), loanID)
	if err != nil {
		h.writeServiceError(w, endpoint, err)
		return
	}
	h.writeJSON(w, http.StatusOK, loanResponse{Loan: loan})
}

// ChatInboundHandler handles POST /chat/inbound for webhook-style transports. The reply is
// returned to the caller, which delivers it.
func (h *Handlers) ChatInboundHandler(w http.ResponseWriter, r *http.Request) {
	var msg domain.InboundMessage
	if !h.decode(w, r, &msg) {
		return
	}
	reply, err := h.inbound.Handle(r.Context(), msg)
	if err != nil {
		h.writeServiceError(w, "chat_inbound", err)
		return
	}
	h.writeJSON(w, http.StatusOK, chatReplyResponse{Reply: reply})
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (h *Handlers) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

// queryLimit reads ?limit=, which may lower but never raise fallback.
func (h *Handlers) queryLimit(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid limit")
		return 0, false
	}
	return min(limit, fallback), true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrMemberNotFound),
		errors.Is(err, store.ErrGroupNotFound),
		errors.Is(err, store.ErrTransactionNotFound),
		errors.Is(err, store.ErrLoanRequestNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateChannelID),
		errors.Is(err, store.ErrLoanTransitionNotAllowed):
		return http.StatusConflict
	case errors.Is(err, chat.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	status := statusFor(err)
	var limited *chat.RateLimitError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(limited.RetryAfter.Seconds()))))
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "endpoint", endpoint, "error", err)
		h.writeError(w, status, "Internal server error")
		return
	}
	h.logger.Warn("request rejected", "endpoint", endpoint, "status", status, "error", err)
	h.writeError(w, status, err.Error())
}

// writeJSON is a helper for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
