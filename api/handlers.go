/*
handlers.go - HTTP API handlers for the chit-fund payment ledger

PURPOSE:
  Exposes the ledger Service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every decision to the ledger package.

ENDPOINTS (all under /api, all require X-Account-ID):
  Groups:
    GET    /groups                     List groups
    POST   /groups                     Create group
    GET    /groups/{id}                Get group
    PUT    /groups/{id}                Edit group
    DELETE /groups/{id}                Delete group and its memberships
    GET    /groups/{id}/members        List members
    POST   /groups/{id}/members        Add (or re-size) a member
    DELETE /members/{id}               Remove a membership

  Clients:
    POST   /clients                    Create client
    GET    /clients/{id}/statement     Statement (?month=YYYY-MM, ?format=xlsx)
    POST   /clients/{id}/payments      Allocate a bulk payment

  Auctions:
    GET    /auctions                   List (?group_id=, ?month=)
    POST   /auctions                   Create auction and its obligations
    GET    /auctions/{id}              Get auction
    PUT    /auctions/{id}              Edit auction, reprice obligations
    DELETE /auctions/{id}              Cascade delete

  Payments:
    GET    /payments                   List (?client_id=, ?group_id=, ?month=, ?outstanding=true)
    GET    /payments/{id}/logs         Receipts of one payment
    GET    /payments/{id}/verify       Invariant check
    DELETE /payment-logs/{id}          Roll back one receipt

  Reports:
    GET    /reports/pending            Group x month (?group_id=, ?client_id=, ?month=, ?format=xlsx)
    GET    /reports/pending-by-client  Per client

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: ValidationError, malformed body
  - 401: Missing account
  - 404: NotFoundError
  - 409: Client is locked by another allocation
  - 500: StoreError (body carries how much had committed) and anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/chit-ledger/config"
	"github.com/warp/chit-ledger/ledger"
	"github.com/warp/chit-ledger/lock"
	"github.com/warp/chit-ledger/report"
	"github.com/xuri/excelize/v2"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	svc      *ledger.Service
	log      logrus.FieldLogger
	validate *validator.Validate
}

// NewHandler creates a handler over svc.
func NewHandler(svc *ledger.Service, log logrus.FieldLogger) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{svc: svc, log: log, validate: v}
}

// decode reads a JSON body into dst and runs its validate tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var fields validator.ValidationErrors
		resp := ErrorResponse{Error: "Invalid request", Details: err.Error()}
		if errors.As(err, &fields) && len(fields) > 0 {
			resp.Field = fields[0].Field()
			resp.Details = fmt.Sprintf("%s failed %q", fields[0].Field(), fields[0].Tag())
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return false
	}
	return true
}

// =============================================================================
// GROUP HANDLERS
// =============================================================================

func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.svc.ListGroups(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "ListGroups", err)
		return
	}
	dtos := make([]GroupDTO, len(groups))
	for i, g := range groups {
		dtos[i] = toGroupDTO(g)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.GetGroup(r.Context(), ledger.GroupID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "GetGroup", err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(g))
}

// CreateGroup creates a group. EditGroup shares the body via saveGroup.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	h.saveGroup(w, r, "", http.StatusCreated)
}

func (h *Handler) EditGroup(w http.ResponseWriter, r *http.Request) {
	h.saveGroup(w, r, ledger.GroupID(chi.URLParam(r, "id")), http.StatusOK)
}

func (h *Handler) saveGroup(w http.ResponseWriter, r *http.Request, id ledger.GroupID, status int) {
	var req GroupRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := ledger.GroupInput{ID: id, Name: req.Name, MemberCount: req.MemberCount}
	var err error
	if in.ChitValue, err = decimal.NewFromString(req.ChitValue); err != nil {
		writeFieldError(w, "chit_value", err)
		return
	}
	if in.CommissionPercent, err = decimal.NewFromString(req.CommissionPercent); err != nil {
		writeFieldError(w, "commission_percent", err)
		return
	}
	if in.StartDate, err = time.Parse(dateLayout, req.StartDate); err != nil {
		writeFieldError(w, "start_date", err)
		return
	}

	g, err := h.svc.SaveGroup(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, "SaveGroup", err)
		return
	}
	writeJSON(w, status, toGroupDTO(g))
}

func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.DeleteGroup(r.Context(), ledger.GroupID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "DeleteGroup", err)
		return
	}
	writeJSON(w, http.StatusOK, GroupDeleteResponse{
		GroupID:        string(res.GroupID),
		DeletedMembers: res.DeletedMembers,
		Batches:        res.Batches,
	})
}

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.svc.ListMembers(r.Context(), ledger.MemberFilter{GroupID: ledger.GroupID(chi.URLParam(r, "id"))})
	if err != nil {
		h.writeServiceError(w, r, "ListMembers", err)
		return
	}
	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = toMemberDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req AddMemberRequest
	if !h.decode(w, r, &req) {
		return
	}
	count, err := decimal.NewFromString(req.ChitCount)
	if err != nil {
		writeFieldError(w, "chit_count", err)
		return
	}
	m, err := h.svc.AddMember(r.Context(), ledger.GroupID(chi.URLParam(r, "id")), ledger.ClientID(req.ClientID), count)
	if err != nil {
		h.writeServiceError(w, r, "AddMember", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMemberDTO(m))
}

func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemoveMember(r.Context(), ledger.MemberID(chi.URLParam(r, "id"))); err != nil {
		h.writeServiceError(w, r, "RemoveMember", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req ClientRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.svc.SaveClient(r.Context(), ledger.Client{ID: ledger.ClientID(req.ID), Name: req.Name, Phone: req.Phone})
	if err != nil {
		h.writeServiceError(w, r, "SaveClient", err)
		return
	}
	writeJSON(w, http.StatusCreated, ClientDTO{ID: string(c.ID), Name: c.Name, Phone: c.Phone})
}

// GetStatement returns the client statement as JSON, or as a workbook with ?format=xlsx.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	id := ledger.ClientID(chi.URLParam(r, "id"))
	st, err := h.svc.ClientStatement(r.Context(), id, ledger.ChitMonth(r.URL.Query().Get("month")))
	if err != nil {
		h.writeServiceError(w, r, "ClientStatement", err)
		return
	}
	if wantsXLSX(r) {
		f, err := report.StatementWorkbook(st)
		h.writeWorkbook(w, r, fmt.Sprintf("statement-%s.xlsx", id), f, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementResponse(st))
}

// AllocatePayment distributes a bulk payment over the client's outstanding obligations.
func (h *Handler) AllocatePayment(w http.ResponseWriter, r *http.Request) {
	var req BulkPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeFieldError(w, "amount", err)
		return
	}
	paidOn, err := time.Parse(dateLayout, req.PaymentDate)
	if err != nil {
		writeFieldError(w, "payment_date", err)
		return
	}

	res, err := h.svc.AllocateBulkPayment(r.Context(), ledger.BulkPayment{
		ClientID:    ledger.ClientID(chi.URLParam(r, "id")),
		Amount:      amount,
		PaymentDate: paidOn,
		Method:      ledger.PaymentMethod(req.Method),
	})
	if err != nil {
		h.writeServiceError(w, r, "AllocateBulkPayment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationResponse(res))
}

// =============================================================================
// AUCTION HANDLERS
// =============================================================================

func (h *Handler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	month, ok := parseMonthParam(w, q.Get("month"))
	if !ok {
		return
	}
	auctions, err := h.svc.ListAuctions(r.Context(), ledger.AuctionFilter{GroupID: ledger.GroupID(q.Get("group_id")), ChitMonth: month})
	if err != nil {
		h.writeServiceError(w, r, "ListAuctions", err)
		return
	}
	dtos := make([]AuctionDTO, len(auctions))
	for i, a := range auctions {
		dtos[i] = toAuctionDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetAuction(r.Context(), ledger.AuctionID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "GetAuction", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuctionDTO(a))
}

func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	in, ok := h.auctionInput(w, r)
	if !ok {
		return
	}
	a, err := h.svc.CreateAuction(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, "CreateAuction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuctionDTO(a))
}

func (h *Handler) UpdateAuction(w http.ResponseWriter, r *http.Request) {
	in, ok := h.auctionInput(w, r)
	if !ok {
		return
	}
	a, err := h.svc.UpdateAuction(r.Context(), ledger.AuctionID(chi.URLParam(r, "id")), in)
	if err != nil {
		h.writeServiceError(w, r, "UpdateAuction", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuctionDTO(a))
}

func (h *Handler) auctionInput(w http.ResponseWriter, r *http.Request) (ledger.AuctionInput, bool) {
	var req AuctionRequest
	if !h.decode(w, r, &req) {
		return ledger.AuctionInput{}, false
	}
	in := ledger.AuctionInput{GroupID: ledger.GroupID(req.GroupID), ChitMonth: req.ChitMonth}
	var err error
	if in.BidAmount, err = decimal.NewFromString(req.BidAmount); err != nil {
		writeFieldError(w, "bid_amount", err)
		return in, false
	}
	if in.AuctionDate, err = time.Parse(dateLayout, req.AuctionDate); err != nil {
		writeFieldError(w, "auction_date", err)
		return in, false
	}
	if in.DueDate, err = time.Parse(dateLayout, req.DueDate); err != nil {
		writeFieldError(w, "due_date", err)
		return in, false
	}
	for _, c := range req.Winners {
		in.Winners = append(in.Winners, ledger.ClientID(c))
	}
	return in, true
}

func (h *Handler) DeleteAuction(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.DeleteAuction(r.Context(), ledger.AuctionID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "DeleteAuction", err)
		return
	}
	writeJSON(w, http.StatusOK, AuctionDeleteResponse{
		AuctionID:       string(res.AuctionID),
		DeletedPayments: res.DeletedPayments,
		DeletedLogs:     res.DeletedLogs,
		Batches:         res.Batches,
	})
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	month, ok := parseMonthParam(w, q.Get("month"))
	if !ok {
		return
	}
	payments, err := h.svc.ListPayments(r.Context(), ledger.PaymentFilter{
		ClientID:        ledger.ClientID(q.Get("client_id")),
		GroupID:         ledger.GroupID(q.Get("group_id")),
		AuctionID:       ledger.AuctionID(q.Get("auction_id")),
		ChitMonth:       month,
		OutstandingOnly: q.Get("outstanding") == "true",
	})
	if err != nil {
		h.writeServiceError(w, r, "ListPayments", err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) ListPaymentLogs(w http.ResponseWriter, r *http.Request) {
	id := ledger.PaymentID(chi.URLParam(r, "id"))
	if _, err := h.svc.GetPayment(r.Context(), id); err != nil {
		h.writeServiceError(w, r, "GetPayment", err)
		return
	}
	logs, err := h.svc.ListPaymentLogs(r.Context(), ledger.LogFilter{PaymentID: id})
	if err != nil {
		h.writeServiceError(w, r, "ListPaymentLogs", err)
		return
	}
	dtos := make([]PaymentLogDTO, len(logs))
	for i, l := range logs {
		dtos[i] = toPaymentLogDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	violations, err := h.svc.VerifyPayment(r.Context(), ledger.PaymentID(id))
	if err != nil {
		h.writeServiceError(w, r, "VerifyPayment", err)
		return
	}
	resp := VerifyResponse{PaymentID: id, Consistent: len(violations) == 0, Violations: []string{}}
	for _, v := range violations {
		resp.Violations = append(resp.Violations, v.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

// RollbackPaymentLog reverses one receipt and deletes it.
func (h *Handler) RollbackPaymentLog(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.RollbackPayment(r.Context(), ledger.PaymentLogID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, r, "RollbackPayment", err)
		return
	}
	writeJSON(w, http.StatusOK, RollbackResponse{Payment: toPaymentDTO(res.Payment), Removed: toPaymentLogDTO(res.Removed)})
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

func (h *Handler) PendingByGroupAndMonth(w http.ResponseWriter, r *http.Request) {
	f, ok := pendingFilter(w, r)
	if !ok {
		return
	}
	rows, err := h.svc.PendingByGroupAndMonth(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, "PendingByGroupAndMonth", err)
		return
	}
	if wantsXLSX(r) {
		wb, err := report.PendingWorkbook(rows)
		h.writeWorkbook(w, r, "pending.xlsx", wb, err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupMonthPendingDTOs(rows))
}

func (h *Handler) PendingByClient(w http.ResponseWriter, r *http.Request) {
	f, ok := pendingFilter(w, r)
	if !ok {
		return
	}
	rows, err := h.svc.PendingByClient(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, "PendingByClient", err)
		return
	}
	writeJSON(w, http.StatusOK, toClientPendingDTOs(rows))
}

func pendingFilter(w http.ResponseWriter, r *http.Request) (ledger.PendingFilter, bool) {
	q := r.URL.Query()
	month, ok := parseMonthParam(w, q.Get("month"))
	return ledger.PendingFilter{
		ClientID:  ledger.ClientID(q.Get("client_id")),
		GroupID:   ledger.GroupID(q.Get("group_id")),
		ChitMonth: month,
	}, ok
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeFieldError(w http.ResponseWriter, field string, err error) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Field: field, Details: err.Error()})
}

// writeServiceError maps ledger errors to HTTP statuses. Server-side failures
// are logged; client errors are not.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, funcName string, err error) {
	var (
		ve *ledger.ValidationError
		se *ledger.StoreError
	)
	switch {
	case errors.Is(err, ledger.ErrNoAccount):
		writeError(w, http.StatusUnauthorized, "Missing account", err)
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Field: ve.Field, Details: ve.Error()})
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, lock.ErrBusy):
		writeError(w, http.StatusConflict, "Client is busy, try again", err)
	case errors.As(err, &se):
		config.LogError(h.log, "api", funcName, r.URL.Path, logrus.Fields{"committed": se.Committed, "unit": se.Unit, "entity_id": se.EntityID}, err)
		committed := se.Committed
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:     "Write stopped part way",
			Details:   err.Error(),
			Committed: &committed,
			Unit:      se.Unit,
		})
	default:
		config.LogError(h.log, "api", funcName, r.URL.Path, nil, err)
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func (h *Handler) writeWorkbook(w http.ResponseWriter, r *http.Request, filename string, f *excelize.File, err error) {
	if err != nil {
		h.writeServiceError(w, r, "writeWorkbook", err)
		return
	}
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if err := report.Write(w, f); err != nil {
		config.LogError(h.log, "api", "writeWorkbook", filename, nil, err)
	}
}

func wantsXLSX(r *http.Request) bool {
	return r.URL.Query().Get("format") == "xlsx"
}

// parseMonthParam accepts an empty month.
func parseMonthParam(w http.ResponseWriter, s string) (ledger.ChitMonth, bool) {
	if s == "" {
		return "", true
	}
	m, err := ledger.ParseChitMonth(s)
	if err != nil {
		writeFieldError(w, "month", err)
		return "", false
	}
	return m, true
}
