/*
handlers_test.go - HTTP tests for the ledger API

Tests for:
- Account header enforcement and per-account isolation
- Bulk allocation, receipt listing, rollback and verification over HTTP
- Error mapping (400 / 404 / 409 / 500 with committed count)
- Pending report as JSON and as a workbook
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/chit-ledger/ledger"
	"github.com/warp/chit-ledger/ledger/store"
	"github.com/warp/chit-ledger/lock"
	"github.com/warp/chit-ledger/report"
	"github.com/xuri/excelize/v2"
)

const account = "acct-1"

type apiFixture struct {
	router http.Handler
	store  *store.Memory
}

func newAPIFixture(t *testing.T, opts ...ledger.Option) *apiFixture {
	t.Helper()
	mem := store.NewMemory(0)
	log := logrus.New()
	log.Out = io.Discard
	svc := ledger.NewService(mem, append([]ledger.Option{ledger.WithLogger(log)}, opts...)...)
	return &apiFixture{router: NewRouter(NewHandler(svc, log), []string{"*"}), store: mem}
}

func (f *apiFixture) do(t *testing.T, method, path, acct string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if acct != "" {
		req.Header.Set(AccountHeader, acct)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// loadNewGroup seeds 20 members owing 4250 each for one auction.
func (f *apiFixture) loadNewGroup(t *testing.T) ScenarioResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/scenarios/load", account, LoadScenarioRequest{ScenarioID: "new-group"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[ScenarioResponse](t, rec)
	require.Len(t, resp.Clients, 20)
	require.Len(t, resp.Auctions, 1)
	return resp
}

// =============================================================================
// ACCOUNT
// =============================================================================

func TestMissingAccount_Returns401(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/groups", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing account", decodeBody[ErrorResponse](t, rec).Error)
}

func TestHealthz_NeedsNoAccount(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAccountsAreIsolated(t *testing.T) {
	// GIVEN: A group created under one account
	// WHEN: Another account reads it
	// THEN: It is not found there and not listed

	f := newAPIFixture(t)
	seeded := f.loadNewGroup(t)

	rec := f.do(t, http.MethodGet, "/api/groups/"+seeded.GroupID, "acct-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/groups", "acct-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]GroupDTO](t, rec))
}

// =============================================================================
// GROUPS & AUCTIONS
// =============================================================================

func TestCreateGroup_Validation(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name  string
		body  GroupRequest
		field string
	}{
		{"missing name", GroupRequest{ChitValue: "100000", CommissionPercent: "5", StartDate: "2024-01-01"}, "name"},
		{"non numeric value", GroupRequest{Name: "G", ChitValue: "lots", CommissionPercent: "5", StartDate: "2024-01-01"}, "chit_value"},
		{"bad date", GroupRequest{Name: "G", ChitValue: "100000", CommissionPercent: "5", StartDate: "01/01/2024"}, "start_date"},
		{"commission over 100", GroupRequest{Name: "G", ChitValue: "100000", CommissionPercent: "150", StartDate: "2024-01-01"}, "commission_percent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/groups", account, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.field, decodeBody[ErrorResponse](t, rec).Field)
		})
	}
}

func TestCreateGroup_AndMember(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/groups", account, GroupRequest{
		Name: "Alpha", ChitValue: "100000", CommissionPercent: "5", MemberCount: 20, StartDate: "2024-01-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	g := decodeBody[GroupDTO](t, rec)
	assert.Equal(t, "100000", g.ChitValue.String())

	rec = f.do(t, http.MethodPost, "/api/clients", account, ClientRequest{ID: "c-1", Name: "Asha"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/groups/"+g.ID+"/members", account, AddMemberRequest{ClientID: "c-1", ChitCount: "1.5"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/groups/"+g.ID+"/members", account, nil)
	members := decodeBody[[]MemberDTO](t, rec)
	require.Len(t, members, 1)
	assert.Equal(t, "1.5", members[0].ChitCount.String())

	rec = f.do(t, http.MethodDelete, "/api/members/"+members[0].ID, account, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCreateAuction_DuplicateMonthIs400(t *testing.T) {
	// GIVEN: A group whose current month already has an auction
	// WHEN: A second auction is posted for the same month
	// THEN: 400 on chit_month

	f := newAPIFixture(t)
	seeded := f.loadNewGroup(t)

	rec := f.do(t, http.MethodGet, "/api/auctions/"+seeded.Auctions[0], account, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	existing := decodeBody[AuctionDTO](t, rec)
	assert.Equal(t, "4250", existing.PerMemberContribution.String())
	assert.False(t, existing.CompanyBid)

	rec = f.do(t, http.MethodPost, "/api/auctions", account, AuctionRequest{
		GroupID:     seeded.GroupID,
		ChitMonth:   existing.ChitMonth,
		AuctionDate: existing.AuctionDate,
		DueDate:     existing.DueDate,
		BidAmount:   "15000",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "chit_month", decodeBody[ErrorResponse](t, rec).Field)
}

func TestGetAuction_NotFound(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/auctions/missing", account, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteAuction_StoreFailureReportsCommitted(t *testing.T) {
	// GIVEN: An auction with 20 obligations and a store that rejects every write
	// WHEN: The auction is deleted
	// THEN: 500 with committed 0 chunks, and the auction is still readable

	f := newAPIFixture(t)
	seeded := f.loadNewGroup(t)
	f.store.FailAfter(0, errors.New("disk full"))

	rec := f.do(t, http.MethodDelete, "/api/auctions/"+seeded.Auctions[0], account, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	require.NotNil(t, body.Committed)
	assert.Equal(t, 0, *body.Committed)
	assert.Equal(t, "chunks", body.Unit)

	f.store.FailAfter(-1, nil)
	rec = f.do(t, http.MethodGet, "/api/auctions/"+seeded.Auctions[0], account, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/auctions/"+seeded.Auctions[0], account, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, decodeBody[AuctionDeleteResponse](t, rec).DeletedPayments)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestAllocateRollbackVerify(t *testing.T) {
	// GIVEN: A client owing 4250
	// WHEN: They pay 4250, then the receipt is rolled back
	// THEN: The obligation goes Paid then Pending, and stays consistent

	f := newAPIFixture(t)
	seeded := f.loadNewGroup(t)
	client := seeded.Clients[0]

	rec := f.do(t, http.MethodPost, "/api/clients/"+client+"/payments", account, BulkPaymentRequest{
		Amount: "4250", PaymentDate: "2024-03-02", Method: "Cash",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	alloc := decodeBody[AllocationResponse](t, rec)
	require.Len(t, alloc.Steps, 1)
	step := alloc.Steps[0]
	assert.Equal(t, string(ledger.StatusPaid), step.Status)
	assert.True(t, step.PendingAfter.IsZero())

	rec = f.do(t, http.MethodGet, "/api/payments/"+step.PaymentID+"/logs", account, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decodeBody[[]PaymentLogDTO](t, rec)
	require.Len(t, logs, 1)
	assert.Equal(t, "2024-03-02", logs[0].PaymentDate)

	rec = f.do(t, http.MethodGet, "/api/clients/"+client+"/statement", account, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[StatementResponse](t, rec)
	assert.Len(t, st.History, 1)
	assert.True(t, st.TotalPending.IsZero())

	rec = f.do(t, http.MethodDelete, "/api/payment-logs/"+step.LogID, account, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rb := decodeBody[RollbackResponse](t, rec)
	assert.Equal(t, string(ledger.StatusPending), rb.Payment.Status)
	assert.Equal(t, "4250", rb.Payment.PendingAmount.String())

	rec = f.do(t, http.MethodGet, "/api/payments/"+step.PaymentID+"/verify", account, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[VerifyResponse](t, rec).Consistent)

	rec = f.do(t, http.MethodDelete, "/api/payment-logs/"+step.LogID, account, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "a receipt can only be rolled back once")
}

func TestAllocate_Rejections(t *testing.T) {
	f := newAPIFixture(t)
	seeded := f.loadNewGroup(t)
	path := "/api/clients/" + seeded.Clients[0] + "/payments"

	tests := []struct {
		name  string
		body  BulkPaymentRequest
		field string
	}{
		{"over outstanding", BulkPaymentRequest{Amount: "4250.01", PaymentDate: "2024-03-02", Method: "Online"}, "amount"},
		{"unknown method", BulkPaymentRequest{Amount: "100", PaymentDate: "2024-03-02", Method: "Cheque"}, "method"},
		{"zero", BulkPaymentRequest{Amount: "0", PaymentDate: "2024-03-02", Method: "Cash"}, "amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, path, account, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.field, decodeBody[ErrorResponse](t, rec).Field)
		})
	}
	assert.Equal(t, 0, countLogs(t, f, seeded.Clients[0]))
}

type busyLocker struct{}

func (busyLocker) Lock(context.Context, string) (func(), error) { return nil, lock.ErrBusy }

func TestAllocate_BusyClientIs409(t *testing.T) {
	f := newAPIFixture(t, ledger.WithLocker(busyLocker{}))
	seeded := f.loadNewGroup(t)

	rec := f.do(t, http.MethodPost, "/api/clients/"+seeded.Clients[1]+"/payments", account, BulkPaymentRequest{
		Amount: "100", PaymentDate: "2024-03-02", Method: "Cash",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListPayments_Filters(t *testing.T) {
	f := newAPIFixture(t)
	seeded := f.loadNewGroup(t)

	rec := f.do(t, http.MethodGet, "/api/payments?group_id="+seeded.GroupID, account, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decodeBody[[]PaymentDTO](t, rec)
	assert.Len(t, all, 20)

	rec = f.do(t, http.MethodGet, "/api/payments?client_id="+seeded.Clients[3], account, nil)
	mine := decodeBody[[]PaymentDTO](t, rec)
	require.Len(t, mine, 1)
	assert.Equal(t, "4250", mine[0].PendingAmount.String())
	assert.True(t, mine[0].Credit.IsZero())

	rec = f.do(t, http.MethodGet, "/api/payments?month=March", account, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func countLogs(t *testing.T, f *apiFixture, client string) int {
	t.Helper()
	rec := f.do(t, http.MethodGet, "/api/clients/"+client+"/statement", account, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	return len(decodeBody[StatementResponse](t, rec).History)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestPendingReport_JSONAndWorkbook(t *testing.T) {
	f := newAPIFixture(t)
	seeded := f.loadNewGroup(t)

	rec := f.do(t, http.MethodGet, "/api/reports/pending?group_id="+seeded.GroupID, account, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decodeBody[[]GroupMonthPendingDTO](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, 20, rows[0].PendingMembers)
	assert.Equal(t, "85000", rows[0].TotalPending.String())

	rec = f.do(t, http.MethodGet, "/api/reports/pending?format=xlsx", account, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, report.ContentType, rec.Header().Get("Content-Type"))

	wb, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer wb.Close()
	sheet, err := wb.GetRows("Pending")
	require.NoError(t, err)
	require.Len(t, sheet, 3)
	assert.Equal(t, "Demo Group 1L", sheet[1][0])

	rec = f.do(t, http.MethodGet, "/api/reports/pending-by-client", account, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ClientPendingDTO](t, rec), 20)
}

func TestStatement_BadMonthIs400(t *testing.T) {
	f := newAPIFixture(t)
	seeded := f.loadNewGroup(t)

	rec := f.do(t, http.MethodGet, "/api/clients/"+seeded.Clients[0]+"/statement?month=2024-13", account, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "month", decodeBody[ErrorResponse](t, rec).Field)
}

func TestScenarios_BacklogAllocatesOldestFirst(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/scenarios/load", account, LoadScenarioRequest{ScenarioID: "backlog"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	seeded := decodeBody[ScenarioResponse](t, rec)
	require.Len(t, seeded.Auctions, 3)

	rec = f.do(t, http.MethodGet, "/api/payments?client_id="+seeded.Clients[0], account, nil)
	payments := decodeBody[[]PaymentDTO](t, rec)
	require.Len(t, payments, 3)
	assert.Equal(t, string(ledger.StatusPaid), payments[0].Status)
	assert.Equal(t, string(ledger.StatusPartial), payments[1].Status)
	assert.Equal(t, "3000", payments[1].AmountPaid.String())
	assert.Equal(t, string(ledger.StatusPending), payments[2].Status)

	rec = f.do(t, http.MethodPost, "/api/scenarios/load", account, LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
