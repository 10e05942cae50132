package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/merchant-ledger/internal/backup"
	"github.com/mmeshcher/merchant-ledger/internal/ledger"
	"github.com/mmeshcher/merchant-ledger/internal/middleware"
	"github.com/mmeshcher/merchant-ledger/internal/model"
	"github.com/mmeshcher/merchant-ledger/internal/repository"
	"github.com/mmeshcher/merchant-ledger/internal/service"
	"github.com/mmeshcher/merchant-ledger/internal/validation"
)

const testConfirmCode = "121"

type stubService struct {
	summary    ledger.Summary
	summaryErr error

	view    *service.CustomerView
	viewErr error

	created   *model.Customer
	createErr error
	createIn  validation.CustomerInput

	updated   *model.Customer
	updateErr error
	updateID  string

	deleteErr    error
	deleteCalled bool

	recorded  *model.Transaction
	recordErr error

	snapshot  backup.Snapshot
	exportErr error

	restored   backup.Snapshot
	restoreRes service.RestoreResult
	restoreErr error

	settings    model.Settings
	settingsErr error
	savedSet    model.Settings

	loginStore string
	loginErr   error

	changeErr error
}

func (s *stubService) Dashboard(ctx context.Context) (ledger.Summary, error) {
	return s.summary, s.summaryErr
}

func (s *stubService) CustomerView(ctx context.Context, id string) (*service.CustomerView, error) {
	return s.view, s.viewErr
}

func (s *stubService) CreateCustomer(ctx context.Context, in validation.CustomerInput) (*model.Customer, error) {
	s.createIn = in
	return s.created, s.createErr
}

func (s *stubService) UpdateCustomer(ctx context.Context, id string, in validation.CustomerInput) (*model.Customer, error) {
	s.updateID = id
	return s.updated, s.updateErr
}

func (s *stubService) DeleteCustomer(ctx context.Context, id string) error {
	s.deleteCalled = true
	return s.deleteErr
}

func (s *stubService) RecordTransaction(ctx context.Context, customerID string, in validation.TransactionInput) (*model.Transaction, error) {
	return s.recorded, s.recordErr
}

func (s *stubService) ExportBackup(ctx context.Context) (backup.Snapshot, error) {
	return s.snapshot, s.exportErr
}

func (s *stubService) RestoreBackup(ctx context.Context, snap backup.Snapshot) (service.RestoreResult, error) {
	s.restored = snap
	return s.restoreRes, s.restoreErr
}

func (s *stubService) Settings(ctx context.Context) (model.Settings, error) {
	return s.settings, s.settingsErr
}

func (s *stubService) SaveSettings(ctx context.Context, settings model.Settings) error {
	s.savedSet = settings
	return s.settingsErr
}

func (s *stubService) Login(ctx context.Context, pin, storeName string) (string, error) {
	return s.loginStore, s.loginErr
}

func (s *stubService) ChangeAdminPIN(ctx context.Context, oldPIN, newPIN, confirm string) error {
	return s.changeErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, logger, auth, testConfirmCode)
}

// serveAuthorized прогоняет запрос через роутер с действующей сессией администратора.
func serveAuthorized(t *testing.T, h *Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	cookieRec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(cookieRec)
	req.AddCookie(cookieRec.Result().Cookies()[0])

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec
}

func TestLogin_SetsSessionCookie(t *testing.T) {
	svc := &stubService{loginStore: "Corner Shop"}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(loginRequest{PIN: "1234", StoreName: "Corner Shop"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	res := rec.Result()
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	require.NotEmpty(t, res.Cookies())

	var resp loginResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
	assert.Equal(t, "Corner Shop", resp.StoreName)
}

func TestLogin_UnauthorizedOnWrongPIN(t *testing.T) {
	svc := &stubService{loginErr: service.ErrInvalidCredentials}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(loginRequest{PIN: "0000"})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	assert.Empty(t, rec.Result().Cookies())
}

func TestLogin_EmptyPIN(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/admin/login", strings.NewReader(`{"pin":""}`))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	for _, path := range []string{"/api/dashboard", "/api/backup", "/api/settings", "/api/customers/abc"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want %d", path, rec.Code, http.StatusUnauthorized)
		}
	}
}

func TestDashboard_FormatsTotals(t *testing.T) {
	ahmed := ledger.CustomerStatus{
		Customer:  model.Customer{ID: "c1", Name: "Ahmed", Currency: model.CurrencyIQD, ReminderDays: 30},
		Balance:   decimal.NewFromInt(15000),
		IsOverdue: true,
		LastDate:  "2024-01-01",
	}
	svc := &stubService{
		summary: ledger.Summary{
			Customers: []ledger.CustomerStatus{ahmed},
			Overdue:   []ledger.CustomerStatus{ahmed},
			TotalDebt: decimal.NewFromInt(15000),
			TotalPaid: decimal.NewFromInt(5000),
		},
	}
	h := newTestHandler(t, svc)

	rec := serveAuthorized(t, h, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp dashboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "15.000 د.ع", resp.TotalDebtFormatted)
	assert.Equal(t, "5.000 د.ع", resp.TotalPaidFormatted)
	assert.Equal(t, 1, resp.CustomerCount)
	require.Len(t, resp.Overdue, 1)
	assert.Equal(t, "c1", resp.Overdue[0].ID)
	assert.Equal(t, "15.000 د.ع", resp.Overdue[0].BalanceFormatted)
	assert.Empty(t, resp.Customers[0].Password)
}

func TestGetCustomer_NotFound(t *testing.T) {
	svc := &stubService{viewErr: repository.ErrCustomerNotFound}
	h := newTestHandler(t, svc)

	rec := serveAuthorized(t, h, httptest.NewRequest(http.MethodGet, "/api/customers/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGetCustomer_HistoryInUSD(t *testing.T) {
	svc := &stubService{
		view: &service.CustomerView{
			Customer: model.Customer{ID: "c2", Name: "Sara", Currency: model.CurrencyUSD, Password: "417"},
			Transactions: []model.Transaction{
				{Key: 2, CustomerID: "c2", Type: model.TransactionPayment, Amount: decimal.NewFromInt(50), Date: "2024-05-02"},
				{Key: 1, CustomerID: "c2", Type: model.TransactionDebt, Amount: decimal.NewFromInt(1250), Date: "2024-05-01"},
			},
			Balance: decimal.NewFromInt(1200),
		},
	}
	h := newTestHandler(t, svc)

	rec := serveAuthorized(t, h, httptest.NewRequest(http.MethodGet, "/api/customers/c2", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp customerViewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "$1.200", resp.BalanceFormatted)
	assert.Equal(t, "417", resp.Password)
	require.Len(t, resp.Transactions, 2)
	assert.Equal(t, "$50", resp.Transactions[0].AmountFormatted)
	assert.Equal(t, "$1.250", resp.Transactions[1].AmountFormatted)
}

func TestCreateCustomer(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "created", status: http.StatusCreated},
		{name: "missing name", err: validation.ErrNameRequired, status: http.StatusBadRequest},
		{name: "duplicate pin", err: ledger.ErrDuplicatePIN, status: http.StatusConflict},
		{name: "store failure", err: errors.New("connection reset"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{
				created:   &model.Customer{ID: "new", Name: "Ali", Currency: model.CurrencyIQD, ReminderDays: 30},
				createErr: tt.err,
			}
			h := newTestHandler(t, svc)

			req := httptest.NewRequest(http.MethodPost, "/api/customers",
				strings.NewReader(`{"name":"Ali","phone":"0770","currency":"IQD","reminderDays":30}`))
			rec := serveAuthorized(t, h, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "Ali", svc.createIn.Name)
			assert.Equal(t, 30, svc.createIn.ReminderDays)
		})
	}
}

func TestUpdateCustomer_RequiresConfirmCode(t *testing.T) {
	svc := &stubService{updated: &model.Customer{ID: "c1", Name: "Ahmed"}}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPut, "/api/customers/c1", strings.NewReader(`{"name":"Ahmed"}`))
	req.Header.Set(confirmCodeHeader, "999")
	rec := serveAuthorized(t, h, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	assert.Empty(t, svc.updateID)

	req = httptest.NewRequest(http.MethodPut, "/api/customers/c1", strings.NewReader(`{"name":"Ahmed"}`))
	req.Header.Set(confirmCodeHeader, testConfirmCode)
	rec = serveAuthorized(t, h, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	assert.Equal(t, "c1", svc.updateID)
}

func TestDeleteCustomer(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		err        error
		status     int
		wantCalled bool
	}{
		{name: "deleted", code: testConfirmCode, status: http.StatusNoContent, wantCalled: true},
		{name: "wrong code", code: "000", status: http.StatusForbidden},
		{name: "not found", code: testConfirmCode, err: repository.ErrCustomerNotFound, status: http.StatusNotFound, wantCalled: true},
		{
			name:       "cascade incomplete",
			code:       testConfirmCode,
			err:        errors.Join(service.ErrCascadeIncomplete, fmt.Errorf("transaction 7: %w", errors.New("timeout"))),
			status:     http.StatusInternalServerError,
			wantCalled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{deleteErr: tt.err}
			h := newTestHandler(t, svc)

			req := httptest.NewRequest(http.MethodDelete, "/api/customers/c1", nil)
			req.Header.Set(confirmCodeHeader, tt.code)
			rec := serveAuthorized(t, h, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.wantCalled, svc.deleteCalled)
		})
	}
}

func TestRecordTransaction_InvalidAmount(t *testing.T) {
	svc := &stubService{recordErr: validation.ErrAmountRequired}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/customers/c1/transactions",
		strings.NewReader(`{"type":"debt","amount":"abc"}`))
	rec := serveAuthorized(t, h, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestDownloadBackup_Attachment(t *testing.T) {
	svc := &stubService{
		snapshot: backup.Snapshot{
			Date:      time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
			Customers: []model.Customer{{ID: "c1", Name: "Ahmed", Currency: model.CurrencyIQD, ReminderDays: 30}},
		},
	}
	h := newTestHandler(t, svc)

	rec := serveAuthorized(t, h, httptest.NewRequest(http.MethodGet, "/api/backup", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "backup_2024-06-01.json")

	snap, err := backup.Decode(rec.Body)
	require.NoError(t, err)
	require.Len(t, snap.Customers, 1)
	assert.Equal(t, "Ahmed", snap.Customers[0].Name)
}

func TestRestoreBackup(t *testing.T) {
	t.Run("invalid file", func(t *testing.T) {
		h := newTestHandler(t, &stubService{})

		req := httptest.NewRequest(http.MethodPost, "/api/backup", strings.NewReader("not json"))
		rec := serveAuthorized(t, h, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("store failure keeps partial counts", func(t *testing.T) {
		svc := &stubService{
			restoreRes: service.RestoreResult{Customers: 1},
			restoreErr: errors.New("restore transaction for c1: connection reset"),
		}
		h := newTestHandler(t, svc)

		body := `{"customers":[{"id":"c1","name":"Ahmed"}],"transactions":[{"customerId":"c1","type":"debt","amount":1}]}`
		rec := serveAuthorized(t, h, httptest.NewRequest(http.MethodPost, "/api/backup", strings.NewReader(body)))

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
		}

		var resp restoreFailure
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Customers)
		assert.Equal(t, 0, resp.Transactions)
		assert.Contains(t, resp.Error, "connection reset")
	})

	t.Run("restored", func(t *testing.T) {
		svc := &stubService{restoreRes: service.RestoreResult{Customers: 1, Transactions: 1}}
		h := newTestHandler(t, svc)

		body := `{"date":"2024-06-01T10:00:00Z",
			"customers":[{"id":"c1","name":"Ahmed","currency":"IQD","reminderDays":30}],
			"transactions":[{"customerId":"c1","type":"debt","amount":5000,"date":"2024-05-01"}]}`
		req := httptest.NewRequest(http.MethodPost, "/api/backup", strings.NewReader(body))
		rec := serveAuthorized(t, h, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		require.Len(t, svc.restored.Customers, 1)
		require.Len(t, svc.restored.Transactions, 1)

		var res service.RestoreResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.Equal(t, 1, res.Customers)
	})
}

func TestStoreErrorMessageReturned(t *testing.T) {
	svc := &stubService{summaryErr: errors.New("select customers: connection refused")}
	h := newTestHandler(t, svc)

	rec := serveAuthorized(t, h, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	assert.Contains(t, rec.Body.String(), "store error: select customers: connection refused")
}

func TestSettings_RoundTrip(t *testing.T) {
	svc := &stubService{settings: model.Settings{WhatsApp: "9647700000000"}}
	h := newTestHandler(t, svc)

	rec := serveAuthorized(t, h, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	assert.JSONEq(t, `{"whatsapp":"9647700000000"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(`{"whatsapp":"9647711111111"}`))
	rec = serveAuthorized(t, h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	assert.Equal(t, "9647711111111", svc.savedSet.WhatsApp)
}

func TestChangeAdminPIN(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "changed", status: http.StatusOK},
		{name: "wrong current pin", err: service.ErrInvalidCredentials, status: http.StatusForbidden},
		{name: "mismatch", err: service.ErrPINMismatch, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{changeErr: tt.err})

			req := httptest.NewRequest(http.MethodPost, "/api/admin/password",
				strings.NewReader(`{"old":"1234","new":"5678","confirm":"5678"}`))
			rec := serveAuthorized(t, h, req)

			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
