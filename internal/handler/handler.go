// Package handler содержит HTTP-обработчики API сервиса учёта долгов.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/merchant-ledger/internal/backup"
	"github.com/mmeshcher/merchant-ledger/internal/ledger"
	"github.com/mmeshcher/merchant-ledger/internal/middleware"
	"github.com/mmeshcher/merchant-ledger/internal/model"
	"github.com/mmeshcher/merchant-ledger/internal/repository"
	"github.com/mmeshcher/merchant-ledger/internal/service"
	"github.com/mmeshcher/merchant-ledger/internal/validation"
)

const (
	confirmCodeHeader = "X-Confirm-Code"
	maxBackupSize     = 32 << 20
	storeErrorPrefix  = "store error: "
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Dashboard(ctx context.Context) (ledger.Summary, error)
	CustomerView(ctx context.Context, id string) (*service.CustomerView, error)
	CreateCustomer(ctx context.Context, in validation.CustomerInput) (*model.Customer, error)
	UpdateCustomer(ctx context.Context, id string, in validation.CustomerInput) (*model.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error
	RecordTransaction(ctx context.Context, customerID string, in validation.TransactionInput) (*model.Transaction, error)
	ExportBackup(ctx context.Context) (backup.Snapshot, error)
	RestoreBackup(ctx context.Context, snap backup.Snapshot) (service.RestoreResult, error)
	Settings(ctx context.Context) (model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) error
	Login(ctx context.Context, pin, storeName string) (string, error)
	ChangeAdminPIN(ctx context.Context, oldPIN, newPIN, confirm string) error
}

// Handler реализует HTTP-обработчики API сервиса учёта долгов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	confirmCode    string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// confirmCode запрашивается у пользователя перед изменением и удалением клиента.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, confirmCode string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		confirmCode:    confirmCode,
	}
}

type loginRequest struct {
	PIN       string `json:"pin"`
	StoreName string `json:"storeName"`
}

type loginResponse struct {
	StoreName string `json:"storeName"`
}

// Login проверяет PIN-код администратора и открывает сессию.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.PIN == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	storeName, err := h.service.Login(r.Context(), req.PIN, req.StoreName)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w)
	h.writeJSON(w, http.StatusOK, loginResponse{StoreName: storeName})
}

// Logout завершает сессию администратора.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusOK)
}

type changePINRequest struct {
	Old     string `json:"old"`
	New     string `json:"new"`
	Confirm string `json:"confirm"`
}

// ChangeAdminPIN заменяет PIN-код администратора.
func (h *Handler) ChangeAdminPIN(w http.ResponseWriter, r *http.Request) {
	var req changePINRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.service.ChangeAdminPIN(r.Context(), req.Old, req.New, req.Confirm)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, "current pin is wrong", http.StatusForbidden)
			return
		}
		h.writeError(w, "change admin pin error", err)
		return
	}

	h.authMiddleware.ClearAuthCookie(w)
	w.WriteHeader(http.StatusOK)
}

type customerResponse struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Phone            string          `json:"phone"`
	Currency         model.Currency  `json:"currency"`
	ReminderDays     int             `json:"reminderDays"`
	Password         string          `json:"password,omitempty"`
	Balance          decimal.Decimal `json:"balance"`
	BalanceFormatted string          `json:"balanceFormatted"`
	IsOverdue        bool            `json:"isOverdue"`
	LastDate         string          `json:"lastDate,omitempty"`
}

func newCustomerResponse(st ledger.CustomerStatus) customerResponse {
	return customerResponse{
		ID:               st.ID,
		Name:             st.Name,
		Phone:            st.Phone,
		Currency:         st.Currency,
		ReminderDays:     st.ReminderDays,
		Balance:          st.Balance,
		BalanceFormatted: ledger.FormatCurrency(st.Balance, st.Currency),
		IsOverdue:        st.IsOverdue,
		LastDate:         st.LastDate,
	}
}

type dashboardResponse struct {
	TotalDebt          decimal.Decimal    `json:"totalDebt"`
	TotalDebtFormatted string             `json:"totalDebtFormatted"`
	TotalPaid          decimal.Decimal    `json:"totalPaid"`
	TotalPaidFormatted string             `json:"totalPaidFormatted"`
	CustomerCount      int                `json:"customerCount"`
	Customers          []customerResponse `json:"customers"`
	Overdue            []customerResponse `json:"overdue"`
}

// Dashboard возвращает балансы всех клиентов, итоги и список просроченных.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Dashboard(r.Context())
	if err != nil {
		h.writeError(w, "dashboard error", err)
		return
	}

	resp := dashboardResponse{
		TotalDebt:          summary.TotalDebt,
		TotalDebtFormatted: ledger.FormatCurrency(summary.TotalDebt, model.CurrencyIQD),
		TotalPaid:          summary.TotalPaid,
		TotalPaidFormatted: ledger.FormatCurrency(summary.TotalPaid, model.CurrencyIQD),
		CustomerCount:      len(summary.Customers),
		Customers:          make([]customerResponse, 0, len(summary.Customers)),
		Overdue:            make([]customerResponse, 0, len(summary.Overdue)),
	}
	for _, c := range summary.Customers {
		resp.Customers = append(resp.Customers, newCustomerResponse(c))
	}
	for _, c := range summary.Overdue {
		resp.Overdue = append(resp.Overdue, newCustomerResponse(c))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type transactionResponse struct {
	Key             int64                 `json:"key"`
	Type            model.TransactionType `json:"type"`
	Amount          decimal.Decimal       `json:"amount"`
	AmountFormatted string                `json:"amountFormatted"`
	Date            string                `json:"date"`
	Note            string                `json:"note,omitempty"`
	Item            string                `json:"item,omitempty"`
	Timestamp       string                `json:"timestamp"`
}

func newTransactionResponse(t model.Transaction, currency model.Currency) transactionResponse {
	return transactionResponse{
		Key:             t.Key,
		Type:            t.Type,
		Amount:          t.Amount,
		AmountFormatted: ledger.FormatCurrency(t.Amount, currency),
		Date:            t.Date,
		Note:            t.Note,
		Item:            t.Item,
		Timestamp:       t.Timestamp.Format(time.RFC3339),
	}
}

type customerViewResponse struct {
	customerResponse
	Transactions []transactionResponse `json:"transactions"`
}

// GetCustomer возвращает карточку клиента с историей операций.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	view, err := h.service.CustomerView(r.Context(), id)
	if err != nil {
		h.writeError(w, "get customer error", err, zap.String("customerID", id))
		return
	}

	c := view.Customer
	resp := customerViewResponse{
		customerResponse: customerResponse{
			ID:               c.ID,
			Name:             c.Name,
			Phone:            c.Phone,
			Currency:         c.Currency,
			ReminderDays:     c.ReminderDays,
			Password:         c.Password,
			Balance:          view.Balance,
			BalanceFormatted: ledger.FormatCurrency(view.Balance, c.Currency),
		},
		Transactions: make([]transactionResponse, 0, len(view.Transactions)),
	}
	for _, t := range view.Transactions {
		resp.Transactions = append(resp.Transactions, newTransactionResponse(t, c.Currency))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// CreateCustomer добавляет нового клиента.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req validation.CustomerInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.CreateCustomer(r.Context(), req)
	if err != nil {
		h.writeError(w, "create customer error", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, c)
}

// UpdateCustomer изменяет данные клиента после ввода кода подтверждения.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	if !h.confirmed(r) {
		http.Error(w, "wrong confirmation code", http.StatusForbidden)
		return
	}

	id := chi.URLParam(r, "id")

	var req validation.CustomerInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.UpdateCustomer(r.Context(), id, req)
	if err != nil {
		h.writeError(w, "update customer error", err, zap.String("customerID", id))
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

// DeleteCustomer удаляет клиента и все его операции после ввода кода подтверждения.
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	if !h.confirmed(r) {
		http.Error(w, "wrong confirmation code", http.StatusForbidden)
		return
	}

	id := chi.URLParam(r, "id")

	if err := h.service.DeleteCustomer(r.Context(), id); err != nil {
		h.writeError(w, "delete customer error", err, zap.String("customerID", id))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RecordTransaction добавляет операцию по счёту клиента.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req validation.TransactionInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.RecordTransaction(r.Context(), id, req)
	if err != nil {
		h.writeError(w, "record transaction error", err, zap.String("customerID", id))
		return
	}

	h.writeJSON(w, http.StatusCreated, t)
}

// DownloadBackup отдаёт резервную копию всех клиентов и операций файлом.
func (h *Handler) DownloadBackup(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.ExportBackup(r.Context())
	if err != nil {
		h.writeError(w, "export backup error", err)
		return
	}

	var buf bytes.Buffer
	if err := backup.Encode(&buf, snap); err != nil {
		h.writeError(w, "encode backup error", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+backup.FileName(snap.Date)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// restoreFailure сообщает, сколько записей успело восстановиться до ошибки.
type restoreFailure struct {
	service.RestoreResult
	Error string `json:"error"`
}

// RestoreBackup добавляет в хранилище все записи из присланной резервной копии.
func (h *Handler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	snap, err := backup.Decode(http.MaxBytesReader(w, r.Body, maxBackupSize))
	if err != nil {
		http.Error(w, backup.ErrInvalidBackup.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.service.RestoreBackup(r.Context(), snap)
	if err != nil {
		h.logger.Error("restore backup error", zap.Error(err),
			zap.Int("customers", res.Customers), zap.Int("transactions", res.Transactions))
		h.writeJSON(w, http.StatusInternalServerError, restoreFailure{
			RestoreResult: res,
			Error:         storeErrorPrefix + err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, res)
}

// GetSettings возвращает настройки магазина.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.service.Settings(r.Context())
	if err != nil {
		h.writeError(w, "get settings error", err)
		return
	}
	h.writeJSON(w, http.StatusOK, s)
}

// SaveSettings сохраняет настройки магазина.
func (h *Handler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	var req model.Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SaveSettings(r.Context(), req); err != nil {
		h.writeError(w, "save settings error", err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) confirmed(r *http.Request) bool {
	return h.confirmCode == "" || r.Header.Get(confirmCodeHeader) == h.confirmCode
}

// writeError переводит ошибку сервиса в HTTP-ответ. Ошибки хранилища пишутся в журнал
// и возвращаются пользователю с исходным сообщением.
func (h *Handler) writeError(w http.ResponseWriter, msg string, err error, fields ...zap.Field) {
	switch {
	case errors.Is(err, validation.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrDuplicatePIN), errors.Is(err, ledger.ErrPINSpaceExhausted):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, repository.ErrCustomerNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrCascadeIncomplete):
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		http.Error(w, storeErrorPrefix+err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}
