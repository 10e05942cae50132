// Package service реализует бизнес-логику учёта долгов магазина.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/merchant-ledger/internal/backup"
	"github.com/mmeshcher/merchant-ledger/internal/ledger"
	"github.com/mmeshcher/merchant-ledger/internal/model"
	"github.com/mmeshcher/merchant-ledger/internal/repository"
	"github.com/mmeshcher/merchant-ledger/internal/validation"
)

// DefaultAdminPIN принимается при первом входе, пока PIN-код администратора не сохранён.
const DefaultAdminPIN = "1234"

var (
	// ErrInvalidCredentials возвращается при неверном PIN-коде администратора.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPINMismatch возвращается, если новый PIN-код и его подтверждение не совпадают.
	ErrPINMismatch = fmt.Errorf("%w: pin confirmation does not match", validation.ErrInvalidInput)
	// ErrAdminPINRequired возвращается при попытке установить пустой PIN-код.
	ErrAdminPINRequired = fmt.Errorf("%w: new pin must not be empty", validation.ErrInvalidInput)
	// ErrCascadeIncomplete возвращается, если клиент удалён, но часть его операций осталась.
	ErrCascadeIncomplete = errors.New("customer deleted but some transactions were not")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	ListCustomers(ctx context.Context) ([]model.Customer, error)
	GetCustomer(ctx context.Context, id string) (*model.Customer, error)
	CreateCustomer(ctx context.Context, c model.Customer) (int64, error)
	UpdateCustomer(ctx context.Context, id string, f model.CustomerFields) error
	DeleteCustomer(ctx context.Context, id string) error
	ListTransactions(ctx context.Context) ([]model.Transaction, error)
	ListTransactionsForCustomer(ctx context.Context, customerID string) ([]model.Transaction, error)
	CreateTransaction(ctx context.Context, t model.Transaction) (int64, error)
	DeleteTransaction(ctx context.Context, key int64) error
	GetSettings(ctx context.Context) (model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) error
	GetAdminCredential(ctx context.Context) (model.AdminCredential, error)
	SaveAdminCredential(ctx context.Context, cred model.AdminCredential) error
}

// Service содержит бизнес-логику учёта долгов.
type Service struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
	rnd    *rand.Rand
}

// NewService создаёт новый сервис с указанным репозиторием.
func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CustomerView содержит карточку клиента и его операции от новых к старым.
type CustomerView struct {
	Customer     model.Customer
	Transactions []model.Transaction
	Balance      decimal.Decimal
}

// RestoreResult содержит число записей, добавленных при восстановлении.
type RestoreResult struct {
	Customers    int `json:"customers"`
	Transactions int `json:"transactions"`
}

// Dashboard загружает всех клиентов и все операции и рассчитывает сводку.
func (s *Service) Dashboard(ctx context.Context) (ledger.Summary, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return ledger.Summary{}, err
	}
	transactions, err := s.repo.ListTransactions(ctx)
	if err != nil {
		return ledger.Summary{}, err
	}
	return ledger.Compute(customers, transactions, s.now()), nil
}

// CustomerView возвращает клиента, его операции и независимо пересчитанный баланс.
func (s *Service) CustomerView(ctx context.Context, id string) (*CustomerView, error) {
	c, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}

	transactions, err := s.repo.ListTransactionsForCustomer(ctx, id)
	if err != nil {
		return nil, err
	}

	history, balance := ledger.CustomerHistory(id, transactions)
	return &CustomerView{
		Customer:     *c,
		Transactions: history,
		Balance:      balance,
	}, nil
}

// CreateCustomer проверяет форму, выдаёт уникальный PIN-код и сохраняет нового клиента.
func (s *Service) CreateCustomer(ctx context.Context, in validation.CustomerInput) (*model.Customer, error) {
	fields, err := in.Fields()
	if err != nil {
		return nil, err
	}

	snapshot, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}

	pin, err := ledger.AssignPIN(fields.Password, "", snapshot, s.rnd)
	if err != nil {
		return nil, err
	}

	c := model.Customer{
		ID:           uuid.NewString(),
		Name:         fields.Name,
		Phone:        fields.Phone,
		Currency:     fields.Currency,
		ReminderDays: fields.ReminderDays,
		Password:     pin,
		Created:      s.now().UTC(),
	}

	key, err := s.repo.CreateCustomer(ctx, c)
	if err != nil {
		return nil, err
	}
	c.Key = key

	return &c, nil
}

// UpdateCustomer изменяет данные клиента. История операций не переносится.
func (s *Service) UpdateCustomer(ctx context.Context, id string, in validation.CustomerInput) (*model.Customer, error) {
	fields, err := in.Fields()
	if err != nil {
		return nil, err
	}

	snapshot, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}

	var current *model.Customer
	for i := range snapshot {
		if snapshot[i].ID == id {
			current = &snapshot[i]
			break
		}
	}
	if current == nil {
		return nil, repository.ErrCustomerNotFound
	}

	fields.Password, err = ledger.AssignPIN(fields.Password, id, snapshot, s.rnd)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateCustomer(ctx, id, fields); err != nil {
		return nil, err
	}

	updated := *current
	updated.Name = fields.Name
	updated.Phone = fields.Phone
	updated.Currency = fields.Currency
	updated.ReminderDays = fields.ReminderDays
	updated.Password = fields.Password

	return &updated, nil
}

// DeleteCustomer удаляет клиента вместе со всеми его операциями.
// Ключи операций собираются до удаления; успех возвращается, только когда удалены все.
func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	transactions, err := s.repo.ListTransactionsForCustomer(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return err
	}

	var errs []error
	for _, t := range transactions {
		err := s.repo.DeleteTransaction(ctx, t.Key)
		if err != nil && !errors.Is(err, repository.ErrTransactionNotFound) {
			errs = append(errs, fmt.Errorf("transaction %d: %w", t.Key, err))
		}
	}

	if len(errs) > 0 {
		s.logger.Error("cascade delete incomplete",
			zap.String("customerID", id),
			zap.Int("failed", len(errs)),
			zap.Int("total", len(transactions)),
		)
		return errors.Join(append([]error{ErrCascadeIncomplete}, errs...)...)
	}

	return nil
}

// RecordTransaction проверяет форму и сохраняет операцию по счёту существующего клиента.
func (s *Service) RecordTransaction(ctx context.Context, customerID string, in validation.TransactionInput) (*model.Transaction, error) {
	t, err := in.Transaction(customerID, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	key, err := s.repo.CreateTransaction(ctx, t)
	if err != nil {
		return nil, err
	}
	t.Key = key

	return &t, nil
}

// ExportBackup собирает снимок всех клиентов и операций.
func (s *Service) ExportBackup(ctx context.Context) (backup.Snapshot, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return backup.Snapshot{}, err
	}
	transactions, err := s.repo.ListTransactions(ctx)
	if err != nil {
		return backup.Snapshot{}, err
	}
	return backup.Snapshot{
		Date:         s.now().UTC(),
		Customers:    customers,
		Transactions: transactions,
	}, nil
}

// RestoreBackup добавляет все записи снимка как новые. Повторное восстановление
// дублирует данные. Первая ошибка хранилища прерывает восстановление.
func (s *Service) RestoreBackup(ctx context.Context, snap backup.Snapshot) (RestoreResult, error) {
	var res RestoreResult
	now := s.now().UTC()

	for _, c := range snap.Customers {
		if c.Created.IsZero() {
			c.Created = now
		}
		if _, err := s.repo.CreateCustomer(ctx, c); err != nil {
			return res, fmt.Errorf("restore customer %s: %w", c.ID, err)
		}
		res.Customers++
	}

	for _, t := range snap.Transactions {
		if t.Timestamp.IsZero() {
			t.Timestamp = now
		}
		if _, err := s.repo.CreateTransaction(ctx, t); err != nil {
			return res, fmt.Errorf("restore transaction for %s: %w", t.CustomerID, err)
		}
		res.Transactions++
	}

	s.logger.Info("backup restored",
		zap.Int("customers", res.Customers),
		zap.Int("transactions", res.Transactions),
	)

	return res, nil
}

// Settings возвращает настройки магазина.
func (s *Service) Settings(ctx context.Context) (model.Settings, error) {
	return s.repo.GetSettings(ctx)
}

// SaveSettings сохраняет номер WhatsApp магазина. Пустой номер игнорируется.
func (s *Service) SaveSettings(ctx context.Context, settings model.Settings) error {
	if settings.WhatsApp == "" {
		return nil
	}
	return s.repo.SaveSettings(ctx, settings)
}

// Login проверяет PIN-код администратора и возвращает название магазина.
// Пока PIN-код не сохранён, принимается только DefaultAdminPIN, хеш которого
// сохраняется при первом входе. Непустое storeName сохраняется после успешного входа.
func (s *Service) Login(ctx context.Context, pin, storeName string) (string, error) {
	cred, err := s.repo.GetAdminCredential(ctx)
	if err != nil {
		return "", err
	}

	update := model.AdminCredential{StoreName: storeName}

	if cred.PassHash == "" {
		if pin != DefaultAdminPIN {
			return "", fmt.Errorf("%w: first login requires the default pin", ErrInvalidCredentials)
		}
		update.PassHash = hashPIN(pin)
	} else if !pinMatches(pin, cred.PassHash) {
		return "", ErrInvalidCredentials
	}

	if update.PassHash != "" || update.StoreName != "" {
		if err := s.repo.SaveAdminCredential(ctx, update); err != nil {
			return "", err
		}
	}

	if storeName != "" {
		return storeName, nil
	}
	return cred.StoreName, nil
}

// ChangeAdminPIN заменяет PIN-код администратора.
func (s *Service) ChangeAdminPIN(ctx context.Context, oldPIN, newPIN, confirm string) error {
	cred, err := s.repo.GetAdminCredential(ctx)
	if err != nil {
		return err
	}

	if cred.PassHash == "" || !pinMatches(oldPIN, cred.PassHash) {
		return ErrInvalidCredentials
	}
	if newPIN != confirm {
		return ErrPINMismatch
	}
	if newPIN == "" {
		return ErrAdminPINRequired
	}

	return s.repo.SaveAdminCredential(ctx, model.AdminCredential{PassHash: hashPIN(newPIN)})
}

func hashPIN(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])
}

func pinMatches(pin, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(hashPIN(pin)), []byte(hash)) == 1
}
