// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/merchant-ledger/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrCustomerNotFound возвращается, если клиента с указанным идентификатором нет.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrTransactionNotFound возвращается, если операции с указанным ключом нет.
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Ключи записей в таблице настроек.
const (
	settingWhatsApp  = "whatsapp"
	settingAdminPass = "admin_pass"
	settingStoreName = "store_name"
)

var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при временных ошибках: конфликтах сериализации,
// взаимных блокировках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) || i == len(retryDelays) {
			return err
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected ||
			pgerrcode.IsConnectionException(pgErr.Code)
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// ListCustomers возвращает всех клиентов в порядке добавления.
func (r *PostgresRepository) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	var customers []model.Customer
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT key, id, name, phone, currency, reminder_days, password, created
			 FROM customers
			 ORDER BY key`,
		)
		if err != nil {
			return fmt.Errorf("select customers: %w", err)
		}
		defer rows.Close()

		customers = customers[:0]
		for rows.Next() {
			var (
				c        model.Customer
				currency string
			)
			if err := rows.Scan(&c.Key, &c.ID, &c.Name, &c.Phone, &currency, &c.ReminderDays, &c.Password, &c.Created); err != nil {
				return fmt.Errorf("scan customer: %w", err)
			}
			c.Currency = model.Currency(currency)
			customers = append(customers, c)
		}

		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return customers, nil
}

// GetCustomer возвращает клиента по идентификатору. При дубликатах после восстановления
// из копии возвращается самая ранняя запись.
func (r *PostgresRepository) GetCustomer(ctx context.Context, id string) (*model.Customer, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT key, id, name, phone, currency, reminder_days, password, created
		 FROM customers
		 WHERE id = $1
		 ORDER BY key
		 LIMIT 1`,
		id,
	)

	var (
		c        model.Customer
		currency string
	)
	err := row.Scan(&c.Key, &c.ID, &c.Name, &c.Phone, &currency, &c.ReminderDays, &c.Password, &c.Created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}
	c.Currency = model.Currency(currency)

	return &c, nil
}

// CreateCustomer сохраняет клиента и возвращает ключ записи.
func (r *PostgresRepository) CreateCustomer(ctx context.Context, c model.Customer) (int64, error) {
	var key int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO customers (id, name, phone, currency, reminder_days, password, created)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING key`,
		c.ID, c.Name, c.Phone, string(c.Currency), c.ReminderDays, c.Password, c.Created,
	).Scan(&key)
	if err != nil {
		return 0, fmt.Errorf("create customer: %w", err)
	}
	return key, nil
}

// UpdateCustomer обновляет изменяемые поля клиента.
func (r *PostgresRepository) UpdateCustomer(ctx context.Context, id string, f model.CustomerFields) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE customers
		 SET name = $2, phone = $3, currency = $4, reminder_days = $5, password = $6
		 WHERE id = $1`,
		id, f.Name, f.Phone, string(f.Currency), f.ReminderDays, f.Password,
	)
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// DeleteCustomer удаляет клиента. Операции клиента не затрагиваются.
func (r *PostgresRepository) DeleteCustomer(ctx context.Context, id string) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete customer: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

const selectTransactions = `SELECT key, customer_id, type, amount::text, business_date, note, item, created_at FROM transactions`

// ListTransactions возвращает все операции.
func (r *PostgresRepository) ListTransactions(ctx context.Context) ([]model.Transaction, error) {
	var res []model.Transaction
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx, selectTransactions+` ORDER BY key`)
		if err != nil {
			return fmt.Errorf("select transactions: %w", err)
		}
		res, err = scanTransactions(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ListTransactionsForCustomer возвращает операции указанного клиента.
func (r *PostgresRepository) ListTransactionsForCustomer(ctx context.Context, customerID string) ([]model.Transaction, error) {
	var res []model.Transaction
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx, selectTransactions+` WHERE customer_id = $1 ORDER BY key`, customerID)
		if err != nil {
			return fmt.Errorf("select customer transactions: %w", err)
		}
		res, err = scanTransactions(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func scanTransactions(rows pgx.Rows) ([]model.Transaction, error) {
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		var (
			t      model.Transaction
			typ    string
			amount string
		)
		if err := rows.Scan(&t.Key, &t.CustomerID, &typ, &amount, &t.Date, &t.Note, &t.Item, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}

		t.Type = model.TransactionType(typ)
		if d, err := decimal.NewFromString(amount); err == nil {
			t.Amount = d
		}
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateTransaction сохраняет операцию и возвращает ключ записи.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, t model.Transaction) (int64, error) {
	var key int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO transactions (customer_id, type, amount, business_date, note, item, created_at)
		 VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
		 RETURNING key`,
		t.CustomerID, string(t.Type), t.Amount.String(), t.Date, t.Note, t.Item, t.Timestamp,
	).Scan(&key)
	if err != nil {
		return 0, fmt.Errorf("create transaction: %w", err)
	}
	return key, nil
}

// DeleteTransaction удаляет операцию по ключу записи.
func (r *PostgresRepository) DeleteTransaction(ctx context.Context, key int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM transactions WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// GetSettings возвращает настройки магазина. Отсутствующие значения остаются пустыми.
func (r *PostgresRepository) GetSettings(ctx context.Context) (model.Settings, error) {
	whatsapp, err := r.getSetting(ctx, settingWhatsApp)
	if err != nil {
		return model.Settings{}, err
	}
	return model.Settings{WhatsApp: whatsapp}, nil
}

// SaveSettings сохраняет настройки магазина.
func (r *PostgresRepository) SaveSettings(ctx context.Context, s model.Settings) error {
	return r.setSettings(ctx, map[string]string{settingWhatsApp: s.WhatsApp})
}

// GetAdminCredential возвращает хеш PIN-кода администратора и название магазина.
func (r *PostgresRepository) GetAdminCredential(ctx context.Context) (model.AdminCredential, error) {
	pass, err := r.getSetting(ctx, settingAdminPass)
	if err != nil {
		return model.AdminCredential{}, err
	}
	storeName, err := r.getSetting(ctx, settingStoreName)
	if err != nil {
		return model.AdminCredential{}, err
	}
	return model.AdminCredential{PassHash: pass, StoreName: storeName}, nil
}

// SaveAdminCredential сохраняет непустые поля учётных данных администратора.
func (r *PostgresRepository) SaveAdminCredential(ctx context.Context, cred model.AdminCredential) error {
	values := make(map[string]string, 2)
	if cred.PassHash != "" {
		values[settingAdminPass] = cred.PassHash
	}
	if cred.StoreName != "" {
		values[settingStoreName] = cred.StoreName
	}
	return r.setSettings(ctx, values)
}

func (r *PostgresRepository) getSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

func (r *PostgresRepository) setSettings(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		for key, value := range values {
			_, err := tx.Exec(ctx,
				`INSERT INTO settings (key, value) VALUES ($1, $2)
				 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
				key, value,
			)
			if err != nil {
				return fmt.Errorf("upsert setting %s: %w", key, err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}
