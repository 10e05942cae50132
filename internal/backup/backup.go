// Package backup кодирует и разбирает файл резервной копии клиентов и операций.
package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/merchant-ledger/internal/model"
)

// ErrInvalidBackup возвращается, если файл резервной копии не удалось разобрать.
var ErrInvalidBackup = errors.New("invalid backup file")

// Snapshot описывает содержимое резервной копии без ключей хранилища и вычисляемых полей.
type Snapshot struct {
	Date         time.Time
	Customers    []model.Customer
	Transactions []model.Transaction
}

type fileCustomer struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Phone        string         `json:"phone"`
	Currency     model.Currency `json:"currency"`
	ReminderDays flexInt        `json:"reminderDays"`
	Password     string         `json:"password"`
	Created      string         `json:"created,omitempty"`
}

type fileTransaction struct {
	CustomerID string                `json:"customerId"`
	Type       model.TransactionType `json:"type"`
	Amount     flexAmount            `json:"amount"`
	Date       string                `json:"date"`
	Note       string                `json:"note"`
	Item       string                `json:"item"`
	Timestamp  string                `json:"timestamp"`
}

type file struct {
	Date         string            `json:"date"`
	Customers    []fileCustomer    `json:"customers"`
	Transactions []fileTransaction `json:"transactions"`
}

// FileName возвращает имя файла резервной копии на указанную дату.
func FileName(at time.Time) string {
	return fmt.Sprintf("backup_%s.json", at.UTC().Format(time.DateOnly))
}

// Encode записывает снимок в формате файла резервной копии.
func Encode(w io.Writer, snap Snapshot) error {
	f := file{
		Date:         snap.Date.UTC().Format(time.RFC3339Nano),
		Customers:    make([]fileCustomer, 0, len(snap.Customers)),
		Transactions: make([]fileTransaction, 0, len(snap.Transactions)),
	}

	for _, c := range snap.Customers {
		fc := fileCustomer{
			ID:           c.ID,
			Name:         c.Name,
			Phone:        c.Phone,
			Currency:     c.Currency,
			ReminderDays: flexInt(c.ReminderDays),
			Password:     c.Password,
		}
		if !c.Created.IsZero() {
			fc.Created = c.Created.UTC().Format(time.RFC3339Nano)
		}
		f.Customers = append(f.Customers, fc)
	}

	for _, t := range snap.Transactions {
		f.Transactions = append(f.Transactions, fileTransaction{
			CustomerID: t.CustomerID,
			Type:       t.Type,
			Amount:     flexAmount(t.Amount),
			Date:       t.Date,
			Note:       t.Note,
			Item:       t.Item,
			Timestamp:  t.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}

	if err := json.NewEncoder(w).Encode(f); err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	return nil
}

// Decode разбирает файл резервной копии. Любая синтаксическая ошибка JSON прерывает
// восстановление целиком, а некорректные суммы и даты внутри записей заменяются нулём.
func Decode(r io.Reader) (Snapshot, error) {
	var f file
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}

	snap := Snapshot{
		Date:         parseInstant(f.Date),
		Customers:    make([]model.Customer, 0, len(f.Customers)),
		Transactions: make([]model.Transaction, 0, len(f.Transactions)),
	}

	for _, c := range f.Customers {
		snap.Customers = append(snap.Customers, model.Customer{
			ID:           c.ID,
			Name:         c.Name,
			Phone:        c.Phone,
			Currency:     c.Currency,
			ReminderDays: int(c.ReminderDays),
			Password:     c.Password,
			Created:      parseInstant(c.Created),
		})
	}

	for _, t := range f.Transactions {
		snap.Transactions = append(snap.Transactions, model.Transaction{
			CustomerID: t.CustomerID,
			Type:       t.Type,
			Amount:     decimal.Decimal(t.Amount),
			Date:       t.Date,
			Note:       t.Note,
			Item:       t.Item,
			Timestamp:  parseInstant(t.Timestamp),
		})
	}

	return snap, nil
}

func parseInstant(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// flexAmount принимает сумму числом или строкой; нераспознанное значение даёт ноль.
type flexAmount decimal.Decimal

func (a flexAmount) MarshalJSON() ([]byte, error) {
	return []byte(decimal.Decimal(a).String()), nil
}

func (a *flexAmount) UnmarshalJSON(data []byte) error {
	raw := string(bytes.Trim(bytes.TrimSpace(data), `"`))
	d, err := decimal.NewFromString(raw)
	if err != nil {
		d = decimal.Zero
	}
	*a = flexAmount(d)
	return nil
}

// flexInt принимает целое числом или строкой, как его сохраняла веб-форма.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	raw := string(bytes.Trim(bytes.TrimSpace(data), `"`))
	v, err := strconv.Atoi(raw)
	if err != nil {
		v = 0
	}
	*n = flexInt(v)
	return nil
}
