// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/mmeshcher/merchant-ledger/internal/ledger"
	"github.com/mmeshcher/merchant-ledger/internal/model"
)

// ErrInvalidInput оборачивается всеми ошибками валидации.
var ErrInvalidInput = errors.New("invalid input")

var (
	ErrNameRequired        = fmt.Errorf("%w: customer name is required", ErrInvalidInput)
	ErrInvalidCurrency     = fmt.Errorf("%w: unsupported currency", ErrInvalidInput)
	ErrInvalidReminderDays = fmt.Errorf("%w: reminder days must not be negative", ErrInvalidInput)
	ErrInvalidPIN          = fmt.Errorf("%w: pin must be three digits", ErrInvalidInput)
	ErrInvalidType         = fmt.Errorf("%w: unknown transaction type", ErrInvalidInput)
	ErrAmountRequired      = fmt.Errorf("%w: amount must be a positive number", ErrInvalidInput)
)

// CustomerInput описывает данные формы клиента.
type CustomerInput struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Currency     string `json:"currency"`
	ReminderDays int    `json:"reminderDays"`
	Password     string `json:"password"`
}

// Fields проверяет форму клиента и возвращает нормализованные поля.
// Пустой PIN-код допустим: его сгенерирует сервис.
func (in CustomerInput) Fields() (model.CustomerFields, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.CustomerFields{}, ErrNameRequired
	}

	currency := model.Currency(strings.ToUpper(strings.TrimSpace(in.Currency)))
	switch currency {
	case "":
		currency = model.CurrencyIQD
	case model.CurrencyIQD, model.CurrencyUSD:
	default:
		return model.CustomerFields{}, ErrInvalidCurrency
	}

	if in.ReminderDays < 0 {
		return model.CustomerFields{}, ErrInvalidReminderDays
	}
	reminderDays := in.ReminderDays
	if reminderDays == 0 {
		reminderDays = model.DefaultReminderDays
	}

	pin := strings.TrimSpace(in.Password)
	if pin != "" && !IsValidPIN(pin) {
		return model.CustomerFields{}, ErrInvalidPIN
	}

	return model.CustomerFields{
		Name:         name,
		Phone:        strings.TrimSpace(in.Phone),
		Currency:     currency,
		ReminderDays: reminderDays,
		Password:     pin,
	}, nil
}

// TransactionInput описывает данные формы операции. Сумма передаётся в том виде,
// в котором её ввёл пользователь, например "50.000".
type TransactionInput struct {
	Type   string `json:"type"`
	Amount string `json:"amount"`
	Date   string `json:"date"`
	Note   string `json:"note"`
	Item   string `json:"item"`
}

// Transaction проверяет форму операции и собирает операцию для указанного клиента.
// Пустая дата заменяется датой now.
func (in TransactionInput) Transaction(customerID string, now time.Time) (model.Transaction, error) {
	typ := model.TransactionType(strings.ToLower(strings.TrimSpace(in.Type)))
	switch typ {
	case model.TransactionDebt, model.TransactionSale, model.TransactionPayment:
	default:
		return model.Transaction{}, ErrInvalidType
	}

	amount, ok := ledger.ParseAmount(in.Amount)
	if !ok || !amount.IsPositive() {
		return model.Transaction{}, ErrAmountRequired
	}

	date := strings.TrimSpace(in.Date)
	if date == "" {
		date = now.Format(time.DateOnly)
	}

	return model.Transaction{
		CustomerID: customerID,
		Type:       typ,
		Amount:     amount,
		Date:       date,
		Note:       in.Note,
		Item:       in.Item,
		Timestamp:  now,
	}, nil
}

// IsValidPIN проверяет, что PIN-код клиента состоит ровно из трёх цифр.
func IsValidPIN(pin string) bool {
	if len(pin) != 3 {
		return false
	}
	for _, ch := range pin {
		if ch > unicode.MaxASCII || !unicode.IsDigit(ch) {
			return false
		}
	}
	return true
}
