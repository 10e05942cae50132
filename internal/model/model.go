// Package model содержит доменные сущности сервиса учёта долгов.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency описывает валюту, в которой ведётся счёт клиента.
type Currency string

const (
	CurrencyIQD Currency = "IQD"
	CurrencyUSD Currency = "USD"
)

// TransactionType описывает вид операции по счёту клиента.
type TransactionType string

const (
	TransactionDebt    TransactionType = "debt"
	TransactionSale    TransactionType = "sale"
	TransactionPayment TransactionType = "payment"
)

// DefaultReminderDays задаёт порог просрочки по умолчанию.
const DefaultReminderDays = 30

// Customer представляет клиента магазина.
type Customer struct {
	Key          int64     `json:"-"`
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Phone        string    `json:"phone"`
	Currency     Currency  `json:"currency"`
	ReminderDays int       `json:"reminderDays"`
	Password     string    `json:"password"`
	Created      time.Time `json:"created"`
}

// CustomerFields содержит изменяемые поля клиента.
type CustomerFields struct {
	Name         string
	Phone        string
	Currency     Currency
	ReminderDays int
	Password     string
}

// Transaction описывает операцию по счёту клиента. Операции не редактируются.
type Transaction struct {
	Key        int64           `json:"key"`
	CustomerID string          `json:"customerId"`
	Type       TransactionType `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Date       string          `json:"date"`
	Note       string          `json:"note"`
	Item       string          `json:"item"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Settings хранит общие настройки магазина.
type Settings struct {
	WhatsApp string `json:"whatsapp"`
}

// AdminCredential хранит хеш PIN-кода администратора и название магазина.
type AdminCredential struct {
	PassHash  string
	StoreName string
}
