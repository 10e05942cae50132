// Package ledger вычисляет балансы клиентов, просрочки и итоговые суммы по журналу операций.
//
// Все функции пакета чистые: входные данные не изменяются, а некорректные суммы и даты
// не приводят к ошибкам, а трактуются как ноль и «не просрочено» соответственно.
package ledger

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/merchant-ledger/internal/model"
)

const day = 24 * time.Hour

// CustomerStatus дополняет клиента вычисляемыми полями.
type CustomerStatus struct {
	model.Customer
	Balance   decimal.Decimal `json:"balance"`
	IsOverdue bool            `json:"isOverdue"`
	LastDate  string          `json:"lastDate,omitempty"`
}

// Summary содержит результат расчёта по всем клиентам.
type Summary struct {
	Customers []CustomerStatus
	Overdue   []CustomerStatus
	TotalDebt decimal.Decimal
	TotalPaid decimal.Decimal
}

// Compute рассчитывает балансы, признаки просрочки и итоговые суммы.
// Порядок клиентов в Customers и Overdue совпадает с порядком во входном списке.
func Compute(customers []model.Customer, transactions []model.Transaction, now time.Time) Summary {
	byCustomer := make(map[string][]model.Transaction, len(customers))
	balances := make(map[string]decimal.Decimal, len(customers))
	totalPaid := decimal.Zero

	for _, t := range transactions {
		byCustomer[t.CustomerID] = append(byCustomer[t.CustomerID], t)
		balances[t.CustomerID] = balances[t.CustomerID].Add(signedAmount(t))
		if t.Type == model.TransactionPayment {
			totalPaid = totalPaid.Add(t.Amount)
		}
	}

	summary := Summary{
		Customers: make([]CustomerStatus, 0, len(customers)),
		TotalDebt: decimal.Zero,
		TotalPaid: totalPaid,
	}

	for _, c := range customers {
		st := CustomerStatus{
			Customer: c,
			Balance:  balances[c.ID],
		}

		mine := byCustomer[c.ID]
		if len(mine) > 0 && st.Balance.IsPositive() {
			st.LastDate = SortByDateDesc(mine)[0].Date
			st.IsOverdue = isOverdue(st.LastDate, c.ReminderDays, now)
		}

		summary.TotalDebt = summary.TotalDebt.Add(st.Balance)
		summary.Customers = append(summary.Customers, st)
		if st.IsOverdue {
			summary.Overdue = append(summary.Overdue, st)
		}
	}

	return summary
}

// CustomerHistory возвращает операции клиента, отсортированные по дате от новых к старым,
// и баланс, пересчитанный только по ним.
func CustomerHistory(customerID string, transactions []model.Transaction) ([]model.Transaction, decimal.Decimal) {
	var mine []model.Transaction
	for _, t := range transactions {
		if t.CustomerID == customerID {
			mine = append(mine, t)
		}
	}

	mine = SortByDateDesc(mine)
	return mine, Balance(mine)
}

// Balance суммирует долги и продажи за вычетом оплат.
func Balance(transactions []model.Transaction) decimal.Decimal {
	var debit, credit decimal.Decimal
	for _, t := range transactions {
		switch t.Type {
		case model.TransactionDebt, model.TransactionSale:
			debit = debit.Add(t.Amount)
		case model.TransactionPayment:
			credit = credit.Add(t.Amount)
		}
	}
	return debit.Sub(credit)
}

func signedAmount(t model.Transaction) decimal.Decimal {
	switch t.Type {
	case model.TransactionDebt, model.TransactionSale:
		return t.Amount
	case model.TransactionPayment:
		return t.Amount.Neg()
	default:
		return decimal.Zero
	}
}

// SortByDateDesc возвращает копию списка, упорядоченную по дате операции от новых к старым.
// Операции с нераспознанной датой оказываются в конце.
func SortByDateDesc(transactions []model.Transaction) []model.Transaction {
	sorted := slices.Clone(transactions)
	slices.SortStableFunc(sorted, func(a, b model.Transaction) int {
		ta, okA := ParseDate(a.Date)
		tb, okB := ParseDate(b.Date)
		switch {
		case okA && okB:
			return tb.Compare(ta)
		case okA:
			return -1
		case okB:
			return 1
		default:
			return 0
		}
	})
	return sorted
}

// ParseDate разбирает дату операции в формате YYYY-MM-DD или RFC 3339.
// Даты без времени считаются полночью по UTC.
func ParseDate(s string) (time.Time, bool) {
	if t, err := time.ParseInLocation(time.DateOnly, s, time.UTC); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// DaysSince возвращает число суток между датами с округлением вверх.
func DaysSince(last, now time.Time) int64 {
	diff := now.Sub(last)
	if diff < 0 {
		diff = -diff
	}
	days := int64(diff / day)
	if diff%day != 0 {
		days++
	}
	return days
}

func isOverdue(lastDate string, reminderDays int, now time.Time) bool {
	last, ok := ParseDate(lastDate)
	if !ok {
		return false
	}
	if reminderDays <= 0 {
		reminderDays = model.DefaultReminderDays
	}
	return DaysSince(last, now) >= int64(reminderDays)
}
