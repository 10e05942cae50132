package ledger

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/mmeshcher/merchant-ledger/internal/model"
)

// LocalCurrencyMarker добавляется после сумм в иракских динарах.
const LocalCurrencyMarker = "د.ع"

const (
	groupSeparator   = "."
	decimalSeparator = ","
)

// FormatAmount форматирует сумму по немецким правилам: точка разделяет тысячи, запятая
// стоит перед дробной частью. Дробная часть округляется до двух знаков, нули в конце
// отбрасываются. Целые суммы в пределах int64 печатаются точно, дробные проходят через
// float64 и теряют точность только выше 2^53 сотых.
func FormatAmount(amount decimal.Decimal) string {
	rounded := amount.Round(2)
	p := message.NewPrinter(language.German)

	if rounded.IsInteger() && rounded.BigInt().IsInt64() {
		return p.Sprint(number.Decimal(rounded.IntPart()))
	}
	return p.Sprint(number.Decimal(rounded.InexactFloat64(), number.MaxFractionDigits(2)))
}

// FormatCurrency форматирует сумму с обозначением валюты клиента.
func FormatCurrency(amount decimal.Decimal, currency model.Currency) string {
	formatted := FormatAmount(amount)
	if currency == model.CurrencyUSD {
		return "$" + formatted
	}
	return formatted + " " + LocalCurrencyMarker
}

// ParseAmount разбирает введённую сумму. Точки и запятые считаются разделителями тысяч
// и удаляются, поэтому дробные суммы не поддерживаются. Как и parseFloat, функция читает
// число в начале строки, включая показатель степени ("1e5"), и игнорирует остаток.
// ok == false, если цифр нет.
func ParseAmount(raw string) (amount decimal.Decimal, ok bool) {
	cleaned := strings.NewReplacer(groupSeparator, "", decimalSeparator, "").Replace(raw)
	cleaned = strings.TrimLeftFunc(cleaned, unicode.IsSpace)

	negative := strings.HasPrefix(cleaned, "-")
	if negative || strings.HasPrefix(cleaned, "+") {
		cleaned = cleaned[1:]
	}

	end := skipDigits(cleaned, 0)
	if end == 0 {
		return decimal.Zero, false
	}

	if end < len(cleaned) && (cleaned[end] == 'e' || cleaned[end] == 'E') {
		exp := end + 1
		if exp < len(cleaned) && (cleaned[exp] == '+' || cleaned[exp] == '-') {
			exp++
		}
		if expEnd := skipDigits(cleaned, exp); expEnd > exp {
			end = expEnd
		}
	}

	amount, err := decimal.NewFromString(cleaned[:end])
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		amount = amount.Neg()
	}
	return amount, true
}

func skipDigits(s string, i int) int {
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return i
}
