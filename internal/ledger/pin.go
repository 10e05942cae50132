package ledger

import (
	"errors"
	"math/rand/v2"
	"strconv"

	"github.com/mmeshcher/merchant-ledger/internal/model"
)

// ErrDuplicatePIN возвращается, если PIN-код уже выдан другому клиенту.
var ErrDuplicatePIN = errors.New("pin already used by another customer")

// ErrPINSpaceExhausted возвращается, если все трёхзначные коды заняты.
var ErrPINSpaceExhausted = errors.New("no free pin left")

const (
	minPIN = 100
	maxPIN = 999
)

// AssignPIN проверяет запрошенный PIN-код на уникальность или генерирует новый.
//
// Проверка выполняется по снимку клиентов, загруженному вызывающей стороной, поэтому
// параллельные сессии могут выдать одинаковые коды. editingID исключает самого
// редактируемого клиента из сравнения; для нового клиента передаётся пустая строка.
func AssignPIN(requested, editingID string, customers []model.Customer, rnd *rand.Rand) (string, error) {
	taken := make(map[string]struct{}, len(customers))
	for _, c := range customers {
		if editingID != "" && c.ID == editingID {
			continue
		}
		taken[c.Password] = struct{}{}
	}

	if requested != "" {
		if _, ok := taken[requested]; ok {
			return "", ErrDuplicatePIN
		}
		return requested, nil
	}

	free := 0
	for n := minPIN; n <= maxPIN; n++ {
		if _, ok := taken[strconv.Itoa(n)]; !ok {
			free++
		}
	}
	if free == 0 {
		return "", ErrPINSpaceExhausted
	}

	for {
		pin := strconv.Itoa(minPIN + randIntN(rnd, maxPIN-minPIN+1))
		if _, ok := taken[pin]; !ok {
			return pin, nil
		}
	}
}

func randIntN(rnd *rand.Rand, n int) int {
	if rnd == nil {
		return rand.IntN(n)
	}
	return rnd.IntN(n)
}
