// Пакет matcher распределяет средства между пожертвованиями и проектами
// по правилу "первый открытый: первый обслуженный"
package matcher

import (
	"errors"
	"fmt"
	"time"
)

// ErrConservationViolation означает нарушение сохранения средств.
// При корректных входных данных недостижима и считается внутренней ошибкой.
var ErrConservationViolation = errors.New("conservation of funds violated")

// Fundable: сторона распределения: проект или пожертвование.
// *model.CharityProject и *model.Donation реализуют его через встроенный FundingState.
type Fundable interface {
	Remaining() int64
	Invest(amount int64, now time.Time) error
}

// Transfer: одно перемещение средств между новым объектом и контрагентом
type Transfer[C Fundable] struct {
	Counterpart C
	Amount      int64
}

// TransferFunds переносит min(source.Remaining, sink.Remaining) и увеличивает
// вложенную сумму обеих сторон. Каждая сторона, достигшая полной суммы,
// закрывается сразу и независимо от другой.
func TransferFunds(source, sink Fundable, now time.Time) (int64, error) {
	amount := min(source.Remaining(), sink.Remaining())
	if amount <= 0 {
		return 0, nil
	}
	if err := source.Invest(amount, now); err != nil {
		return 0, fmt.Errorf("%w: source: %v", ErrConservationViolation, err)
	}
	if err := sink.Invest(amount, now); err != nil {
		return 0, fmt.Errorf("%w: sink: %v", ErrConservationViolation, err)
	}
	return amount, nil
}

// Allocate распределяет остаток newEntity по открытым контрагентам.
// counterparts должны быть отсортированы по create_date, затем по id.
// Возвращает перемещения в порядке обхода; каждый контрагент из результата
// изменён и должен быть сохранён вызывающей стороной.
func Allocate[C Fundable](newEntity Fundable, counterparts []C, now time.Time) ([]Transfer[C], error) {
	before := newEntity.Remaining()
	var (
		transfers []Transfer[C]
		moved     int64
	)
	for _, c := range counterparts {
		if newEntity.Remaining() <= 0 {
			break
		}
		if c.Remaining() <= 0 {
			continue
		}
		amount, err := TransferFunds(newEntity, c, now)
		if err != nil {
			return nil, err
		}
		moved += amount
		transfers = append(transfers, Transfer[C]{Counterpart: c, Amount: amount})
		if c.Remaining() < 0 {
			return nil, fmt.Errorf("%w: counterpart over-invested", ErrConservationViolation)
		}
	}
	// сверка: всё, что ушло контрагентам, списано с нового объекта
	if after := newEntity.Remaining(); after < 0 || before-after != moved {
		return nil, fmt.Errorf("%w: moved=%d remaining %d -> %d", ErrConservationViolation, moved, before, after)
	}
	return transfers, nil
}
