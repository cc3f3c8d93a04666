package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrOverInvestment возвращается при попытке вложить больше, чем осталось до полной суммы
var ErrOverInvestment = errors.New("investment exceeds remaining amount")

// FundingState содержит общие для проектов и пожертвований поля сумм и дат.
// Встраивается по значению в CharityProject и Donation.
type FundingState struct {
	FullAmount     int64      `db:"full_amount" json:"full_amount"`
	InvestedAmount int64      `db:"invested_amount" json:"invested_amount"`
	FullyInvested  bool       `db:"fully_invested" json:"fully_invested"`
	CreateDate     time.Time  `db:"create_date" json:"create_date"`
	CloseDate      *time.Time `db:"close_date" json:"close_date,omitempty"`
}

// Remaining возвращает ещё не распределённую часть полной суммы
func (s *FundingState) Remaining() int64 {
	return s.FullAmount - s.InvestedAmount
}

// Invest увеличивает вложенную сумму на amount и закрывает объект,
// если он стал полностью инвестирован
func (s *FundingState) Invest(amount int64, now time.Time) error {
	if amount < 0 || amount > s.Remaining() {
		return fmt.Errorf("%w: amount=%d remaining=%d", ErrOverInvestment, amount, s.Remaining())
	}
	s.InvestedAmount += amount
	s.closeIfFull(now)
	return nil
}

// closeIfFull проставляет fully_invested и close_date ровно один раз
func (s *FundingState) closeIfFull(now time.Time) {
	if s.FullyInvested || s.InvestedAmount != s.FullAmount {
		return
	}
	closed := now
	s.FullyInvested = true
	s.CloseDate = &closed
}

// CharityProject представляет целевой проект фонда (таблица charity_project)
type CharityProject struct {
	ID          int    `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	FundingState
}

// Donation представляет пожертвование пользователя (таблица donation)
type Donation struct {
	ID      int     `db:"id" json:"id"`
	UserID  int     `db:"user_id" json:"user_id"`
	Comment *string `db:"comment" json:"comment,omitempty"`
	FundingState
}

// DonationShort: представление пожертвования для его владельца,
// без служебных полей распределения
type DonationShort struct {
	ID         int       `json:"id"`
	Comment    *string   `json:"comment,omitempty"`
	FullAmount int64     `json:"full_amount"`
	CreateDate time.Time `json:"create_date"`
}

// Short возвращает сокращённое представление пожертвования
func (d *Donation) Short() DonationShort {
	return DonationShort{
		ID:         d.ID,
		Comment:    d.Comment,
		FullAmount: d.FullAmount,
		CreateDate: d.CreateDate,
	}
}

// ProjectUpdate описывает частичное изменение проекта, nil означает "не менять"
type ProjectUpdate struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	FullAmount  *int64  `json:"full_amount"`
}

// ProjectCompletion: закрытый проект и время, за которое он собрал средства
type ProjectCompletion struct {
	ID                int    `db:"id" json:"id"`
	Name              string `db:"name" json:"name"`
	Description       string `db:"description" json:"description"`
	CompletionSeconds int64  `db:"completion_rate" json:"completion_rate"`
}

// InvestmentEvent: одно перемещение средств из пожертвования в проект.
// Публикуется в NATS и сохраняется консьюмером в ClickHouse.
type InvestmentEvent struct {
	ProjectID      int       `json:"project_id"`
	DonationID     int       `json:"donation_id"`
	Amount         int64     `json:"amount"`
	ProjectClosed  bool      `json:"project_closed"`
	DonationClosed bool      `json:"donation_closed"`
	CreatedAt      time.Time `json:"created_at"`
}
