package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxProjectNameLength: ограничение длины имени проекта (столбец VARCHAR(100))
const MaxProjectNameLength = 100

// ErrValidation: общий признак ошибок валидации, errors.Is(err, ErrValidation)
// истинно для любой *ValidationError
var ErrValidation = errors.New("validation failed")

// ValidationError описывает нарушение бизнес-правила.
// Code: машинно-читаемый код, Message: текст для клиента.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

var (
	ErrAmountNotPositive     = &ValidationError{Code: "amount_not_positive", Message: "full amount must be greater than zero"}
	ErrNameEmpty             = &ValidationError{Code: "name_empty", Message: "project name cannot be empty"}
	ErrNameTooLong           = &ValidationError{Code: "name_too_long", Message: "project name cannot be longer than 100 characters"}
	ErrDescriptionEmpty      = &ValidationError{Code: "description_empty", Message: "project description cannot be empty"}
	ErrNameTaken             = &ValidationError{Code: "name_taken", Message: "project with this name already exists"}
	ErrProjectClosed         = &ValidationError{Code: "project_closed", Message: "closed project cannot be edited"}
	ErrAmountBelowInvested   = &ValidationError{Code: "amount_below_invested", Message: "full amount cannot be less than the invested amount"}
	ErrProjectHasInvestments = &ValidationError{Code: "project_has_investments", Message: "cannot delete a project that already has investments"}
	ErrEmptyUpdate           = &ValidationError{Code: "empty_update", Message: "nothing to update"}
)

// ValidateProjectName проверяет непустое имя допустимой длины
func ValidateProjectName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxProjectNameLength {
		return ErrNameTooLong
	}
	return nil
}

// ValidateNewProject проверяет поля нового проекта
func ValidateNewProject(name, description string, fullAmount int64) error {
	if err := ValidateProjectName(name); err != nil {
		return err
	}
	if strings.TrimSpace(description) == "" {
		return ErrDescriptionEmpty
	}
	if fullAmount <= 0 {
		return ErrAmountNotPositive
	}
	return nil
}

// ValidateNewDonation проверяет сумму нового пожертвования
func ValidateNewDonation(fullAmount int64) error {
	if fullAmount <= 0 {
		return ErrAmountNotPositive
	}
	return nil
}

// CheckUpdate проверяет, что изменение допустимо для текущего состояния проекта.
// Уникальность имени проверяется отдельно, так как требует обращения к хранилищу.
func (p *CharityProject) CheckUpdate(upd ProjectUpdate) error {
	if upd.Name == nil && upd.Description == nil && upd.FullAmount == nil {
		return ErrEmptyUpdate
	}
	if p.FullyInvested {
		return ErrProjectClosed
	}
	if upd.Name != nil {
		if err := ValidateProjectName(*upd.Name); err != nil {
			return err
		}
	}
	if upd.Description != nil && strings.TrimSpace(*upd.Description) == "" {
		return ErrDescriptionEmpty
	}
	if upd.FullAmount != nil {
		if *upd.FullAmount <= 0 {
			return ErrAmountNotPositive
		}
		if *upd.FullAmount < p.InvestedAmount {
			return ErrAmountBelowInvested
		}
	}
	return nil
}

// CheckDelete разрешает удаление только проекта, в который ещё ничего не вложено
func (p *CharityProject) CheckDelete() error {
	if p.InvestedAmount != 0 {
		return ErrProjectHasInvestments
	}
	return nil
}

// Apply применяет уже проверенное изменение. Если новая полная сумма
// совпала с вложенной, проект закрывается.
func (p *CharityProject) Apply(upd ProjectUpdate, now time.Time) {
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	if upd.FullAmount != nil {
		p.FullAmount = *upd.FullAmount
		p.closeIfFull(now)
	}
}
