package domain

import (
	"fmt"
	"strings"
)

// ArchiveStatus — крупный этап жизненного цикла заказа.
type ArchiveStatus string

const (
	// ArchiveActive — заказ в работе, начальное состояние.
	ArchiveActive ArchiveStatus = "ACTIVE"
	// ArchivePaid — ремонт оплачен.
	ArchivePaid ArchiveStatus = "PAID"
	// ArchiveNet — оплата по условиям отсрочки (net terms).
	ArchiveNet ArchiveStatus = "NET"
	// ArchiveReturned — деталь возвращена без ремонта.
	ArchiveReturned ArchiveStatus = "RETURNED"
)

// ArchiveStatuses перечисляет статусы в фиксированном порядке поиска по таблицам.
var ArchiveStatuses = []ArchiveStatus{ArchiveActive, ArchivePaid, ArchiveNet, ArchiveReturned}

// ParseArchiveStatus разбирает статус без учёта регистра; пустая строка означает ACTIVE.
func ParseArchiveStatus(raw string) (ArchiveStatus, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return ArchiveActive, nil
	}
	status := ArchiveStatus(raw)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrArchiveStatusInvalid, raw)
	}
	return status, nil
}

// Valid сообщает, входит ли статус в известный набор.
func (s ArchiveStatus) Valid() bool {
	switch s {
	case ArchiveActive, ArchivePaid, ArchiveNet, ArchiveReturned:
		return true
	}
	return false
}

// Terminal сообщает, является ли статус конечным.
func (s ArchiveStatus) Terminal() bool {
	return s.Valid() && s != ArchiveActive
}

// CanTransition проверяет переход архивного статуса.
// Разрешён только ACTIVE -> PAID|NET|RETURNED; возврата в ACTIVE нет.
func CanTransition(from, to ArchiveStatus) error {
	if !from.Valid() || !to.Valid() {
		return ErrArchiveStatusInvalid
	}
	if from != ArchiveActive || !to.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrArchiveTransition, from, to)
	}
	return nil
}
