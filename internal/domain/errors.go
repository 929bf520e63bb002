package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Backend называет хранилище, в котором выполнялась операция.
type Backend string

const (
	// BackendRelational — реляционная БД за REST API (основной бэкенд).
	BackendRelational Backend = "relational"
	// BackendWorkbook — таблица документа за сессионным HTTP API (резервный бэкенд).
	BackendWorkbook Backend = "workbook"
)

var (
	// Ошибка отсутствующего номера заказа.
	ErrOrderNumberRequired = errors.New("order number is required")
	// Ошибка отрицательной стоимости.
	ErrCostNegative = errors.New("cost must be non-negative")
	// Ошибка неизвестного архивного статуса.
	ErrArchiveStatusInvalid = errors.New("archive status is invalid")
	// ErrArchiveTransition — запрещённый переход архивного статуса.
	ErrArchiveTransition = errors.New("archive transition is not allowed")
	// ErrInvalidKey — идентификатор заказа не удалось разобрать.
	ErrInvalidKey = errors.New("invalid order key")
	// ErrRepairOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrRepairOrderNotFound = errors.New("repair order not found")
	// ErrOrderNumberTaken — номер заказа уже занят в одной из таблиц.
	ErrOrderNumberTaken = errors.New("order number already exists")
	// ErrIdentifierMismatch — вид идентификатора не подходит выбранному бэкенду.
	ErrIdentifierMismatch = errors.New("identifier kind does not match backend")
	// ErrBothBackendsFailed — недоступны оба хранилища.
	ErrBothBackendsFailed = errors.New("both backends failed")
	// ErrSessionInvalid — сессия документа истекла или отозвана бэкендом.
	ErrSessionInvalid = errors.New("workbook session is invalid")
)

// BackendError описывает ошибку удалённого вызова с HTTP-статусом бэкенда.
// StatusCode == 0 означает сетевую ошибку транспорта.
type BackendError struct {
	Backend    Backend
	Op         string
	StatusCode int
	Retryable  bool
	Attempts   int
	Err        error
}

func (e *BackendError) Error() string {
	var b strings.Builder
	if e.Backend != "" {
		b.WriteString(string(e.Backend))
		b.WriteString(" ")
	}
	b.WriteString(e.Op)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *BackendError) Unwrap() error { return e.Err }

// BothFailedError — составная ошибка, когда не сработали ни основной, ни резервный бэкенд.
// PrimaryErr == nil, если основной бэкенд был пропущен в режиме fallback.
type BothFailedError struct {
	Operation   string
	PrimaryErr  error
	FallbackErr error
}

func (e *BothFailedError) Error() string {
	primary := "skipped"
	if e.PrimaryErr != nil {
		primary = e.PrimaryErr.Error()
	}
	fallback := "<nil>"
	if e.FallbackErr != nil {
		fallback = e.FallbackErr.Error()
	}
	return fmt.Sprintf("%s: %s: primary: %s; fallback: %s", ErrBothBackendsFailed, e.Operation, primary, fallback)
}

func (e *BothFailedError) Is(target error) bool { return target == ErrBothBackendsFailed }

func (e *BothFailedError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.PrimaryErr != nil {
		errs = append(errs, e.PrimaryErr)
	}
	if e.FallbackErr != nil {
		errs = append(errs, e.FallbackErr)
	}
	return errs
}

// IdentifierMismatchError — ошибка интеграции: ключ другого бэкенда.
// Никогда не повторяется и не маршрутизируется на другой бэкенд.
type IdentifierMismatchError struct {
	Backend Backend
	Key     OrderKey
}

func (e *IdentifierMismatchError) Error() string {
	return fmt.Sprintf("%s: %s backend cannot address order by %s key %q",
		ErrIdentifierMismatch, e.Backend, e.Key.Kind(), e.Key.String())
}

func (e *IdentifierMismatchError) Is(target error) bool { return target == ErrIdentifierMismatch }

// IsNotFound проверяет, что заказ отсутствует.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRepairOrderNotFound)
}

// IsBothFailed проверяет, что недоступны оба бэкенда.
func IsBothFailed(err error) bool {
	return errors.Is(err, ErrBothBackendsFailed)
}

// IsRetryable сообщает, была ли ошибка бэкенда временной.
func IsRetryable(err error) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Retryable
	}
	return false
}

// IsValidation проверяет ошибки входных данных.
func IsValidation(err error) bool {
	return errors.Is(err, ErrOrderNumberRequired) ||
		errors.Is(err, ErrCostNegative) ||
		errors.Is(err, ErrArchiveStatusInvalid) ||
		errors.Is(err, ErrArchiveTransition) ||
		errors.Is(err, ErrInvalidKey)
}

// IsLocalRejection проверяет, что вызов отклонён до обращения к бэкенду:
// ключ чужого бэкенда, ошибка входных данных или отмена контекста вызывающим.
// Любой ответ самого бэкенда (*BackendError, в том числе 404 и 409) сюда не относится.
func IsLocalRejection(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var be *BackendError
	if errors.As(err, &be) {
		return false
	}
	return errors.Is(err, ErrIdentifierMismatch) || IsValidation(err)
}

// IsDefinitive отделяет ответы, которые не говорят о недоступности бэкенда:
// отсутствие заказа, конфликт номера, ошибки валидации, чужой ключ, отмена контекста.
// Так арбитр трактует ответ резервного бэкенда.
func IsDefinitive(err error) bool {
	return IsNotFound(err) ||
		errors.Is(err, ErrOrderNumberTaken) ||
		errors.Is(err, ErrIdentifierMismatch) ||
		IsValidation(err) ||
		errors.Is(err, context.Canceled)
}
