package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// OrderKey — закрытый sum-тип идентификатора заказа:
// RelationalID | RowIndex | OrderNumber. Реализации вне пакета невозможны.
type OrderKey interface {
	fmt.Stringer
	// Kind возвращает вид идентификатора для логов и ошибок.
	Kind() KeyKind
	orderKey()
}

// KeyKind — вид идентификатора.
type KeyKind string

const (
	KeyKindRelationalID KeyKind = "id"
	KeyKindRowIndex     KeyKind = "row"
	KeyKindOrderNumber  KeyKind = "number"
)

// RelationalID — синтетический идентификатор строки реляционного бэкенда.
type RelationalID string

func (k RelationalID) String() string { return string(k) }
func (RelationalID) Kind() KeyKind    { return KeyKindRelationalID }
func (RelationalID) orderKey()        {}

// RowIndex — индекс строки в таблице документа (с нуля).
type RowIndex int

func (k RowIndex) String() string { return strconv.Itoa(int(k)) }
func (RowIndex) Kind() KeyKind    { return KeyKindRowIndex }
func (RowIndex) orderKey()        {}

// OrderNumber — бизнес-ключ, валидный на обоих бэкендах.
type OrderNumber string

func (k OrderNumber) String() string { return string(k) }
func (OrderNumber) Kind() KeyKind    { return KeyKindOrderNumber }
func (OrderNumber) orderKey()        {}

// ParseOrderKey строит ключ по виду и строковому значению.
func ParseOrderKey(kind KeyKind, raw string) (OrderKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	switch kind {
	case KeyKindRelationalID:
		return RelationalID(raw), nil
	case KeyKindRowIndex:
		idx, err := strconv.Atoi(raw)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("%w: row index %q", ErrInvalidKey, raw)
		}
		return RowIndex(idx), nil
	case KeyKindOrderNumber, "":
		return OrderNumber(raw), nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidKey, kind)
	}
}
