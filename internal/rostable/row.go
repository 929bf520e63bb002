package rostable

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
)

// Row — строка таблицы в нативных колонках, как она передаётся в JSON.
// Даты — строки ISO-8601, суммы — числа, пустые значения — nil.
type Row map[string]any

// ID возвращает синтетический идентификатор строки.
func (r Row) ID() string {
	s, _ := r[IDColumn].(string)
	return s
}

// Text возвращает текстовое значение колонки.
func (r Row) Text(column string) string {
	switch v := r[column].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// FromOrder переводит заказ в строку таблицы l. Идентификатор не заполняется.
func FromOrder(l Layout, order domain.RepairOrder) Row {
	row := make(Row, len(Fields))
	for i, f := range Fields {
		column := l.columns[i]
		switch v := order.Value(f).(type) {
		case *time.Time:
			if v == nil {
				row[column] = nil
			} else {
				row[column] = FormatDate(*v)
			}
		case *float64:
			if v == nil {
				row[column] = nil
			} else {
				row[column] = *v
			}
		case string:
			row[column] = v
		}
	}
	return row
}

// ToOrder переводит строку таблицы l в заказ со статусом l.Status и ключом RelationalID.
func ToOrder(l Layout, row Row) domain.RepairOrder {
	order := domain.RepairOrder{ArchiveStatus: l.Status}
	if id := row.ID(); id != "" {
		order.Key = domain.RelationalID(id)
	}
	for i, f := range Fields {
		raw := row[l.columns[i]]
		switch domain.FieldKindOf(f) {
		case domain.KindDate:
			_ = order.SetValue(f, ParseDate(raw))
		case domain.KindMoney:
			_ = order.SetValue(f, ParseMoney(raw))
		default:
			_ = order.SetValue(f, row.Text(l.columns[i]))
		}
	}
	return order
}

// Normalize приводит значения колонок строки к типам JSON-контракта
// и отбрасывает неизвестные колонки. Ошибка — для неверного типа или отрицательной суммы.
func Normalize(l Layout, row Row) (Row, error) {
	out := make(Row, len(row))
	for column, raw := range row {
		if column == IDColumn {
			continue
		}
		f, ok := l.Field(column)
		if !ok {
			continue
		}
		switch domain.FieldKindOf(f) {
		case domain.KindDate:
			if raw == nil || raw == "" {
				out[column] = nil
				continue
			}
			t := ParseDate(raw)
			if t == nil {
				return nil, fmt.Errorf("column %s: invalid date %v", column, raw)
			}
			out[column] = FormatDate(*t)
		case domain.KindMoney:
			if raw == nil || raw == "" {
				out[column] = nil
				continue
			}
			m := ParseMoney(raw)
			if m == nil {
				return nil, fmt.Errorf("column %s: invalid amount %v", column, raw)
			}
			if *m < 0 {
				return nil, fmt.Errorf("column %s: %w", column, domain.ErrCostNegative)
			}
			out[column] = *m
		default:
			s, ok := raw.(string)
			if !ok && raw != nil {
				return nil, fmt.Errorf("column %s: expected string, got %T", column, raw)
			}
			out[column] = strings.TrimSpace(s)
		}
	}
	return out, nil
}

// FormatDate форматирует дату: только день для полуночи UTC, иначе RFC3339.
func FormatDate(t time.Time) string {
	t = t.UTC()
	if t.Equal(domain.Day(t)) {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}

// ParseDate разбирает дату ISO-8601; иное значение даёт nil.
func ParseDate(raw any) *time.Time {
	s, ok := raw.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// ParseMoney разбирает сумму-число; иное значение даёт nil.
func ParseMoney(raw any) *float64 {
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case int64:
		v = float64(n)
	case int:
		v = float64(n)
	default:
		return nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
