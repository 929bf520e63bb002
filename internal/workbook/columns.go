package workbook

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
)

// column связывает позицию ячейки в строке таблицы с полем заказа.
type column struct {
	Field  domain.Field
	Header string
}

// columns — единственная таблица соответствия позиций и полей.
// Её используют и чтение, и запись строки; порядок совпадает с макетом таблицы документа.
var columns = [...]column{
	{Field: domain.FieldOrderNumber, Header: "RO #"},
	{Field: domain.FieldDateCreated, Header: "DATE MADE"},
	{Field: domain.FieldShopName, Header: "SHOP NAME"},
	{Field: domain.FieldPartNumber, Header: "PART #"},
	{Field: domain.FieldSerialNumber, Header: "SERIAL #"},
	{Field: domain.FieldPartDescription, Header: "PART DESCRIPTION"},
	{Field: domain.FieldRequiredWork, Header: "REQ WORK"},
	{Field: domain.FieldDateDroppedOff, Header: "DATE DROPPED OFF"},
	{Field: domain.FieldEstimatedCost, Header: "ESTIMATED COST"},
	{Field: domain.FieldFinalCost, Header: "FINAL COST"},
	{Field: domain.FieldEstimatedDeliveryDate, Header: "ESTIMATED DELIVERY DATE"},
	{Field: domain.FieldCurrentStatus, Header: "CURENT STATUS"},
	{Field: domain.FieldCurrentStatusDate, Header: "CURENT STATUS DATE"},
	{Field: domain.FieldLastUpdated, Header: "LAST DATE UPDATED"},
	{Field: domain.FieldNextUpdateDue, Header: "NEXT DATE TO UPDATE"},
	{Field: domain.FieldNotes, Header: "NOTES"},
	{Field: domain.FieldArchiveStatus, Header: "ARCHIVE STATUS"},
}

// ColumnCount — число ячеек в строке таблицы.
const ColumnCount = len(columns)

// Headers возвращает заголовки колонок в порядке таблицы.
func Headers() []string {
	out := make([]string, ColumnCount)
	for i, c := range columns {
		out[i] = c.Header
	}
	return out
}

// columnIndex возвращает позицию поля в строке.
func columnIndex(f domain.Field) int {
	for i, c := range columns {
		if c.Field == f {
			return i
		}
	}
	return -1
}

// Даты таблиц хранятся как серийные номера дней от 1899-12-30.
var serialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"1/2/2006",
	"1/2/06",
	"01/02/2006",
}

// decodeRow разбирает позиционные значения в заказ. Недостающие ячейки считаются пустыми,
// неразборчивые даты и суммы становятся nil.
func decodeRow(values []any) domain.RepairOrder {
	var order domain.RepairOrder
	for i, c := range columns {
		var cell any
		if i < len(values) {
			cell = values[i]
		}
		switch domain.FieldKindOf(c.Field) {
		case domain.KindDate:
			_ = order.SetValue(c.Field, parseDate(cell))
		case domain.KindMoney:
			_ = order.SetValue(c.Field, parseMoney(cell))
		default:
			_ = order.SetValue(c.Field, parseText(cell))
		}
	}
	return order
}

// encodeRow собирает позиционные значения строки из заказа.
func encodeRow(order domain.RepairOrder) []any {
	values := make([]any, ColumnCount)
	for i, c := range columns {
		switch v := order.Value(c.Field).(type) {
		case *time.Time:
			values[i] = formatDate(v)
		case *float64:
			if v == nil {
				values[i] = ""
			} else {
				values[i] = *v
			}
		case string:
			values[i] = v
		default:
			values[i] = ""
		}
	}
	return values
}

// isBlankRow сообщает, что строка не содержит номера заказа.
func isBlankRow(values []any) bool {
	idx := columnIndex(domain.FieldOrderNumber)
	return idx >= len(values) || parseText(values[idx]) == ""
}

func parseText(cell any) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func parseDate(cell any) *time.Time {
	switch v := cell.(type) {
	case float64:
		return fromSerial(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return fromSerial(n)
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				t = t.UTC()
				return &t
			}
		}
	}
	return nil
}

func fromSerial(days float64) *time.Time {
	if days <= 0 || math.IsNaN(days) || math.IsInf(days, 0) || days > 2958465 {
		return nil
	}
	whole := math.Floor(days)
	t := serialEpoch.AddDate(0, 0, int(whole))
	t = t.Add(time.Duration((days - whole) * float64(24*time.Hour)).Round(time.Second))
	return &t
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	u := t.UTC()
	if u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 && u.Nanosecond() == 0 {
		return u.Format("2006-01-02")
	}
	return u.Format(time.RFC3339)
}

func parseMoney(cell any) *float64 {
	var n float64
	switch v := cell.(type) {
	case float64:
		n = v
	case string:
		s := strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(v))
		if s == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	// Суммы не бывают отрицательными; такая ячейка читается как пустая.
	if math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
		return nil
	}
	return &n
}
