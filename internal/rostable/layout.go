// Package rostable описывает нативные макеты таблиц реляционного бэкенда.
// Каждый архивный статус хранится в своей таблице со своими именами колонок;
// макет общий для сервера и клиента.
package rostable

import (
	"fmt"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
)

// IDColumn — синтетический первичный ключ строки во всех таблицах.
const IDColumn = "id"

// Fields — поля заказа, хранимые колонками. Архивный статус задаётся самой таблицей.
var Fields = []domain.Field{
	domain.FieldOrderNumber,
	domain.FieldDateCreated,
	domain.FieldShopName,
	domain.FieldPartNumber,
	domain.FieldSerialNumber,
	domain.FieldPartDescription,
	domain.FieldRequiredWork,
	domain.FieldDateDroppedOff,
	domain.FieldEstimatedCost,
	domain.FieldFinalCost,
	domain.FieldEstimatedDeliveryDate,
	domain.FieldCurrentStatus,
	domain.FieldCurrentStatusDate,
	domain.FieldLastUpdated,
	domain.FieldNextUpdateDue,
	domain.FieldNotes,
}

// Layout — таблица одного архивного статуса.
type Layout struct {
	Status  domain.ArchiveStatus
	Table   string
	columns []string
}

func newLayout(status domain.ArchiveStatus, table string, columns ...string) Layout {
	if len(columns) != len(Fields) {
		panic(fmt.Sprintf("rostable: layout %s has %d columns, want %d", table, len(columns), len(Fields)))
	}
	return Layout{Status: status, Table: table, columns: columns}
}

var layouts = map[domain.ArchiveStatus]Layout{
	domain.ArchiveActive: newLayout(domain.ArchiveActive, "active",
		"ro_number", "date_made", "shop_name", "part_number", "serial_number",
		"part_description", "required_work", "date_dropped_off", "estimated_cost",
		"final_cost", "estimated_delivery_date", "current_status", "current_status_date",
		"last_date_updated", "next_date_to_update", "notes"),
	domain.ArchivePaid: newLayout(domain.ArchivePaid, "paid",
		"ro_no", "created_on", "shop", "part_no", "serial_no",
		"description", "work_required", "dropped_off_on", "est_cost",
		"final_cost", "eta", "status", "status_date",
		"updated_on", "next_update_on", "notes"),
	domain.ArchiveNet: newLayout(domain.ArchiveNet, "net",
		"ro_num", "made_date", "shop_name", "pn", "sn",
		"part_desc", "work", "dropped_date", "quote",
		"invoice_amount", "due_date", "last_status", "last_status_date",
		"updated", "follow_up", "remarks"),
	domain.ArchiveReturned: newLayout(domain.ArchiveReturned, "returned",
		"ro_num", "made_date", "shop_name", "pn", "sn",
		"part_desc", "work", "dropped_date", "quote",
		"invoice_amount", "due_date", "last_status", "last_status_date",
		"updated", "follow_up", "remarks"),
}

// For возвращает макет таблицы архивного статуса.
func For(status domain.ArchiveStatus) (Layout, error) {
	l, ok := layouts[status]
	if !ok {
		return Layout{}, fmt.Errorf("%w: %q", domain.ErrArchiveStatusInvalid, status)
	}
	return l, nil
}

// MustFor — For для заведомо валидного статуса.
func MustFor(status domain.ArchiveStatus) Layout {
	l, err := For(status)
	if err != nil {
		panic(err)
	}
	return l
}

// All возвращает макеты в порядке поиска ACTIVE, PAID, NET, RETURNED.
func All() []Layout {
	out := make([]Layout, 0, len(domain.ArchiveStatuses))
	for _, s := range domain.ArchiveStatuses {
		out = append(out, layouts[s])
	}
	return out
}

// Columns возвращает нативные колонки в порядке Fields.
func (l Layout) Columns() []string {
	return append([]string(nil), l.columns...)
}

// Column возвращает нативную колонку поля.
func (l Layout) Column(f domain.Field) (string, bool) {
	for i, field := range Fields {
		if field == f {
			return l.columns[i], true
		}
	}
	return "", false
}

// Field возвращает поле по нативной колонке.
func (l Layout) Field(column string) (domain.Field, bool) {
	for i, c := range l.columns {
		if c == column {
			return Fields[i], true
		}
	}
	return "", false
}

// OrderNumberColumn — колонка номера заказа.
func (l Layout) OrderNumberColumn() string {
	return l.columns[0]
}
