package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
	"github.com/Cal9233/genthrust-repairs/internal/rostable"
)

const (
	opTimeout = 5 * time.Second
)

// querier — общее подмножество *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TableStore хранит строки заказов в четырёх таблицах, по одной на архивный статус.
// Номер заказа уникален во всех таблицах сразу.
type TableStore struct {
	store *Store
}

// NewTableStore создаёт хранилище таблиц поверх открытого подключения.
func NewTableStore(store *Store) *TableStore {
	return &TableStore{store: store}
}

// Ping проверяет доступность базы.
func (t *TableStore) Ping(ctx context.Context) error {
	return t.store.Ping(ctx)
}

// List возвращает все строки таблицы статуса.
func (t *TableStore) List(ctx context.Context, status domain.ArchiveStatus) ([]rostable.Row, error) {
	l, err := rostable.For(status)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := t.store.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM %s ORDER BY inserted_at, %s",
		selectList(l), l.Table, l.OrderNumberColumn(),
	))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", l.Table, err)
	}
	defer rows.Close()

	out := make([]rostable.Row, 0)
	for rows.Next() {
		row, err := scanRow(l, rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s row: %w", l.Table, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", l.Table, err)
	}
	return out, nil
}

// Get возвращает строку по идентификатору.
func (t *TableStore) Get(ctx context.Context, status domain.ArchiveStatus, id string) (rostable.Row, error) {
	l, err := rostable.For(status)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return t.get(ctx, t.store.db, l, id)
}

// FindByOrderNumber ищет строку по номеру заказа во всех таблицах без учёта регистра.
func (t *TableStore) FindByOrderNumber(ctx context.Context, number string) (domain.ArchiveStatus, rostable.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	for _, l := range rostable.All() {
		row, err := scanRow(l, t.store.db.QueryRowContext(ctx, t.store.rebind(fmt.Sprintf(
			"SELECT %s FROM %s WHERE LOWER(%s) = LOWER($1)",
			selectList(l), l.Table, l.OrderNumberColumn(),
		)), number))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("find in %s: %w", l.Table, err)
		}
		return l.Status, row, nil
	}
	return "", nil, domain.ErrRepairOrderNotFound
}

// Insert добавляет строку. Идентификатор генерируется, если не задан.
func (t *TableStore) Insert(ctx context.Context, status domain.ArchiveStatus, row rostable.Row) (created rostable.Row, err error) {
	l, err := rostable.For(status)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	id := row.ID()
	if id == "" {
		id = uuid.NewString()
	}
	if err = t.insert(ctx, tx, l, id, row); err != nil {
		return nil, err
	}
	if created, err = t.get(ctx, tx, l, id); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert: %w", err)
	}
	return created, nil
}

// Update меняет переданные колонки строки. Номер заказа не меняется.
func (t *TableStore) Update(ctx context.Context, status domain.ArchiveStatus, id string, row rostable.Row) (updated rostable.Row, err error) {
	l, err := rostable.For(status)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		sets []string
		args []any
	)
	for _, column := range l.Columns() {
		if column == l.OrderNumberColumn() {
			continue
		}
		value, ok := row[column]
		if !ok {
			continue
		}
		args = append(args, columnValue(l, column, value))
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if len(sets) == 0 {
		return t.get(ctx, t.store.db, l, id)
	}
	args = append(args, id)

	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, t.store.rebind(fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $%d",
		l.Table, strings.Join(sets, ", "), len(args),
	)), args...)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", l.Table, err)
	}
	if err = expectAffected(res); err != nil {
		return nil, err
	}
	if updated, err = t.get(ctx, tx, l, id); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return updated, nil
}

// Delete удаляет строку по идентификатору.
func (t *TableStore) Delete(ctx context.Context, status domain.ArchiveStatus, id string) error {
	l, err := rostable.For(status)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := t.store.db.ExecContext(ctx, t.store.rebind(fmt.Sprintf("DELETE FROM %s WHERE id = $1", l.Table)), id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", l.Table, err)
	}
	return expectAffected(res)
}

// DeleteByOrderNumber удаляет заказ по номеру из той таблицы, где он найден.
func (t *TableStore) DeleteByOrderNumber(ctx context.Context, number string) (domain.ArchiveStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	for _, l := range rostable.All() {
		res, err := t.store.db.ExecContext(ctx, t.store.rebind(fmt.Sprintf(
			"DELETE FROM %s WHERE LOWER(%s) = LOWER($1)", l.Table, l.OrderNumberColumn(),
		)), number)
		if err != nil {
			return "", fmt.Errorf("delete from %s: %w", l.Table, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return "", fmt.Errorf("rows affected: %w", err)
		}
		if affected > 0 {
			return l.Status, nil
		}
	}
	return "", domain.ErrRepairOrderNotFound
}

// Move переносит строку в таблицу другого статуса в одной транзакции:
// либо строка есть только в целевой таблице, либо всё осталось как было.
// Значения row перекрывают перенесённые.
func (t *TableStore) Move(ctx context.Context, from, to domain.ArchiveStatus, id string, row rostable.Row) (moved rostable.Row, err error) {
	src, err := rostable.For(from)
	if err != nil {
		return nil, err
	}
	dst, err := rostable.For(to)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := t.get(ctx, tx, src, id)
	if err != nil {
		return nil, err
	}
	merged := rostable.FromOrder(dst, rostable.ToOrder(src, current))
	for column, value := range row {
		if column != dst.OrderNumberColumn() {
			merged[column] = value
		}
	}

	if _, err = tx.ExecContext(ctx, t.store.rebind(fmt.Sprintf("DELETE FROM %s WHERE id = $1", src.Table)), id); err != nil {
		return nil, fmt.Errorf("delete from %s: %w", src.Table, err)
	}
	if err = t.insert(ctx, tx, dst, id, merged); err != nil {
		return nil, err
	}
	if moved, err = t.get(ctx, tx, dst, id); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit move: %w", err)
	}
	return moved, nil
}

func (t *TableStore) insert(ctx context.Context, q querier, l rostable.Layout, id string, row rostable.Row) error {
	number := strings.TrimSpace(row.Text(l.OrderNumberColumn()))
	if number == "" {
		return domain.ErrOrderNumberRequired
	}
	taken, err := t.numberTaken(ctx, q, number)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: %s", domain.ErrOrderNumberTaken, number)
	}

	columns := l.Columns()
	placeholders := make([]string, 0, len(columns)+1)
	args := make([]any, 0, len(columns)+1)
	args = append(args, id)
	placeholders = append(placeholders, "$1")
	for _, column := range columns {
		args = append(args, columnValue(l, column, row[column]))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	_, err = q.ExecContext(ctx, t.store.rebind(fmt.Sprintf(
		"INSERT INTO %s (id, %s) VALUES (%s)",
		l.Table, strings.Join(columns, ", "), strings.Join(placeholders, ", "),
	)), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrOrderNumberTaken, number)
		}
		return fmt.Errorf("insert into %s: %w", l.Table, err)
	}
	return nil
}

func (t *TableStore) numberTaken(ctx context.Context, q querier, number string) (bool, error) {
	for _, l := range rostable.All() {
		var one int
		err := q.QueryRowContext(ctx, t.store.rebind(fmt.Sprintf(
			"SELECT 1 FROM %s WHERE LOWER(%s) = LOWER($1)", l.Table, l.OrderNumberColumn(),
		)), number).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("check order number in %s: %w", l.Table, err)
		}
		return true, nil
	}
	return false, nil
}

func (t *TableStore) get(ctx context.Context, q querier, l rostable.Layout, id string) (rostable.Row, error) {
	row, err := scanRow(l, q.QueryRowContext(ctx, t.store.rebind(fmt.Sprintf(
		"SELECT %s FROM %s WHERE id = $1", selectList(l), l.Table,
	)), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRepairOrderNotFound
		}
		return nil, fmt.Errorf("select from %s: %w", l.Table, err)
	}
	return row, nil
}

func selectList(l rostable.Layout) string {
	return "id, " + strings.Join(l.Columns(), ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(l rostable.Layout, s scanner) (rostable.Row, error) {
	columns := l.Columns()
	var id string
	dest := make([]any, 0, len(columns)+1)
	dest = append(dest, &id)
	for _, column := range columns {
		f, _ := l.Field(column)
		if domain.FieldKindOf(f) == domain.KindMoney {
			dest = append(dest, new(sql.NullFloat64))
		} else {
			dest = append(dest, new(sql.NullString))
		}
	}
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	row := rostable.Row{rostable.IDColumn: id}
	for i, column := range columns {
		f, _ := l.Field(column)
		switch v := dest[i+1].(type) {
		case *sql.NullFloat64:
			if v.Valid {
				row[column] = v.Float64
			} else {
				row[column] = nil
			}
		case *sql.NullString:
			switch {
			case domain.FieldKindOf(f) == domain.KindText:
				row[column] = v.String
			case v.Valid && v.String != "":
				row[column] = v.String
			default:
				row[column] = nil
			}
		}
	}
	return row, nil
}

// columnValue приводит значение к аргументу запроса: текст не бывает NULL.
func columnValue(l rostable.Layout, column string, value any) any {
	f, _ := l.Field(column)
	if domain.FieldKindOf(f) == domain.KindText {
		s, _ := value.(string)
		return s
	}
	return value
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrRepairOrderNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
