package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
	"github.com/Cal9233/genthrust-repairs/internal/rostable"
)

// Op — операция хранилища, на которую можно навесить сбой.
type Op string

const (
	OpList   Op = "list"
	OpGet    Op = "get"
	OpFind   Op = "find"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpMove   Op = "move"
	OpPing   Op = "ping"
)

type table struct {
	order []string
	rows  map[string]rostable.Row
}

// TableStore — in-memory реализация таблиц реляционного бэкенда для локальной разработки и тестов.
type TableStore struct {
	mu       sync.RWMutex
	tables   map[domain.ArchiveStatus]*table
	failures map[Op]error
}

// NewTableStore возвращает пустое хранилище с четырьмя таблицами.
func NewTableStore() *TableStore {
	s := &TableStore{
		tables:   make(map[domain.ArchiveStatus]*table, len(domain.ArchiveStatuses)),
		failures: make(map[Op]error),
	}
	for _, status := range domain.ArchiveStatuses {
		s.tables[status] = &table{rows: make(map[string]rostable.Row)}
	}
	return s
}

// Fail заставляет операцию возвращать err; nil снимает сбой.
func (s *TableStore) Fail(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *TableStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failures[OpPing]
}

func (s *TableStore) List(_ context.Context, status domain.ArchiveStatus) ([]rostable.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table(OpList, status)
	if err != nil {
		return nil, err
	}
	out := make([]rostable.Row, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, clone(t.rows[id]))
	}
	return out, nil
}

func (s *TableStore) Get(_ context.Context, status domain.ArchiveStatus, id string) (rostable.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table(OpGet, status)
	if err != nil {
		return nil, err
	}
	row, ok := t.rows[id]
	if !ok {
		return nil, domain.ErrRepairOrderNotFound
	}
	return clone(row), nil
}

func (s *TableStore) FindByOrderNumber(_ context.Context, number string) (domain.ArchiveStatus, rostable.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.failures[OpFind]; err != nil {
		return "", nil, err
	}
	status, id, ok := s.lookup(number)
	if !ok {
		return "", nil, domain.ErrRepairOrderNotFound
	}
	return status, clone(s.tables[status].rows[id]), nil
}

func (s *TableStore) Insert(_ context.Context, status domain.ArchiveStatus, row rostable.Row) (rostable.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(OpInsert, status)
	if err != nil {
		return nil, err
	}
	l := rostable.MustFor(status)
	id := row.ID()
	if id == "" {
		id = uuid.NewString()
	}
	stored, err := s.prepare(l, id, row)
	if err != nil {
		return nil, err
	}
	t.order = append(t.order, id)
	t.rows[id] = stored
	return clone(stored), nil
}

func (s *TableStore) Update(_ context.Context, status domain.ArchiveStatus, id string, row rostable.Row) (rostable.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(OpUpdate, status)
	if err != nil {
		return nil, err
	}
	current, ok := t.rows[id]
	if !ok {
		return nil, domain.ErrRepairOrderNotFound
	}
	l := rostable.MustFor(status)
	for _, column := range l.Columns() {
		if column == l.OrderNumberColumn() {
			continue
		}
		if value, ok := row[column]; ok {
			current[column] = value
		}
	}
	return clone(current), nil
}

func (s *TableStore) Delete(_ context.Context, status domain.ArchiveStatus, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(OpDelete, status)
	if err != nil {
		return err
	}
	if _, ok := t.rows[id]; !ok {
		return domain.ErrRepairOrderNotFound
	}
	t.remove(id)
	return nil
}

func (s *TableStore) DeleteByOrderNumber(_ context.Context, number string) (domain.ArchiveStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failures[OpDelete]; err != nil {
		return "", err
	}
	status, id, ok := s.lookup(number)
	if !ok {
		return "", domain.ErrRepairOrderNotFound
	}
	s.tables[status].remove(id)
	return status, nil
}

func (s *TableStore) Move(_ context.Context, from, to domain.ArchiveStatus, id string, row rostable.Row) (rostable.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := s.table(OpMove, from)
	if err != nil {
		return nil, err
	}
	dst, err := s.table(OpMove, to)
	if err != nil {
		return nil, err
	}
	current, ok := src.rows[id]
	if !ok {
		return nil, domain.ErrRepairOrderNotFound
	}

	srcLayout, dstLayout := rostable.MustFor(from), rostable.MustFor(to)
	merged := rostable.FromOrder(dstLayout, rostable.ToOrder(srcLayout, current))
	for column, value := range row {
		if _, known := dstLayout.Field(column); known && column != dstLayout.OrderNumberColumn() {
			merged[column] = value
		}
	}
	merged[rostable.IDColumn] = id

	src.remove(id)
	dst.order = append(dst.order, id)
	dst.rows[id] = merged
	return clone(merged), nil
}

func (s *TableStore) table(op Op, status domain.ArchiveStatus) (*table, error) {
	if err := s.failures[op]; err != nil {
		return nil, err
	}
	t, ok := s.tables[status]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrArchiveStatusInvalid, status)
	}
	return t, nil
}

// prepare собирает полную строку и проверяет номер заказа по всем таблицам.
func (s *TableStore) prepare(l rostable.Layout, id string, row rostable.Row) (rostable.Row, error) {
	number := strings.TrimSpace(row.Text(l.OrderNumberColumn()))
	if number == "" {
		return nil, domain.ErrOrderNumberRequired
	}
	if _, _, taken := s.lookup(number); taken {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNumberTaken, number)
	}

	stored := rostable.Row{rostable.IDColumn: id}
	for _, column := range l.Columns() {
		f, _ := l.Field(column)
		value := row[column]
		if domain.FieldKindOf(f) == domain.KindText {
			text, _ := value.(string)
			value = text
		}
		stored[column] = value
	}
	stored[l.OrderNumberColumn()] = number
	return stored, nil
}

func (s *TableStore) lookup(number string) (domain.ArchiveStatus, string, bool) {
	for _, status := range domain.ArchiveStatuses {
		l := rostable.MustFor(status)
		t := s.tables[status]
		for _, id := range t.order {
			if strings.EqualFold(t.rows[id].Text(l.OrderNumberColumn()), number) {
				return status, id, true
			}
		}
	}
	return "", "", false
}

func (t *table) remove(id string) {
	delete(t.rows, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

func clone(row rostable.Row) rostable.Row {
	out := make(rostable.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
