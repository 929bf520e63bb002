// Package workbooktest поднимает in-memory сервер таблицы документа для тестов:
// учёт сессий, проверка заголовка сессии и инъекция отказов.
package workbooktest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// SessionHeader дублирует заголовок клиента, чтобы пакет не зависел от него.
const SessionHeader = "workbook-session-id"

// Имена операций для инъекции отказов.
const (
	OpCreateSession = "createSession"
	OpCloseSession  = "closeSession"
	OpProbe         = "probe"
	OpListRows      = "listRows"
	OpGetRow        = "getRow"
	OpUpdateRow     = "updateRow"
	OpAppendRow     = "appendRow"
	OpDeleteRow     = "deleteRow"
)

// Failure описывает один отказ. Status == 0 означает обрыв соединения.
type Failure struct {
	Status int
	Code   string
}

// Stats — счётчики сессий и запросов.
type Stats struct {
	SessionsCreated int
	SessionsClosed  int
	MaxConcurrent   int
	Requests        map[string]int
}

// Server — фейковый бэкенд документа.
type Server struct {
	URL   string
	Table string

	srv *httptest.Server

	mu        sync.Mutex
	rows      [][]any
	sessions  map[string]bool
	active    int
	stats     Stats
	failures  map[string][]Failure
	hookAfter map[string]func()
}

// NewServer запускает сервер с таблицей table.
func NewServer(table string) *Server {
	s := &Server{
		Table:     table,
		sessions:  make(map[string]bool),
		failures:  make(map[string][]Failure),
		hookAfter: make(map[string]func()),
		stats:     Stats{Requests: make(map[string]int)},
	}

	r := mux.NewRouter()
	r.HandleFunc("/workbook/createSession", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/workbook/closeSession", s.handleCloseSession).Methods(http.MethodPost)

	const table = "/workbook/tables/{table}"
	const item = table + "/rows/itemAt(index={index:[0-9]+})"
	r.HandleFunc(table, s.handleProbe).Methods(http.MethodGet)
	r.HandleFunc(table+"/rows", s.handleListRows).Methods(http.MethodGet)
	r.HandleFunc(table+"/rows", s.handleAppendRow).Methods(http.MethodPost)
	r.HandleFunc(item, s.handleGetRow).Methods(http.MethodGet)
	r.HandleFunc(item, s.handleUpdateRow).Methods(http.MethodPatch)
	r.HandleFunc(item, s.handleDeleteRow).Methods(http.MethodDelete)

	s.srv = httptest.NewServer(r)
	s.URL = s.srv.URL
	return s
}

// Close останавливает сервер.
func (s *Server) Close() {
	s.srv.Close()
}

// Fail ставит в очередь отказы для операции op; каждый запрос забирает один.
func (s *Server) Fail(op string, failures ...Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], failures...)
}

// FailStatus — сокращение для отказов по HTTP-статусу.
func (s *Server) FailStatus(op string, statuses ...int) {
	failures := make([]Failure, 0, len(statuses))
	for _, status := range statuses {
		failures = append(failures, Failure{Status: status})
	}
	s.Fail(op, failures...)
}

// After регистрирует вызов после успешной обработки операции op (вне блокировки).
func (s *Server) After(op string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hookAfter[op] = fn
}

// SetRows заменяет содержимое таблицы.
func (s *Server) SetRows(rows [][]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make([][]any, len(rows))
	for i, row := range rows {
		s.rows[i] = append([]any(nil), row...)
	}
}

// Rows возвращает копию содержимого таблицы.
func (s *Server) Rows() [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]any, len(s.rows))
	for i, row := range s.rows {
		out[i] = append([]any(nil), row...)
	}
	return out
}

// Stats возвращает снимок счётчиков.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.Requests = make(map[string]int, len(s.stats.Requests))
	for k, v := range s.stats.Requests {
		out.Requests[k] = v
	}
	return out
}

// OpenSessions возвращает число незакрытых сессий.
func (s *Server) OpenSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ExpireSessions отзывает все открытые сессии, как при таймауте бэкенда.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.sessions {
		delete(s.sessions, id)
	}
	s.active = 0
}

// begin учитывает запрос и применяет отказ из очереди. Возвращает false, если ответ уже записан.
func (s *Server) begin(w http.ResponseWriter, op string) bool {
	s.mu.Lock()
	s.stats.Requests[op]++
	var failure *Failure
	if queue := s.failures[op]; len(queue) > 0 {
		f := queue[0]
		s.failures[op] = queue[1:]
		failure = &f
	}
	s.mu.Unlock()

	if failure == nil {
		return true
	}
	if failure.Status == 0 {
		dropConnection(w)
		return false
	}
	code := failure.Code
	if code == "" {
		code = http.StatusText(failure.Status)
	}
	writeError(w, failure.Status, code, "injected failure")
	return false
}

func (s *Server) done(op string) {
	s.mu.Lock()
	fn := s.hookAfter[op]
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// checkSession требует открытую сессию; вызывается под mu.
func (s *Server) checkSession(w http.ResponseWriter, r *http.Request) bool {
	if !s.sessions[r.Header.Get(SessionHeader)] {
		writeError(w, http.StatusNotFound, "InvalidSession", "session not found or expired")
		return false
	}
	return true
}

func (s *Server) checkTable(w http.ResponseWriter, r *http.Request) bool {
	if mux.Vars(r)["table"] != s.Table {
		writeError(w, http.StatusNotFound, "ItemNotFound", "table not found")
		return false
	}
	return true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, OpCreateSession) {
		return
	}
	id := uuid.NewString()

	s.mu.Lock()
	s.sessions[id] = true
	s.active++
	s.stats.SessionsCreated++
	if s.active > s.stats.MaxConcurrent {
		s.stats.MaxConcurrent = s.active
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "persistChanges": true})
	s.done(OpCreateSession)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, OpCloseSession) {
		return
	}
	id := r.Header.Get(SessionHeader)

	s.mu.Lock()
	s.stats.SessionsClosed++
	if s.sessions[id] {
		delete(s.sessions, id)
		s.active--
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
	s.done(OpCloseSession)
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, OpProbe) || !s.checkTable(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": s.Table})
	s.done(OpProbe)
}

func (s *Server) handleListRows(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, OpListRows) || !s.checkTable(w, r) {
		return
	}
	s.mu.Lock()
	if !s.checkSession(w, r) {
		s.mu.Unlock()
		return
	}
	value := make([]map[string]any, 0, len(s.rows))
	for i, row := range s.rows {
		value = append(value, rowJSON(i, row))
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"value": value})
	s.done(OpListRows)
}

func (s *Server) handleGetRow(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, OpGetRow) || !s.checkTable(w, r) {
		return
	}
	index, _ := strconv.Atoi(mux.Vars(r)["index"])

	s.mu.Lock()
	if !s.checkSession(w, r) {
		s.mu.Unlock()
		return
	}
	if index >= len(s.rows) {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "ItemNotFound", "row index out of range")
		return
	}
	body := rowJSON(index, s.rows[index])
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
	s.done(OpGetRow)
}

func (s *Server) handleUpdateRow(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, OpUpdateRow) || !s.checkTable(w, r) {
		return
	}
	index, _ := strconv.Atoi(mux.Vars(r)["index"])
	values, ok := readValues(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	if !s.checkSession(w, r) {
		s.mu.Unlock()
		return
	}
	if index >= len(s.rows) {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "ItemNotFound", "row index out of range")
		return
	}
	s.rows[index] = values
	body := rowJSON(index, values)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
	s.done(OpUpdateRow)
}

func (s *Server) handleAppendRow(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, OpAppendRow) || !s.checkTable(w, r) {
		return
	}
	values, ok := readValues(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	if !s.checkSession(w, r) {
		s.mu.Unlock()
		return
	}
	s.rows = append(s.rows, values)
	body := rowJSON(len(s.rows)-1, values)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, body)
	s.done(OpAppendRow)
}

func (s *Server) handleDeleteRow(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, OpDeleteRow) || !s.checkTable(w, r) {
		return
	}
	index, _ := strconv.Atoi(mux.Vars(r)["index"])

	s.mu.Lock()
	if !s.checkSession(w, r) {
		s.mu.Unlock()
		return
	}
	if index >= len(s.rows) {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "ItemNotFound", "row index out of range")
		return
	}
	s.rows = append(s.rows[:index], s.rows[index+1:]...)
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
	s.done(OpDeleteRow)
}

func readValues(w http.ResponseWriter, r *http.Request) ([]any, bool) {
	var body struct {
		Values [][]any `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Values) != 1 {
		writeError(w, http.StatusBadRequest, "InvalidArgument", "values must hold exactly one row")
		return nil, false
	}
	return body.Values[0], true
}

func rowJSON(index int, values []any) map[string]any {
	return map[string]any{"index": index, "values": [][]any{values}}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

func dropConnection(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}
