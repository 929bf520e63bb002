package workbook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
	"github.com/Cal9233/genthrust-repairs/internal/retry"
)

// SessionHeader передаёт идентификатор сессии документа.
const SessionHeader = "workbook-session-id"

const defaultHTTPTimeout = 30 * time.Second

// Коды ошибок бэкенда, означающие истёкшую или неизвестную сессию.
var sessionErrorCodes = map[string]struct{}{
	"invalidsession":            {},
	"sessionnotfound":           {},
	"invalidsessionrecreatable": {},
	"sessionexpired":            {},
}

// Операции над одной строкой: 404 для них означает отсутствие строки.
var itemOps = map[string]bool{"getRow": true, "updateRow": true, "deleteRow": true}

// Row — строка таблицы документа: позиция и позиционные значения ячеек.
type Row struct {
	Index  int
	Values []any
}

type rowPayload struct {
	Index  int     `json:"index"`
	Values [][]any `json:"values"`
}

type rowsPayload struct {
	Value []rowPayload `json:"value"`
}

type valuesPayload struct {
	Values [][]any `json:"values"`
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ClientOption настраивает Client.
type ClientOption func(*Client)

// WithHTTPClient задаёт базовый HTTP-клиент.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTokenSource подключает провайдер bearer-токенов.
func WithTokenSource(ts oauth2.TokenSource) ClientOption {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithClientLogger задаёт logger клиента.
func WithClientLogger(logger *log.Entry) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client — тонкий клиент строкового API таблицы документа.
// Каждый метод выполняет ровно один HTTP-запрос; повторы делает вызывающий.
type Client struct {
	baseURL    string
	table      string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	logger     *log.Entry
}

// NewClient создаёт клиент для таблицы table документа по адресу baseURL.
func NewClient(baseURL, table string, options ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		table:   table,
	}
	for _, option := range options {
		option(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if c.tokens != nil {
		base := c.httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		c.httpClient = &http.Client{
			Transport: &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, c.tokens), Base: base},
			Timeout:   c.httpClient.Timeout,
		}
	}
	if c.logger == nil {
		c.logger = log.WithField("component", "workbook-client")
	}
	return c
}

// CreateSession открывает сессию документа и возвращает её идентификатор.
func (c *Client) CreateSession(ctx context.Context, persistChanges bool) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	body := map[string]bool{"persistChanges": persistChanges}
	if err := c.call(ctx, "createSession", http.MethodPost, "/workbook/createSession", "", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &domain.BackendError{Backend: domain.BackendWorkbook, Op: "createSession", Err: errors.New("empty session id")}
	}
	return out.ID, nil
}

// CloseSession закрывает сессию.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	return c.call(ctx, "closeSession", http.MethodPost, "/workbook/closeSession", sessionID, nil, nil)
}

// Probe читает метаданные таблицы без сессии.
func (c *Client) Probe(ctx context.Context) error {
	return c.call(ctx, "probe", http.MethodGet, c.tablePath(), "", nil, nil)
}

// ListRows возвращает все строки таблицы.
func (c *Client) ListRows(ctx context.Context, sessionID string) ([]Row, error) {
	var out rowsPayload
	if err := c.call(ctx, "listRows", http.MethodGet, c.tablePath()+"/rows", sessionID, nil, &out); err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(out.Value))
	for _, p := range out.Value {
		rows = append(rows, p.row())
	}
	return rows, nil
}

// GetRow возвращает строку по индексу.
func (c *Client) GetRow(ctx context.Context, sessionID string, index int) (Row, error) {
	var out rowPayload
	if err := c.call(ctx, "getRow", http.MethodGet, c.itemPath(index), sessionID, nil, &out); err != nil {
		return Row{}, err
	}
	return out.row(), nil
}

// UpdateRow перезаписывает значения строки.
func (c *Client) UpdateRow(ctx context.Context, sessionID string, index int, values []any) (Row, error) {
	var out rowPayload
	body := valuesPayload{Values: [][]any{values}}
	if err := c.call(ctx, "updateRow", http.MethodPatch, c.itemPath(index), sessionID, body, &out); err != nil {
		return Row{}, err
	}
	return out.row(), nil
}

// AppendRow добавляет строку в конец таблицы.
func (c *Client) AppendRow(ctx context.Context, sessionID string, values []any) (Row, error) {
	var out rowPayload
	body := valuesPayload{Values: [][]any{values}}
	if err := c.call(ctx, "appendRow", http.MethodPost, c.tablePath()+"/rows", sessionID, body, &out); err != nil {
		return Row{}, err
	}
	return out.row(), nil
}

// DeleteRow удаляет строку; последующие строки сдвигаются вверх.
func (c *Client) DeleteRow(ctx context.Context, sessionID string, index int) error {
	return c.call(ctx, "deleteRow", http.MethodDelete, c.itemPath(index), sessionID, nil, nil)
}

func (c *Client) tablePath() string {
	return "/workbook/tables/" + url.PathEscape(c.table)
}

func (c *Client) itemPath(index int) string {
	return fmt.Sprintf("%s/rows/itemAt(index=%d)", c.tablePath(), index)
}

func (p rowPayload) row() Row {
	row := Row{Index: p.Index}
	if len(p.Values) > 0 {
		row.Values = p.Values[0]
	}
	return row
}

func (c *Client) call(ctx context.Context, op, method, path, sessionID string, body, target any) error {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.BackendError{
			Backend:   domain.BackendWorkbook,
			Op:        op,
			Retryable: retry.IsNetworkError(err) && ctx.Err() == nil,
			Err:       err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.decodeError(op, resp)
	}

	if target == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return &domain.BackendError{
			Backend:    domain.BackendWorkbook,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}
	return nil
}

func (c *Client) decodeError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var apiErr apiError
	_ = json.Unmarshal(raw, &apiErr)

	msg := strings.TrimSpace(apiErr.Error.Message)
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var cause error = errors.New(msg)
	if _, ok := sessionErrorCodes[strings.ToLower(apiErr.Error.Code)]; ok {
		cause = fmt.Errorf("%w: %s", domain.ErrSessionInvalid, msg)
	} else if resp.StatusCode == http.StatusNotFound && itemOps[op] {
		cause = fmt.Errorf("%w: %s", domain.ErrRepairOrderNotFound, msg)
	}

	c.logger.WithFields(log.Fields{
		"operation": op,
		"status":    resp.StatusCode,
		"code":      apiErr.Error.Code,
	}).Debug("Workbook request failed")

	return &domain.BackendError{
		Backend:    domain.BackendWorkbook,
		Op:         op,
		StatusCode: resp.StatusCode,
		Retryable:  retry.StatusRetryable(resp.StatusCode) || errors.Is(cause, domain.ErrSessionInvalid),
		Err:        cause,
	}
}
