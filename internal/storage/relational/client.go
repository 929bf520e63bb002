// Package relational — клиент REST API реляционного бэкенда заказов.
package relational

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
	"github.com/Cal9233/genthrust-repairs/internal/rostable"
)

const defaultHTTPTimeout = 15 * time.Second

// Операции над конкретным заказом: 404 для них означает отсутствие заказа.
var itemOps = map[string]bool{
	"getRow": true, "updateRow": true, "moveRow": true, "deleteRow": true,
	"findByNumber": true, "deleteByNumber": true,
}

// NumberLookup — ответ поиска и удаления по номеру заказа.
type NumberLookup struct {
	ArchiveStatus domain.ArchiveStatus `json:"archiveStatus"`
	Row           rostable.Row         `json:"row,omitempty"`
}

// ClientOption настраивает Client.
type ClientOption func(*Client)

// WithHTTPClient задаёт базовый HTTP-клиент.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTokenSource подключает bearer-токены.
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

// Client выполняет по одному HTTP-запросу на вызов.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	logger     *log.Entry
}

// NewClient создаёт клиент API по адресу baseURL.
func NewClient(baseURL string, options ...ClientOption) *Client {
	c := &Client{baseURL: strings.TrimRight(baseURL, "/")}
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
		c.logger = log.WithField("component", "relational-client")
	}
	return c
}

// Health проверяет доступность API.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, "health", http.MethodGet, "/healthz", nil, nil)
}

// ListRows возвращает строки таблицы статуса.
func (c *Client) ListRows(ctx context.Context, status domain.ArchiveStatus) ([]rostable.Row, error) {
	var rows []rostable.Row
	err := c.call(ctx, "listRows", http.MethodGet, "/ros?"+statusQuery(status), nil, &rows)
	return rows, err
}

// GetRow возвращает строку по идентификатору из таблицы статуса.
func (c *Client) GetRow(ctx context.Context, status domain.ArchiveStatus, id string) (rostable.Row, error) {
	var row rostable.Row
	err := c.call(ctx, "getRow", http.MethodGet, itemPath(id)+"?"+statusQuery(status), nil, &row)
	return row, err
}

// FindByNumber ищет заказ по номеру во всех таблицах.
func (c *Client) FindByNumber(ctx context.Context, number string) (NumberLookup, error) {
	var out NumberLookup
	err := c.call(ctx, "findByNumber", http.MethodGet, "/ros/by-number/"+url.PathEscape(number), nil, &out)
	return out, err
}

// InsertRow добавляет строку в таблицу статуса.
func (c *Client) InsertRow(ctx context.Context, status domain.ArchiveStatus, row rostable.Row) (rostable.Row, error) {
	var out rostable.Row
	err := c.call(ctx, "insertRow", http.MethodPost, "/ros?"+statusQuery(status), row, &out)
	return out, err
}

// UpdateRow меняет переданные колонки строки.
func (c *Client) UpdateRow(ctx context.Context, status domain.ArchiveStatus, id string, row rostable.Row) (rostable.Row, error) {
	var out rostable.Row
	err := c.call(ctx, "updateRow", http.MethodPatch, itemPath(id)+"?"+statusQuery(status), row, &out)
	return out, err
}

// MoveRow переносит строку в таблицу статуса to; row — значения в колонках целевой таблицы.
func (c *Client) MoveRow(ctx context.Context, from, to domain.ArchiveStatus, id string, row rostable.Row) (rostable.Row, error) {
	q := url.Values{"archiveStatus": {string(from)}, "moveTo": {string(to)}}
	var out rostable.Row
	err := c.call(ctx, "moveRow", http.MethodPatch, itemPath(id)+"?"+q.Encode(), row, &out)
	return out, err
}

// DeleteRow удаляет строку по идентификатору.
func (c *Client) DeleteRow(ctx context.Context, status domain.ArchiveStatus, id string) error {
	return c.call(ctx, "deleteRow", http.MethodDelete, itemPath(id)+"?"+statusQuery(status), nil, nil)
}

// DeleteByNumber удаляет заказ по номеру и возвращает статус таблицы, где он был.
func (c *Client) DeleteByNumber(ctx context.Context, number string) (domain.ArchiveStatus, error) {
	var out NumberLookup
	err := c.call(ctx, "deleteByNumber", http.MethodDelete, "/ros/by-number/"+url.PathEscape(number), nil, &out)
	return out.ArchiveStatus, err
}

// Dashboard возвращает сводку, посчитанную сервером.
func (c *Client) Dashboard(ctx context.Context) (domain.DashboardStats, error) {
	var out domain.DashboardStats
	err := c.call(ctx, "dashboard", http.MethodGet, "/ros/stats/dashboard", nil, &out)
	return out, err
}

func statusQuery(status domain.ArchiveStatus) string {
	return url.Values{"archiveStatus": {string(status)}}.Encode()
}

func itemPath(id string) string {
	return "/ros/" + url.PathEscape(id)
}

func (c *Client) call(ctx context.Context, op, method, path string, body, target any) error {
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

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.BackendError{
			Backend:   domain.BackendRelational,
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
			Backend:    domain.BackendRelational,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}
	return nil
}

func (c *Client) decodeError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(raw, &apiErr)
	msg := strings.TrimSpace(apiErr.Error)
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	cause := errors.New(msg)
	switch {
	case resp.StatusCode == http.StatusNotFound && itemOps[op]:
		cause = fmt.Errorf("%w: %s", domain.ErrRepairOrderNotFound, msg)
	case resp.StatusCode == http.StatusConflict:
		cause = fmt.Errorf("%w: %s", domain.ErrOrderNumberTaken, msg)
	}

	c.logger.WithFields(log.Fields{
		"operation": op,
		"status":    resp.StatusCode,
	}).Debug("Relational request failed")

	return &domain.BackendError{
		Backend:    domain.BackendRelational,
		Op:         op,
		StatusCode: resp.StatusCode,
		Retryable:  retry.StatusRetryable(resp.StatusCode),
		Err:        cause,
	}
}
