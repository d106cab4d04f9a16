package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/five82/clanhub/internal/model"
)

// Store is the remote query surface the rest of the client depends on.
// It is implemented by *Client and can be faked in tests.
type Store interface {
	Select(ctx context.Context, q Query) ([]model.Record, error)
	Insert(ctx context.Context, table model.Kind, rec model.Record) (model.Record, error)
	Update(ctx context.Context, table model.Kind, id string, fields model.Record) (model.Record, error)
	Delete(ctx context.Context, table model.Kind, id string) error
}

// Ensure Client implements Store at compile time.
var _ Store = (*Client)(nil)

// Client talks to the hosted backend's REST and auth endpoints.
type Client struct {
	baseURL   *url.URL
	apiKey    string
	http      *http.Client
	userAgent string

	mu    sync.RWMutex
	token string
}

const (
	defaultUserAgent = "clanhub/0.1"
	requestTimeout   = 10 * time.Second
	restPrefix       = "/rest/v1/"
	authPrefix       = "/auth/v1/"
)

// NewClient builds a Client for the project at baseURL, authenticating
// requests with apiKey until an access token is set.
func NewClient(baseURL, apiKey string) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key is required")
	}
	return &Client{
		baseURL: base,
		apiKey:  strings.TrimSpace(apiKey),
		http: &http.Client{
			Timeout: requestTimeout,
		},
		userAgent: defaultUserAgent,
	}, nil
}

// SetAccessToken switches request authorization to a signed-in user.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

// AccessToken returns the bearer token currently in use.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token != "" {
		return c.token
	}
	return c.apiKey
}

// Select runs a filtered, ordered select against a table.
func (c *Client) Select(ctx context.Context, q Query) ([]model.Record, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	if q.Table == "" {
		return nil, fmt.Errorf("table required")
	}
	values := url.Values{}
	columns := strings.TrimSpace(q.Columns)
	if columns == "" {
		columns = "*"
	}
	values.Set("select", columns)
	if len(q.Order) > 0 {
		parts := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			dir := "asc"
			if o.Desc {
				dir = "desc"
			}
			parts = append(parts, o.Column+"."+dir)
		}
		values.Set("order", strings.Join(parts, ","))
	}
	for _, f := range q.Filters {
		values.Add(f.Column, "eq."+f.Value)
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}

	rel := &url.URL{Path: restPrefix + string(q.Table), RawQuery: values.Encode()}
	var rows []model.Record
	if err := c.doURL(ctx, http.MethodGet, rel, nil, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Insert creates a row and returns the stored representation.
func (c *Client) Insert(ctx context.Context, table model.Kind, rec model.Record) (model.Record, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	rel := &url.URL{Path: restPrefix + string(table)}
	var rows []model.Record
	if err := c.doURL(ctx, http.MethodPost, rel, rec, representation, &rows); err != nil {
		return nil, err
	}
	return first(rows), nil
}

// Update patches the row with the given id.
func (c *Client) Update(ctx context.Context, table model.Kind, id string, fields model.Record) (model.Record, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("id required")
	}
	rel := &url.URL{Path: restPrefix + string(table), RawQuery: idFilter(id)}
	var rows []model.Record
	if err := c.doURL(ctx, http.MethodPatch, rel, fields, representation, &rows); err != nil {
		return nil, err
	}
	return first(rows), nil
}

// Delete removes the row with the given id.
func (c *Client) Delete(ctx context.Context, table model.Kind, id string) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("id required")
	}
	rel := &url.URL{Path: restPrefix + string(table), RawQuery: idFilter(id)}
	return c.doURL(ctx, http.MethodDelete, rel, nil, nil, nil)
}

var representation = map[string]string{"Prefer": "return=representation"}

func (c *Client) doURL(ctx context.Context, method string, rel *url.URL, body any, headers map[string]string, dest any) error {
	reqURL := c.baseURL.ResolveReference(rel)

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.AccessToken())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Method: method, Path: rel.Path, Status: resp.StatusCode}
		var payload errorBody
		if raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024)); readErr == nil && len(raw) > 0 {
			if json.Unmarshal(raw, &payload) == nil {
				apiErr.Message = payload.text()
				if payload.Code != nil {
					apiErr.Code = fmt.Sprint(payload.Code)
				}
			}
		}
		return apiErr
	}
	if dest == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func idFilter(id string) string {
	return url.Values{model.FieldID: []string{"eq." + strings.TrimSpace(id)}}.Encode()
}

func first(rows []model.Record) model.Record {
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("backend url is required")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse backend url %q: %w", raw, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse backend url %q: missing host", raw)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
