// Package supabase reads locations from a Supabase project through its
// PostgREST endpoint.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/samirrijal/wilusmap/internal/core/domain"
	"github.com/samirrijal/wilusmap/internal/core/geometry"
	"github.com/samirrijal/wilusmap/internal/pkg/metrics"
)

// PageSize matches PostgREST's default max-rows on Supabase.
const PageSize = 1000

// Columns names the table columns.
type Columns struct {
	ID           string
	Organization string
	Name         string
	Geometry     string
	// Attributes maps extra columns to their popup labels.
	Attributes map[string]string
}

// Repo implements ports.LocationRepository over the Supabase REST API.
type Repo struct {
	client  *fasthttp.Client
	baseURL string
	key     string
	table   string
	cols    Columns
	timeout time.Duration
}

// Option configures a Repo.
type Option func(*Repo)

// WithClient replaces the HTTP client.
func WithClient(c *fasthttp.Client) Option {
	return func(r *Repo) { r.client = c }
}

// New creates a Repo for table in the project at baseURL, authenticating
// with the project's anon key.
func New(baseURL, anonKey, table string, cols Columns, timeout time.Duration, opts ...Option) *Repo {
	r := &Repo{
		client: &fasthttp.Client{
			Name:                "wilusmap",
			MaxConnsPerHost:     4,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     anonKey,
		table:   table,
		cols:    cols,
		timeout: timeout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Repo) pageURL(offset int) string {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("limit", strconv.Itoa(PageSize))
	q.Set("offset", strconv.Itoa(offset))
	if r.cols.ID != "" {
		q.Set("order", r.cols.ID+".asc")
	}
	return fmt.Sprintf("%s/rest/v1/%s?%s", r.baseURL, url.PathEscape(r.table), q.Encode())
}

// FetchLocations pages through the whole table.
func (r *Repo) FetchLocations(ctx context.Context) ([]domain.RawLocationRecord, error) {
	var out []domain.RawLocationRecord
	for offset := 0; ; offset += PageSize {
		rows, err := r.fetchPage(ctx, offset)
		if err != nil {
			metrics.RepositoryFetchErrors.WithLabelValues("supabase").Inc()
			return nil, err
		}
		for _, row := range rows {
			out = append(out, r.record(row))
		}
		if len(rows) < PageSize {
			return out, nil
		}
	}
}

func (r *Repo) fetchPage(ctx context.Context, offset int) ([]map[string]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.pageURL(offset))
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("apikey", r.key)
	req.Header.Set("Authorization", "Bearer "+r.key)
	req.Header.Set("Accept", "application/json")

	deadline := time.Now().Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := r.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("supabase request: %w", err)
	}

	if code := resp.StatusCode(); code < 200 || code > 299 {
		return nil, fmt.Errorf("supabase returned HTTP %d: %s", code, snippet(resp.Body()))
	}

	var rows []map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, fmt.Errorf("decode supabase rows: %w", err)
	}
	return rows, nil
}

func (r *Repo) record(row map[string]json.RawMessage) domain.RawLocationRecord {
	rec := domain.RawLocationRecord{
		ID:           text(row[r.cols.ID]),
		Organization: text(row[r.cols.Organization]),
		Name:         text(row[r.cols.Name]),
	}
	// Undecodable geometry is kept as such and rejected during normalization.
	g, err := geometry.DecodeRaw(row[r.cols.Geometry])
	if err != nil {
		slog.Debug("undecodable geometry", "table", r.table, "id", rec.ID, "error", err)
	}
	rec.Geometry = g

	for col, label := range r.cols.Attributes {
		if v := text(row[col]); v != "" {
			if rec.Attributes == nil {
				rec.Attributes = make(map[string]string)
			}
			rec.Attributes[label] = v
		}
	}
	return rec
}

// text renders a JSON scalar as plain text: strings unquoted, null empty,
// numbers and booleans as written.
func text(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

func snippet(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
