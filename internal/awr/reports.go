package awr

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DateLayout is the format of the date_from/date_to filters.
const DateLayout = "2006-01-02"

// ListOption configures filter and pagination for report listing.
type ListOption func(params url.Values)

// WithPage selects the 1-based page number.
func WithPage(n int) ListOption {
	return func(p url.Values) { p.Set("page", strconv.Itoa(n)) }
}

// WithPageSize sets the number of reports per page (server max 100).
func WithPageSize(n int) ListOption {
	return func(p url.Values) { p.Set("page_size", strconv.Itoa(n)) }
}

// WithStatus filters by lifecycle status.
func WithStatus(s Status) ListOption {
	return func(p url.Values) { p.Set("status", string(s)) }
}

// WithDBName filters by a case-insensitive substring of db_name.
func WithDBName(name string) ListOption {
	return func(p url.Values) { p.Set("db_name", name) }
}

// WithDateRange filters by upload date, inclusive. A zero time leaves that
// side open.
func WithDateRange(from, to time.Time) ListOption {
	return func(p url.Values) {
		if !from.IsZero() {
			p.Set("date_from", from.Format(DateLayout))
		}
		if !to.IsZero() {
			p.Set("date_to", to.Format(DateLayout))
		}
	}
}

// List returns one page of reports, newest upload first.
func (c *Client) List(ctx context.Context, opts ...ListOption) (*ReportPage, error) {
	params := url.Values{}
	for _, opt := range opts {
		opt(params)
	}
	u := c.baseURL + "/reports"
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var page ReportPage
	if _, err := c.doJSON(ctx, request{method: http.MethodGet, url: u, operation: opList}, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListAll returns every report matching the filters, auto-paginating.
func (c *Client) ListAll(ctx context.Context, opts ...ListOption) ([]Report, error) {
	var all []Report
	page := 1
	for {
		pageOpts := append(append([]ListOption(nil), opts...),
			WithPageSize(MaxPageSize),
			WithPage(page),
		)
		paged, err := c.List(ctx, pageOpts...)
		if err != nil {
			return nil, err
		}
		all = append(all, paged.Items...)
		if len(paged.Items) < MaxPageSize || len(all) >= paged.Total {
			break
		}
		page++
	}
	return all, nil
}

// Get returns the current snapshot of one report.
func (c *Client) Get(ctx context.Context, id int64) (*Report, error) {
	var r Report
	if _, err := c.doJSON(ctx, request{method: http.MethodGet, url: c.reportURL(id, ""), operation: opGet}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Delete removes a report with its metrics and diagnostics. A report that is
// already gone yields an error for which IsNotFound is true.
func (c *Client) Delete(ctx context.Context, id int64) error {
	_, err := c.doJSON(ctx, request{method: http.MethodDelete, url: c.reportURL(id, ""), operation: opDelete}, nil)
	return err
}

// Reparse asks the server to parse the stored file of a terminal report again.
// The server answers with a new report; the original keeps its status.
func (c *Client) Reparse(ctx context.Context, id int64) (*ReportHandle, error) {
	var handle ReportHandle
	_, err := c.doJSON(ctx, request{method: http.MethodPost, url: c.reportURL(id, "/reparse"), operation: opReparse}, &handle)
	if err != nil {
		return nil, asInvalidState(err, opReparse, id)
	}
	return &handle, nil
}

// Metrics returns a parsed report's metrics, optionally for one category.
func (c *Client) Metrics(ctx context.Context, id int64, category string) ([]PerformanceMetric, error) {
	u := c.reportURL(id, "/metrics")
	if category != "" {
		u += "?" + url.Values{"category": {category}}.Encode()
	}
	var metrics []PerformanceMetric
	if _, err := c.doJSON(ctx, request{method: http.MethodGet, url: u, operation: opMetrics}, &metrics); err != nil {
		return nil, asInvalidState(err, opMetrics, id)
	}
	return metrics, nil
}

// asInvalidState converts a 409 invalid_state response into an InvalidStateError.
func asInvalidState(err error, operation string, id int64) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.statusCode != http.StatusConflict {
		return err
	}
	if apiErr.code != "" && apiErr.code != CodeInvalidState {
		return err
	}
	return &InvalidStateError{
		operation: operation,
		reportID:  id,
		status:    apiErr.reportStatus,
		detail:    apiErr.Detail(),
	}
}
