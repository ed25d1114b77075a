package awr

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// IdempotencyHeader carries the client-chosen key that lets the server replay
// the original handle for a retried upload.
const IdempotencyHeader = "Idempotency-Key"

const (
	opSubmit          = "submit report"
	opList            = "list reports"
	opGet             = "get report"
	opDelete          = "delete report"
	opReparse         = "reparse report"
	opMetrics         = "get metrics"
	opTriggerAnalysis = "trigger analysis"
	opDiagnostics     = "get diagnostics"
)

// ValidateUpload applies the local preconditions of an upload: an accepted
// extension and a size within the ceiling.
func ValidateUpload(cfg Config, filename string, size int64) error {
	cfg = cfg.withDefaults()
	name := strings.TrimSpace(filepath.Base(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return &ValidationError{field: "filename", reason: "a file name is required"}
	}
	ext := strings.ToLower(filepath.Ext(name))
	accepted := false
	for _, e := range cfg.Extensions {
		if strings.EqualFold(ext, e) {
			accepted = true
			break
		}
	}
	if !accepted {
		return &ValidationError{
			field:  "filename",
			reason: fmt.Sprintf("%s is not an accepted report file (expected %s)", name, strings.Join(cfg.Extensions, ", ")),
		}
	}
	if size <= 0 {
		return &ValidationError{field: "size", reason: fmt.Sprintf("%s is empty", name)}
	}
	if size > cfg.MaxUploadBytes {
		return &ValidationError{
			field:  "size",
			reason: fmt.Sprintf("%s is %d bytes, the limit is %d bytes", name, size, cfg.MaxUploadBytes),
		}
	}
	return nil
}

// SubmitOption configures a single upload.
type SubmitOption func(*submitConfig)

type submitConfig struct {
	idempotencyKey string
}

// WithIdempotencyKey reuses a key from an earlier attempt, so a retry after a
// timeout returns the report created by that attempt instead of a duplicate.
func WithIdempotencyKey(key string) SubmitOption {
	return func(c *submitConfig) { c.idempotencyKey = key }
}

// NewIdempotencyKey returns a fresh random key.
func NewIdempotencyKey() string { return uuid.NewString() }

// Submit uploads one report. Validation failures return a ValidationError
// without touching the network. Without WithIdempotencyKey each call gets a
// new key, so blindly retrying a timed-out Submit may create a duplicate.
func (c *Client) Submit(ctx context.Context, data []byte, filename string, opts ...SubmitOption) (*ReportHandle, error) {
	if err := ValidateUpload(c.cfg, filename, int64(len(data))); err != nil {
		return nil, err
	}
	sc := submitConfig{}
	for _, opt := range opts {
		opt(&sc)
	}
	if sc.idempotencyKey == "" {
		sc.idempotencyKey = NewIdempotencyKey()
	}

	body, contentType, err := multipartBody(filepath.Base(filename), data)
	if err != nil {
		return nil, fmt.Errorf("%s: build body: %w", opSubmit, err)
	}

	header := http.Header{}
	header.Set(IdempotencyHeader, sc.idempotencyKey)

	var handle ReportHandle
	_, err = c.doJSON(ctx, request{
		method:      http.MethodPost,
		url:         c.baseURL + "/reports/upload",
		operation:   opSubmit,
		body:        body,
		contentType: contentType,
		header:      header,
	}, &handle)
	if err != nil {
		return nil, err
	}
	return &handle, nil
}

// SubmitFile validates path by its name and size before reading it, then
// submits its contents.
func (c *Client) SubmitFile(ctx context.Context, path string, opts ...SubmitOption) (*ReportHandle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opSubmit, err)
	}
	if info.IsDir() {
		return nil, &ValidationError{field: "filename", reason: fmt.Sprintf("%s is a directory", path)}
	}
	if err := ValidateUpload(c.cfg, path, info.Size()); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opSubmit, err)
	}
	return c.Submit(ctx, data, filepath.Base(path), opts...)
}

func multipartBody(filename string, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", "text/html")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}
