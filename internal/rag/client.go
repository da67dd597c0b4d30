// Package rag provides an HTTP client for the knowledge-base API served by the chat backend.
package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xiaot623/gogo/chatlink/internal/metrics"
)

// ErrEmptyFile is returned when an upload is attempted with an empty file.
var ErrEmptyFile = errors.New("file is empty")

// APIError is a non-2xx response from the knowledge-base API.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rag api error (%d): %s", e.StatusCode, e.Detail)
}

// Client is an HTTP client for the knowledge-base API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new knowledge-base client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Health calls GET /rag/health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.doJSON(ctx, "health", http.MethodGet, "/rag/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats calls GET /rag/stats.
func (c *Client) Stats(ctx context.Context) (*CollectionStatsResponse, error) {
	var out CollectionStatsResponse
	if err := c.doJSON(ctx, "stats", http.MethodGet, "/rag/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPDFs calls GET /rag/pdfs.
func (c *Client) ListPDFs(ctx context.Context) (*PDFListResponse, error) {
	var out PDFListResponse
	if err := c.doJSON(ctx, "pdfs", http.MethodGet, "/rag/pdfs", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IngestDocuments calls POST /rag/documents.
func (c *Client) IngestDocuments(ctx context.Context, req *DocumentIngestRequest) (*DocumentIngestResponse, error) {
	var out DocumentIngestResponse
	if err := c.doJSON(ctx, "ingest", http.MethodPost, "/rag/documents", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search calls POST /rag/search.
func (c *Client) Search(ctx context.Context, req *DocumentSearchRequest) (*DocumentSearchResponse, error) {
	var out DocumentSearchResponse
	if err := c.doJSON(ctx, "search", http.MethodPost, "/rag/search", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDocument calls DELETE /rag/documents/{id}.
func (c *Client) DeleteDocument(ctx context.Context, id string) (*DeleteResponse, error) {
	var out DeleteResponse
	path := "/rag/documents/" + url.PathEscape(id)
	if err := c.doJSON(ctx, "delete", http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadPDF calls POST /rag/upload-pdf with the file as multipart field "file".
func (c *Client) UploadPDF(ctx context.Context, path string) (*PDFUploadResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() == 0 {
		return nil, ErrEmptyFile
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rag/upload-pdf", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	var out PDFUploadResponse
	if err := c.do(httpReq, "upload", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, endpoint, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return c.do(httpReq, endpoint, out)
}

func (c *Client) do(httpReq *http.Request, endpoint string, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.RAGRequestDuration.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("failed to call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	metrics.RAGRequestDuration.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Detail: errorDetail(resp, respBody)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

// errorDetail picks detail, then message, then the raw body, then the status text.
func errorDetail(resp *http.Response, body []byte) string {
	var parsed struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		switch d := parsed.Detail.(type) {
		case string:
			if d != "" {
				return d
			}
		case nil:
		default:
			if out, err := json.Marshal(d); err == nil {
				return string(out)
			}
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		return trimmed
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return resp.Status
}
