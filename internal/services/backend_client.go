package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"fleet-console-backend/db/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BackendConfig points the client at the fleet REST backend.
type BackendConfig struct {
	BaseURL      string
	Timeout      time.Duration
	RateLimitRPS int

	UploadPath      string
	TemplatePath    string
	RevalidatePath  string
	ValidateRowPath string
	ConfirmPath     string
}

// DefaultBackendConfig returns the paths the console has always called.
func DefaultBackendConfig(baseURL string) BackendConfig {
	return BackendConfig{
		BaseURL:         baseURL,
		Timeout:         60 * time.Second,
		RateLimitRPS:    20,
		UploadPath:      "/api/jobs/bulk-upload/preview",
		TemplatePath:    "/api/jobs/bulk-upload/template",
		RevalidatePath:  "/api/jobs/bulk-upload/revalidate",
		ValidateRowPath: "/api/jobs/bulk-upload/validate-row",
		ConfirmPath:     "/api/jobs/bulk-upload/confirm",
	}
}

// BackendError is a non-2xx answer from the backend.
type BackendError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.StatusCode)
}

type bearerTokenKey struct{}

// WithBearerToken attaches the operator's access token so that backend calls
// made on their behalf carry it.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerTokenKey{}, token)
}

func bearerToken(ctx context.Context) string {
	token, _ := ctx.Value(bearerTokenKey{}).(string)
	return token
}

// BackendClient talks to the fleet REST backend.
type BackendClient struct {
	cfg         BackendConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

func NewBackendClient(cfg BackendConfig, logger *zap.Logger) (*BackendClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("backend base URL is required")
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &BackendClient{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitRPS),
		logger:      logger,
	}, nil
}

// ParseUpload sends the spreadsheet to the parse-and-validate endpoint.
func (c *BackendClient) ParseUpload(ctx context.Context, filename, contentType string, file io.Reader) (*models.PreviewData, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to copy upload into request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalise multipart body: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, c.cfg.UploadPath, writer.FormDataContentType(), buf.Bytes(), false)
	if err != nil {
		return nil, err
	}

	var preview models.PreviewData
	if err := json.Unmarshal(body, &preview); err != nil {
		return nil, fmt.Errorf("failed to decode upload preview: %w", err)
	}
	return &preview, nil
}

// DownloadTemplate fetches the spreadsheet template.
func (c *BackendClient) DownloadTemplate(ctx context.Context) (*models.FileDownload, error) {
	resp, err := c.send(ctx, http.MethodGet, c.cfg.TemplatePath, "", nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}

	name := "job_upload_template.xlsx"
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}

	return &models.FileDownload{Name: name, ContentType: contentType, Data: data}, nil
}

// RevalidateRows re-checks a batch of rows against current business rules.
func (c *BackendClient) RevalidateRows(ctx context.Context, req models.RevalidateRequest) ([]models.UploadRow, error) {
	var out struct {
		Rows []models.UploadRow `json:"rows"`
	}
	if err := c.postJSON(ctx, c.cfg.RevalidatePath, req, &out); err != nil {
		return nil, err
	}
	return out.Rows, nil
}

// ValidateRow re-checks one edited row. The backend answers either with the
// row itself or with a one-element rows envelope.
func (c *BackendClient) ValidateRow(ctx context.Context, req models.RevalidateRequest) (*models.UploadRow, error) {
	var raw json.RawMessage
	if err := c.postJSON(ctx, c.cfg.ValidateRowPath, req, &raw); err != nil {
		return nil, err
	}

	var envelope struct {
		Rows []models.UploadRow `json:"rows"`
		Row  *models.UploadRow  `json:"row"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if envelope.Row != nil {
			return envelope.Row, nil
		}
		if len(envelope.Rows) > 0 {
			return &envelope.Rows[0], nil
		}
	}

	var row models.UploadRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("failed to decode validated row: %w", err)
	}
	return &row, nil
}

// ConfirmUpload persists rows as jobs.
func (c *BackendClient) ConfirmUpload(ctx context.Context, req models.ConfirmUploadRequest) (*models.ConfirmUploadResult, error) {
	var out models.ConfirmUploadResult
	if err := c.postJSON(ctx, c.cfg.ConfirmPath, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJSON fetches a lookup endpoint and returns the raw body.
func (c *BackendClient) GetJSON(ctx context.Context, path string) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, path, "", nil, true)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func (c *BackendClient) postJSON(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, path, "application/json", payload, false)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *BackendClient) do(ctx context.Context, method, path, contentType string, payload []byte, idempotent bool) ([]byte, error) {
	resp, err := c.send(ctx, method, path, contentType, payload, idempotent)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", path, err)
	}
	return body, nil
}

// send performs the request. Only idempotent requests are retried; a
// confirm-upload must never be replayed.
func (c *BackendClient) send(ctx context.Context, method, path, contentType string, payload []byte, idempotent bool) (*http.Response, error) {
	attempts := 1
	if idempotent {
		attempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")
		if token := bearerToken(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn("Backend request failed", zap.String("method", method), zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
			if ctx.Err() != nil {
				return nil, err
			}
			c.backoff(attempt, attempts)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		backendErr := &BackendError{StatusCode: resp.StatusCode, Message: extractMessage(raw), Body: string(raw)}
		lastErr = backendErr

		if !isRetryableStatus(resp.StatusCode) {
			return nil, backendErr
		}
		c.logger.Warn("Backend returned retryable status", zap.String("path", path), zap.Int("status", resp.StatusCode), zap.Int("attempt", attempt))
		c.backoff(attempt, attempts)
	}

	if lastErr == nil {
		lastErr = errors.New("backend request failed")
	}
	return nil, lastErr
}

func (c *BackendClient) backoff(attempt, attempts int) {
	if attempt >= attempts {
		return
	}
	time.Sleep(time.Duration(250*(1<<(attempt-1))+rand.Intn(100)) * time.Millisecond)
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// extractMessage pulls the human readable message out of an error body.
func extractMessage(body []byte) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	for _, key := range []string{"message", "error", "detail"} {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}
