// Package apiclient is the stage workers' client for the reports API and the
// presigned object store URLs it hands out.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/common"
	"github.com/webdevavi/aureus/internal/entity"
)

// requestIDHeader is the header chi's RequestID middleware adopts.
const requestIDHeader = "X-Request-Id"

type Client struct {
	baseURL string
	http    *http.Client
	retry   common.RetryPolicy
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithRetryPolicy(p common.RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

func New(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
		retry:   common.DefaultRetryPolicy(),
		logger:  logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// UploadTicket mirrors the upload intent response.
type UploadTicket struct {
	FileID    int64                `json:"file_id"`
	UploadURL string               `json:"upload_url"`
	S3Key     string               `json:"s3_key"`
	S3Bucket  string               `json:"s3_bucket"`
	Status    constants.FileStatus `json:"status"`
	Message   string               `json:"message"`
}

type RetryResult struct {
	ReportID   int64           `json:"report_id"`
	RetryStage constants.Stage `json:"retry_stage"`
	Queued     bool            `json:"queued"`
	Message    string          `json:"message"`
}

func (c *Client) CreateReport(ctx context.Context, companyName string) (*entity.Report, error) {
	var out entity.Report
	body := map[string]string{"company_name": companyName}
	if err := c.call(ctx, http.MethodPost, "/reports/", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetReport(ctx context.Context, reportID int64) (*entity.Report, error) {
	var out entity.Report
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/reports/%d", reportID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DownloadURL(ctx context.Context, reportID, fileID int64) (string, error) {
	var out struct {
		DownloadURL string `json:"download_url"`
	}
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/reports/%d/files/%d", reportID, fileID), nil, &out); err != nil {
		return "", err
	}
	if out.DownloadURL == "" {
		return "", fmt.Errorf("empty download_url for file %d", fileID)
	}
	return out.DownloadURL, nil
}

func (c *Client) RequestUpload(ctx context.Context, reportID int64, t constants.FileType, cat constants.FileCategory) (*UploadTicket, error) {
	q := url.Values{}
	q.Set("file_type", string(t))
	q.Set("category", string(cat))
	var out UploadTicket
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/reports/%d/files/upload?%s", reportID, q.Encode()), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateStatus(ctx context.Context, reportID, fileID int64, st constants.FileStatus, errorMessage string) error {
	body := map[string]string{"status": string(st)}
	if errorMessage != "" {
		body["error_message"] = constants.Truncate(errorMessage)
	}
	return c.call(ctx, http.MethodPatch, fmt.Sprintf("/reports/%d/files/%d/status", reportID, fileID), body, nil)
}

func (c *Client) Retry(ctx context.Context, reportID int64) (*RetryResult, error) {
	var out RetryResult
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/reports/%d/retry", reportID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health probes GET /health once, without retries.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return statusErr(resp, "health")
}

// Download streams a presigned GET into dst.
func (c *Client) Download(ctx context.Context, presignedURL, dst string) error {
	return c.retry.Do(ctx, "download", c.logger, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, presignedURL, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return common.Retryable(err)
		}
		defer resp.Body.Close()
		if err := statusErr(resp, "download"); err != nil {
			return err
		}

		f, err := os.Create(dst)
		if err != nil {
			return err
		}
		n, err := io.Copy(f, resp.Body)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return common.Retryable(fmt.Errorf("write %s: %w", dst, err))
		}
		c.logger.Debug("apiclient.download.ok", "bytes", n, "dst", dst)
		return nil
	})
}

// UploadFile PUTs the file at path to a presigned URL.
func (c *Client) UploadFile(ctx context.Context, presignedURL, path string, t constants.FileType) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.Upload(ctx, presignedURL, data, t)
}

func (c *Client) Upload(ctx context.Context, presignedURL string, data []byte, t constants.FileType) error {
	return c.retry.Do(ctx, "upload", c.logger, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, presignedURL, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", t.ContentType())
		req.ContentLength = int64(len(data))
		resp, err := c.http.Do(req)
		if err != nil {
			return common.Retryable(err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return statusErr(resp, "upload")
	})
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
	}
	return c.retry.Do(ctx, method+" "+path, c.logger, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if id := common.RequestIDFromContext(ctx); id != "" {
			req.Header.Set(requestIDHeader, id)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return common.Retryable(err)
		}
		defer resp.Body.Close()
		if err := statusErr(resp, method+" "+path); err != nil {
			return err
		}
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	})
}

// statusErr maps a non-2xx response to the app error taxonomy.
func statusErr(resp *http.Response, op string) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(raw))
	var body struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Detail != "" {
		detail = body.Detail
	}
	msg := fmt.Sprintf("%s: HTTP %d: %s", op, resp.StatusCode, detail)

	var kind error
	switch resp.StatusCode {
	case http.StatusNotFound:
		kind = common.ErrNotFound
	case http.StatusConflict:
		kind = common.ErrConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		kind = common.ErrRejected
	default:
		kind = common.ErrUnavailable
	}
	err := common.NewAppError("HTTP_"+fmt.Sprint(resp.StatusCode), msg, kind)
	if common.ShouldRetryStatus(resp.StatusCode) {
		return common.Retryable(err)
	}
	return err
}

// IsConflict reports whether err came from a 409.
func IsConflict(err error) bool { return errors.Is(err, common.ErrConflict) }
