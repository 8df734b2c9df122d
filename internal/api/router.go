// Package api serves the reports HTTP surface consumed by the UI and the stage workers.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/entity"
	"github.com/webdevavi/aureus/internal/orchestrator"
)

// Reports is the orchestrator surface the handlers need.
type Reports interface {
	CreateReport(ctx context.Context, companyName string) (*entity.Report, error)
	ListReports(ctx context.Context) ([]orchestrator.ReportWithFiles, error)
	GetReport(ctx context.Context, id int64) (*orchestrator.ReportWithFiles, error)
	DeleteReport(ctx context.Context, id int64) error
	ListFiles(ctx context.Context, reportID int64) ([]entity.ReportFile, error)
	RequestUpload(ctx context.Context, reportID int64, t constants.FileType, c constants.FileCategory) (*orchestrator.UploadTicket, error)
	DownloadURL(ctx context.Context, reportID, fileID int64) (*orchestrator.FileDownload, error)
	UpdateStatus(ctx context.Context, reportID, fileID int64, st constants.FileStatus, errorMessage string) (*entity.ReportFile, error)
	Retry(ctx context.Context, reportID int64) (*orchestrator.RetryResult, error)
}

type Config struct {
	RequestTimeout time.Duration
	// Ready reports backend health for /health; nil means always healthy.
	Ready func(ctx context.Context) error
}

// NewRouter creates the API router with all routes configured.
func NewRouter(svc Reports, cfg Config, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	h := &handler{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/reports", func(r chi.Router) {
		r.Post("/", h.createReport)
		r.Get("/", h.listReports)
		r.Route("/{reportID}", func(r chi.Router) {
			r.Get("/", h.getReport)
			r.Delete("/", h.deleteReport)
			r.Post("/retry", h.retry)
			r.Route("/files", func(r chi.Router) {
				r.Get("/", h.listFiles)
				r.Post("/upload", h.requestUpload)
				r.Get("/{fileID}", h.download)
				r.Patch("/{fileID}/status", h.updateStatus)
			})
		})
	})
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http.request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"took", time.Since(start),
				"request_id", chimiddleware.GetReqID(r.Context()),
			)
		})
	}
}
