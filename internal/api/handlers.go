package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/common"
)

type handler struct {
	svc    Reports
	logger *slog.Logger
}

type createReportRequest struct {
	CompanyName string `json:"company_name"`
}

// StatusUpdate is the PATCH body for a file status change.
type StatusUpdate struct {
	Status       constants.FileStatus `json:"status"`
	ErrorMessage string               `json:"error_message,omitempty"`
}

func (h *handler) createReport(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("company_name")
	if name == "" && r.ContentLength != 0 {
		var body createReportRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.fail(w, r, common.NewAppError("INVALID_BODY", "invalid request body", common.ErrInvalidInput))
			return
		}
		name = body.CompanyName
	}
	rep, err := h.svc.CreateReport(r.Context(), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (h *handler) listReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.svc.ListReports(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (h *handler) getReport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "reportID")
	if !ok {
		return
	}
	rep, err := h.svc.GetReport(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *handler) deleteReport(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "reportID")
	if !ok {
		return
	}
	if err := h.svc.DeleteReport(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) retry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "reportID")
	if !ok {
		return
	}
	res, err := h.svc.Retry(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *handler) listFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "reportID")
	if !ok {
		return
	}
	files, err := h.svc.ListFiles(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *handler) requestUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "reportID")
	if !ok {
		return
	}
	ft, err := constants.ParseFileType(r.URL.Query().Get("file_type"))
	if err != nil {
		h.fail(w, r, common.NewAppError("INVALID_FILE_TYPE", err.Error(), common.ErrInvalidInput))
		return
	}
	cat, err := constants.ParseFileCategory(r.URL.Query().Get("category"))
	if err != nil {
		h.fail(w, r, common.NewAppError("INVALID_CATEGORY", err.Error(), common.ErrInvalidInput))
		return
	}
	ticket, err := h.svc.RequestUpload(r.Context(), id, ft, cat)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "reportID")
	if !ok {
		return
	}
	fileID, ok := h.pathID(w, r, "fileID")
	if !ok {
		return
	}
	dl, err := h.svc.DownloadURL(r.Context(), id, fileID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dl)
}

func (h *handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "reportID")
	if !ok {
		return
	}
	fileID, ok := h.pathID(w, r, "fileID")
	if !ok {
		return
	}
	var body StatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.fail(w, r, common.NewAppError("INVALID_BODY", "invalid request body", common.ErrInvalidInput))
		return
	}
	st, err := constants.ParseFileStatus(string(body.Status))
	if err != nil {
		h.fail(w, r, common.NewAppError("INVALID_STATUS", err.Error(), common.ErrInvalidInput))
		return
	}
	f, err := h.svc.UpdateStatus(r.Context(), id, fileID, st, body.ErrorMessage)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *handler) pathID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		h.fail(w, r, common.NewAppError("INVALID_ID", "invalid "+key, common.ErrInvalidInput))
		return 0, false
	}
	return id, true
}

type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

// StatusFor maps an application error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrRejected):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, common.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	body := errorBody{Code: common.CodeOf(err), Detail: common.UserMessage(err)}
	if status >= http.StatusInternalServerError {
		h.logger.Error("http.request.failed", "path", r.URL.Path, "error", err)
		if status == http.StatusInternalServerError {
			body.Detail = "internal error"
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
