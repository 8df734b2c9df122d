package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/async"
	"github.com/webdevavi/aureus/internal/orchestrator"
	"github.com/webdevavi/aureus/internal/repository"
)

type stubPresigner struct{}

func (stubPresigner) PresignUpload(_ context.Context, bucket, key string) (string, error) {
	return "http://store/" + bucket + "/" + key, nil
}

func (stubPresigner) PresignDownload(_ context.Context, bucket, key, _ string) (string, error) {
	return "http://store/" + bucket + "/" + key + "?get", nil
}

func newTestServer(t *testing.T) (*httptest.Server, *async.MemoryBus) {
	t.Helper()
	ctx := context.Background()
	store, err := repository.OpenSQLite(ctx, "", nil)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(store.Close)

	bus := async.NewMemoryBus(nil)
	svc := orchestrator.New(store, stubPresigner{}, bus, orchestrator.Options{Bucket: "reports"}, nil)
	srv := httptest.NewServer(NewRouter(svc, Config{}, nil))
	t.Cleanup(srv.Close)
	return srv, bus
}

func do(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		var raw any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
		if m, ok := raw.(map[string]any); ok {
			out = m
		} else {
			out["items"] = raw
		}
	}
	return resp, out
}

func TestAPI_UploadStatusRetryFlow(t *testing.T) {
	srv, bus := newTestServer(t)

	resp, rep := do(t, http.MethodPost, srv.URL+"/reports?company_name=Acme", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	reportID := int64(rep["id"].(float64))
	base := fmt.Sprintf("%s/reports/%d", srv.URL, reportID)

	resp, body := do(t, http.MethodPost, base+"/retry", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["detail"], "no source file")

	resp, ticket := do(t, http.MethodPost, base+"/files/upload?file_type=pdf&category=source", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, orchestrator.MsgCreated, ticket["message"])
	fileID := int64(ticket["file_id"].(float64))

	resp, _ = do(t, http.MethodPost, base+"/files/upload?file_type=pdf&category=source", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, f := do(t, http.MethodPatch, fmt.Sprintf("%s/files/%d/status", base, fileID), StatusUpdate{Status: constants.StatusDone})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "done", f["status"])

	pub := bus.Published()
	require.Len(t, pub, 1)
	assert.Equal(t, constants.StageExtractor, pub[0].Stage)
	assert.Equal(t, constants.FileTypePDF, pub[0].Job.FileType)

	resp, _ = do(t, http.MethodPost, base+"/files/upload?file_type=pdf&category=source", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "completed slot")

	resp, res := do(t, http.MethodPost, base+"/retry", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "extractor", res["retry_stage"])

	resp, dl := do(t, http.MethodGet, fmt.Sprintf("%s/files/%d", base, fileID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, dl["download_url"], "?get")

	resp, files := do(t, http.MethodGet, base+"/files", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, files["items"], 1)
}

func TestAPI_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := do(t, http.MethodPost, srv.URL+"/reports", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "company name required")

	resp, _ = do(t, http.MethodGet, srv.URL+"/reports/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/reports/99", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, rep := do(t, http.MethodPost, srv.URL+"/reports", map[string]string{"company_name": "Body Corp"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	base := fmt.Sprintf("%s/reports/%d", srv.URL, int64(rep["id"].(float64)))

	resp, _ = do(t, http.MethodPost, base+"/files/upload?file_type=docx&category=source", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPatch, base+"/files/1/status", map[string]string{"status": "finished"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := do(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}
