package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/apiclient"
	"github.com/webdevavi/aureus/internal/async"
	"github.com/webdevavi/aureus/internal/compress"
	"github.com/webdevavi/aureus/internal/entity"
	"github.com/webdevavi/aureus/internal/extract"
	"github.com/webdevavi/aureus/internal/synthesis"
)

type statusCall struct {
	FileID int64
	Status constants.FileStatus
	Msg    string
}

type fakeAPI struct {
	mu         sync.Mutex
	files      map[string][]byte // download url -> body
	uploads    map[string][]byte // upload url -> body
	statuses   []statusCall
	claims     []constants.FileCategory
	uploadErr  error
	claimErr   error
	failStatus map[constants.FileStatus]error // fails the next update to that status once
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{files: map[string][]byte{}, uploads: map[string][]byte{}}
}

func (f *fakeAPI) GetReport(_ context.Context, id int64) (*entity.Report, error) {
	return &entity.Report{ID: id, CompanyName: "Acme Ltd"}, nil
}

func (f *fakeAPI) DownloadURL(_ context.Context, reportID, fileID int64) (string, error) {
	return fmt.Sprintf("mem://%d/%d", reportID, fileID), nil
}

func (f *fakeAPI) RequestUpload(_ context.Context, reportID int64, t constants.FileType, cat constants.FileCategory) (*apiclient.UploadTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	f.claims = append(f.claims, cat)
	id := int64(10)
	if cat == constants.CategoryOutput {
		id = 20
	}
	return &apiclient.UploadTicket{FileID: id, UploadURL: "put://" + string(cat), Status: constants.StatusPending}, nil
}

func (f *fakeAPI) UpdateStatus(ctx context.Context, _, fileID int64, st constants.FileStatus, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failStatus[st]; ok {
		delete(f.failStatus, st)
		return err
	}
	f.statuses = append(f.statuses, statusCall{FileID: fileID, Status: st, Msg: msg})
	return nil
}

func (f *fakeAPI) Download(_ context.Context, url, dst string) error {
	f.mu.Lock()
	body, ok := f.files[url]
	f.mu.Unlock()
	if !ok {
		return errors.New("download: HTTP 404")
	}
	return os.WriteFile(dst, body, 0o644)
}

func (f *fakeAPI) Upload(_ context.Context, url string, data []byte, _ constants.FileType) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[url] = append([]byte(nil), data...)
	return nil
}

func (f *fakeAPI) statusList() []constants.FileStatus {
	var out []constants.FileStatus
	for _, s := range f.statuses {
		out = append(out, s.Status)
	}
	return out
}

type fakeExtractor struct {
	pages []extract.Page
	err   error
	seen  string
}

func (f *fakeExtractor) ExtractFile(ctx context.Context, path string, _ constants.FileType, _ string, _ extract.Progress) ([]extract.Page, error) {
	f.seen = path
	if f.err != nil {
		return nil, f.err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if f.pages != nil {
		return f.pages, nil
	}
	return extract.ChunkText(string(body)), nil
}

type fakeSynth struct {
	res synthesis.Result
	doc []byte
}

func (f *fakeSynth) Generate(_ context.Context, company string, doc []byte) synthesis.Result {
	f.doc = doc
	if f.res.Report == nil {
		return synthesis.Result{Report: map[string]any{"company_name": company, "summary": "ok", "key_metrics": []any{}}, Attempts: 1}
	}
	return f.res
}

type fakeRenderer struct {
	got entity.FinancialReport
	err error
}

func (f *fakeRenderer) Render(rep entity.FinancialReport) ([]byte, error) {
	f.got = rep
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.3 fake"), nil
}

type harness struct {
	api   *fakeAPI
	ex    *fakeExtractor
	synth *fakeSynth
	rend  *fakeRenderer
	proc  *Processor
	work  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{api: newFakeAPI(), ex: &fakeExtractor{}, synth: &fakeSynth{}, rend: &fakeRenderer{}, work: t.TempDir()}
	h.proc = NewProcessor(Config{WorkDir: h.work, Compression: compress.StrategyDedupe}, h.api, h.ex, h.synth, h.rend, nil)
	return h
}

func (h *harness) assertWorkDirEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.work)
	require.NoError(t, err)
	assert.Empty(t, entries, "job temp dir must be removed")
}

var extractJob = async.Job{ReportID: 1, FileID: 5, FileType: constants.FileTypeTXT}

func TestHandleExtractSuccess(t *testing.T) {
	h := newHarness(t)
	h.api.files["mem://1/5"] = []byte("Revenue rose 12% to 1,200 Cr this quarter on retail demand.\nMargins held.")

	require.NoError(t, h.proc.HandleExtract(context.Background(), extractJob))

	assert.Equal(t, []constants.FileCategory{constants.CategoryExtract}, h.api.claims)
	assert.Equal(t, []constants.FileStatus{constants.StatusProcessing, constants.StatusDone}, h.api.statusList())
	assert.Equal(t, int64(10), h.api.statuses[1].FileID)
	assert.True(t, strings.HasSuffix(h.ex.seen, "source_5.txt"))
	assert.Contains(t, string(h.synth.doc), "Revenue rose 12%")

	var uploaded map[string]any
	require.NoError(t, json.Unmarshal(h.api.uploads["put://extract"], &uploaded))
	assert.Equal(t, "Acme Ltd", uploaded["company_name"])
	h.assertWorkDirEmpty(t)
}

func TestHandleExtractNoContent(t *testing.T) {
	h := newHarness(t)
	h.api.files["mem://1/5"] = []byte("   \n\n")
	h.ex.pages = []extract.Page{}

	err := h.proc.HandleExtract(context.Background(), async.Job{ReportID: 1, FileID: 5, FileType: constants.FileTypePDF})
	require.Error(t, err)
	require.Len(t, h.api.statuses, 2)
	assert.Equal(t, constants.StatusError, h.api.statuses[1].Status)
	assert.Equal(t, "No extractable content found in PDF file", h.api.statuses[1].Msg)
	assert.Empty(t, h.api.uploads)
	h.assertWorkDirEmpty(t)
}

func TestHandleExtractSentinelUploadsAndErrors(t *testing.T) {
	h := newHarness(t)
	h.api.files["mem://1/5"] = []byte("Some page text that is long enough to matter for the report.")
	h.synth.res = synthesis.Result{Report: synthesis.SentinelReport(), Sentinel: true, Attempts: 5, Err: errors.New("json does not match schema")}

	err := h.proc.HandleExtract(context.Background(), extractJob)
	require.Error(t, err)
	assert.JSONEq(t, `{"error":"All retries failed."}`, string(h.api.uploads["put://extract"]))
	assert.Equal(t, []constants.FileStatus{constants.StatusProcessing, constants.StatusError}, h.api.statusList())
	assert.Contains(t, h.api.statuses[1].Msg, "report synthesis failed after 5 attempts")
	h.assertWorkDirEmpty(t)
}

func TestHandleExtractClaimFailureLeavesNoStatus(t *testing.T) {
	h := newHarness(t)
	h.api.claimErr = errors.New("POST upload: HTTP 409: in progress")

	err := h.proc.HandleExtract(context.Background(), extractJob)
	require.Error(t, err)
	assert.Empty(t, h.api.statuses)
	h.assertWorkDirEmpty(t)
}

func TestHandleExtractProcessingUpdateFailureMarksError(t *testing.T) {
	h := newHarness(t)
	h.api.files["mem://1/5"] = []byte("text")
	h.api.failStatus = map[constants.FileStatus]error{constants.StatusProcessing: errors.New("PATCH status: HTTP 503")}

	err := h.proc.HandleExtract(context.Background(), extractJob)
	require.Error(t, err)
	assert.Equal(t, []constants.FileCategory{constants.CategoryExtract}, h.api.claims)
	require.Len(t, h.api.statuses, 1)
	assert.Equal(t, statusCall{FileID: 10, Status: constants.StatusError, Msg: "PATCH status: HTTP 503"}, h.api.statuses[0])
	assert.Empty(t, h.ex.seen, "source is never downloaded")
	h.assertWorkDirEmpty(t)
}

func TestHandleExtractTruncatesErrorMessage(t *testing.T) {
	h := newHarness(t)
	h.api.files["mem://1/5"] = []byte("text")
	h.ex.err = errors.New(strings.Repeat("x", 6000))

	require.Error(t, h.proc.HandleExtract(context.Background(), extractJob))
	require.Len(t, h.api.statuses, 2)
	assert.Len(t, h.api.statuses[1].Msg, constants.MaxErrorLength)
}

func TestMarkErrorOutlivesCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.proc.markError(ctx, 1, 10, ctx.Err())
	require.Len(t, h.api.statuses, 1)
	assert.Equal(t, constants.StatusError, h.api.statuses[0].Status)
	assert.Equal(t, "context canceled", h.api.statuses[0].Msg)
}

func TestHandleExtractRequiresFileType(t *testing.T) {
	h := newHarness(t)
	err := h.proc.HandleExtract(context.Background(), async.Job{ReportID: 1, FileID: 5})
	require.Error(t, err)
	assert.Equal(t, []constants.FileStatus{constants.StatusProcessing, constants.StatusError}, h.api.statusList())
}

var renderJob = async.Job{ReportID: 1, FileID: 10}

func TestHandleRenderSuccess(t *testing.T) {
	h := newHarness(t)
	h.api.files["mem://1/10"] = []byte(`{"company_name":"Acme Ltd","summary":"ok","key_metrics":[{"name":"Revenue","value":100}]}`)

	require.NoError(t, h.proc.HandleRender(context.Background(), renderJob))
	assert.Equal(t, []constants.FileCategory{constants.CategoryOutput}, h.api.claims)
	assert.Equal(t, []constants.FileStatus{constants.StatusProcessing, constants.StatusDone}, h.api.statusList())
	assert.Equal(t, int64(20), h.api.statuses[0].FileID)
	assert.Equal(t, "Acme Ltd", h.rend.got.CompanyName)
	require.Len(t, h.rend.got.KeyMetrics, 1)
	assert.Equal(t, "100", entity.FormatValue(h.rend.got.KeyMetrics[0].Value))
	assert.Equal(t, "%PDF-1.3 fake", string(h.api.uploads["put://output"]))
	h.assertWorkDirEmpty(t)
}

func TestHandleRenderSentinelIsError(t *testing.T) {
	h := newHarness(t)
	h.api.files["mem://1/10"] = []byte(`{"error":"All retries failed."}`)

	require.Error(t, h.proc.HandleRender(context.Background(), renderJob))
	assert.Equal(t, []constants.FileStatus{constants.StatusProcessing, constants.StatusError}, h.api.statusList())
	assert.Contains(t, h.api.statuses[1].Msg, "report generation failed")
	assert.Empty(t, h.api.uploads)
}

func TestHandleRenderFailsBeforeClaim(t *testing.T) {
	h := newHarness(t)

	require.Error(t, h.proc.HandleRender(context.Background(), renderJob))
	assert.Empty(t, h.api.claims)
	assert.Empty(t, h.api.statuses)
	h.assertWorkDirEmpty(t)
}

func TestHandleRenderUploadFailure(t *testing.T) {
	h := newHarness(t)
	h.api.files["mem://1/10"] = []byte(`{"company_name":"Acme Ltd","summary":"ok","key_metrics":[]}`)
	h.api.uploadErr = errors.New("upload: HTTP 503")

	require.Error(t, h.proc.HandleRender(context.Background(), renderJob))
	assert.Equal(t, []constants.FileStatus{constants.StatusProcessing, constants.StatusError}, h.api.statusList())
	assert.Contains(t, h.api.statuses[1].Msg, "upload pdf")
}

func TestBuildWritesContext(t *testing.T) {
	h := newHarness(t)
	h.ex.pages = []extract.Page{{Page: 1, Text: "Segment revenue table follows", Engine: constants.EngineEmbedded}}

	src := filepath.Join(t.TempDir(), "src.pdf")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))
	art, err := h.proc.Build(context.Background(), src, constants.FileTypePDF, "Acme Ltd", t.TempDir(), nil)
	require.NoError(t, err)
	assert.Len(t, art.Pages, 1)
	assert.Contains(t, string(art.Context), `"page_number": 1`)
	assert.False(t, art.Result.Sentinel)
}
