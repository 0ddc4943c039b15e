package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yourorg/market-ingest/internal/capture"
	"github.com/yourorg/market-ingest/internal/model"
	"github.com/yourorg/market-ingest/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKey = "svc-key"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeIngester struct {
	mu      sync.Mutex
	files   []string
	dirs    []string
	batches [][]string
	err     error
}

func (f *fakeIngester) IngestFile(_ context.Context, path string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, path)
	if f.err != nil {
		return 0, f.err
	}
	return 1440, nil
}

func (f *fakeIngester) IngestDir(_ context.Context, dir string) (*model.IngestReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs = append(f.dirs, dir)
	if f.err != nil {
		return nil, f.err
	}
	return &model.IngestReport{RunID: "run-1", TotalRows: 2880, Files: []model.FileResult{{Path: dir + "/a.dbn.zst", Rows: 2880}}}, nil
}

func (f *fakeIngester) IngestFiles(_ context.Context, files []string) (*model.IngestReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, files)
	return &model.IngestReport{TotalRows: len(files)}, nil
}

type fakeRetrieval struct {
	mu        sync.Mutex
	submitErr error
	submitted []model.BatchJobRequest
	completed []string
}

func (r *fakeRetrieval) RequestForSymbol(symbol string, start, end time.Time) (model.BatchJobRequest, error) {
	return model.BatchJobRequest{Symbols: symbol + ".v.0", Schema: "ohlcv-1m", Start: start, End: end}, nil
}

func (r *fakeRetrieval) Submit(_ context.Context, req model.BatchJobRequest) (*model.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitErr != nil {
		return nil, r.submitErr
	}
	r.submitted = append(r.submitted, req)
	return &model.BatchJob{ID: "job-7", State: model.JobStateReceived}, nil
}

func (r *fakeRetrieval) Complete(_ context.Context, jobID, outputDir string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, jobID)
	return []string{filepath.Join(outputDir, "x.dbn.zst")}, nil
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Key", testKey)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router := SetupRouter(NewIngestHandler(&fakeIngester{}, "/data", zap.NewNop()), nil, testKey, zap.NewNop())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestIngestRequiresServiceKey(t *testing.T) {
	router := SetupRouter(NewIngestHandler(&fakeIngester{}, "/data", zap.NewNop()), nil, testKey, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIngestFile(t *testing.T) {
	ing := &fakeIngester{}
	router := SetupRouter(NewIngestHandler(ing, "/data", zap.NewNop()), nil, testKey, zap.NewNop())

	w := doJSON(t, router, http.MethodPost, "/api/v1/ingest", model.IngestRequest{FileName: "a.dbn.zst"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		File string `json:"file"`
		Rows int    `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, filepath.Join("/data", "a.dbn.zst"), resp.File)
	assert.Equal(t, 1440, resp.Rows)
}

func TestIngestDirectoryDefaultsToDataDir(t *testing.T) {
	ing := &fakeIngester{}
	router := SetupRouter(NewIngestHandler(ing, "/data", zap.NewNop()), nil, testKey, zap.NewNop())

	w := doJSON(t, router, http.MethodPost, "/api/v1/ingest", map[string]string{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"/data"}, ing.dirs)

	var report model.IngestReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 2880, report.TotalRows)
}

func TestIngestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&capture.NotFoundError{Path: "/nope"}, http.StatusNotFound},
		{&capture.DecodeError{Path: "a", Err: errors.New("bad header")}, http.StatusUnprocessableEntity},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		ing := &fakeIngester{err: tt.err}
		router := SetupRouter(NewIngestHandler(ing, "/data", zap.NewNop()), nil, testKey, zap.NewNop())

		w := doJSON(t, router, http.MethodPost, "/api/v1/ingest", model.IngestRequest{Directory: "/nope"})
		assert.Equal(t, tt.want, w.Code, tt.err.Error())
	}
}

func TestCreateRetrieval(t *testing.T) {
	ing := &fakeIngester{}
	ret := &fakeRetrieval{}
	rh := NewRetrievalHandler(ret, ing, "/data", zap.NewNop())
	router := SetupRouter(NewIngestHandler(ing, "/data", zap.NewNop()), rh, testKey, zap.NewNop())

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w := doJSON(t, router, http.MethodPost, "/api/v1/retrievals", model.RetrievalRequest{
		Symbol: "NQ",
		Start:  start,
		End:    start.AddDate(0, 1, 0),
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "job-7", resp["job_id"])
	assert.Equal(t, "NQ.v.0", resp["symbols"])

	rh.Wait()
	assert.Equal(t, []string{"job-7"}, ret.completed)
	assert.Equal(t, [][]string{{filepath.Join("/data", "x.dbn.zst")}}, ing.batches)
}

func TestCreateRetrievalValidation(t *testing.T) {
	ret := &fakeRetrieval{}
	rh := NewRetrievalHandler(ret, &fakeIngester{}, "/data", zap.NewNop())
	router := SetupRouter(NewIngestHandler(&fakeIngester{}, "/data", zap.NewNop()), rh, testKey, zap.NewNop())

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	w := doJSON(t, router, http.MethodPost, "/api/v1/retrievals", map[string]string{"symbol": "NQ"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/retrievals", model.RetrievalRequest{Symbol: "NQ", Start: start, End: start})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, ret.submitted)
}

func TestCreateRetrievalProviderError(t *testing.T) {
	ret := &fakeRetrieval{submitErr: &service.RemoteJobError{Op: "submit", Err: errors.New("402 payment required")}}
	rh := NewRetrievalHandler(ret, &fakeIngester{}, "/data", zap.NewNop())
	router := SetupRouter(NewIngestHandler(&fakeIngester{}, "/data", zap.NewNop()), rh, testKey, zap.NewNop())

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w := doJSON(t, router, http.MethodPost, "/api/v1/retrievals", model.RetrievalRequest{Symbol: "NQ", Start: start, End: start.AddDate(0, 0, 1)})
	assert.Equal(t, http.StatusBadGateway, w.Code)

	rh.Wait()
	assert.Empty(t, ret.completed)
}

func TestRetrievalsRouteAbsentWhenDisabled(t *testing.T) {
	router := SetupRouter(NewIngestHandler(&fakeIngester{}, "/data", zap.NewNop()), nil, testKey, zap.NewNop())

	w := doJSON(t, router, http.MethodPost, "/api/v1/retrievals", map[string]string{})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
