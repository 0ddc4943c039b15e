package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yourorg/market-ingest/internal/config"
	"github.com/yourorg/market-ingest/internal/model"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DatabentoAPIBaseURL = "https://hist.databento.com/v0"
	defaultTimeout      = 60 * time.Second
)

// APIError is a non-2xx answer from the provider
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("databento API returned status code %d: %s", e.StatusCode, e.Detail)
}

// DatabentoClient handles communication with the Databento historical API
type DatabentoClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewDatabentoClient creates a new Databento API client
func NewDatabentoClient(cfg config.DatabentoConfig, logger *zap.Logger) *DatabentoClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DatabentoAPIBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &DatabentoClient{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// SubmitJob submits a batch extraction job
func (c *DatabentoClient) SubmitJob(ctx context.Context, request model.BatchJobRequest) (*model.BatchJob, error) {
	form := url.Values{}
	form.Set("dataset", request.Dataset)
	form.Set("symbols", request.Symbols)
	form.Set("schema", request.Schema)
	form.Set("stype_in", request.StypeIn)
	form.Set("split_duration", request.SplitDuration)
	form.Set("start", request.Start.UTC().Format(time.RFC3339))
	form.Set("end", request.End.UTC().Format(time.RFC3339))
	form.Set("encoding", "dbn")
	form.Set("compression", "zstd")

	reqURL := fmt.Sprintf("%s/batch.submit_job", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var job model.BatchJob
	if err := c.doJSON(req, &job); err != nil {
		c.logger.Error("Failed to submit batch job",
			zap.Error(err),
			zap.String("dataset", request.Dataset),
			zap.String("symbols", request.Symbols))
		return nil, err
	}

	c.logger.Info("Submitted batch job",
		zap.String("job_id", job.ID),
		zap.String("state", job.State),
		zap.String("symbols", request.Symbols),
		zap.String("schema", request.Schema))

	return &job, nil
}

// ListJobs lists batch jobs, optionally restricted to the given states
func (c *DatabentoClient) ListJobs(ctx context.Context, states ...string) ([]model.BatchJob, error) {
	reqURL := fmt.Sprintf("%s/batch.list_jobs", c.baseURL)
	if len(states) > 0 {
		params := url.Values{}
		params.Set("states", strings.Join(states, ","))
		reqURL = reqURL + "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var jobs []model.BatchJob
	if err := c.doJSON(req, &jobs); err != nil {
		c.logger.Error("Failed to list batch jobs", zap.Error(err), zap.Strings("states", states))
		return nil, err
	}

	return jobs, nil
}

// ListFiles lists the output files of a job
func (c *DatabentoClient) ListFiles(ctx context.Context, jobID string) ([]model.BatchFile, error) {
	params := url.Values{}
	params.Set("job_id", jobID)
	reqURL := fmt.Sprintf("%s/batch.list_files?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var raw []struct {
		Filename string            `json:"filename"`
		Size     int64             `json:"size"`
		Hash     string            `json:"hash"`
		URLs     map[string]string `json:"urls"`
	}
	if err := c.doJSON(req, &raw); err != nil {
		c.logger.Error("Failed to list batch files", zap.Error(err), zap.String("job_id", jobID))
		return nil, err
	}

	files := make([]model.BatchFile, 0, len(raw))
	for _, f := range raw {
		files = append(files, model.BatchFile{
			Filename: f.Filename,
			Size:     f.Size,
			Hash:     f.Hash,
			URL:      f.URLs["https"],
		})
	}
	return files, nil
}

// Download fetches every output file of a job into outputDir and returns the written paths.
// Files land directly in outputDir; a file is only visible once fully written.
func (c *DatabentoClient) Download(ctx context.Context, jobID, outputDir string) ([]string, error) {
	files, err := c.ListFiles(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		if f.URL == "" {
			c.logger.Warn("Skipping batch file without https url",
				zap.String("job_id", jobID),
				zap.String("file", f.Filename))
			continue
		}

		path := filepath.Join(outputDir, filepath.Base(f.Filename))
		if err := c.downloadFile(ctx, f, path); err != nil {
			c.logger.Error("Failed to download batch file",
				zap.Error(err),
				zap.String("job_id", jobID),
				zap.String("file", f.Filename))
			return paths, err
		}
		paths = append(paths, path)
	}

	c.logger.Info("Downloaded batch job",
		zap.String("job_id", jobID),
		zap.Int("files", len(paths)),
		zap.String("output_dir", outputDir))

	return paths, nil
}

func (c *DatabentoClient) downloadFile(ctx context.Context, f model.BatchFile, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", f.Filename, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", f.Filename, err)
	}

	if want, ok := strings.CutPrefix(f.Hash, "sha256:"); ok {
		if got := hex.EncodeToString(hasher.Sum(nil)); !strings.EqualFold(got, want) {
			return fmt.Errorf("checksum mismatch for %s: got %s, want %s", f.Filename, got, want)
		}
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", f.Filename, err)
	}
	return nil
}

// doJSON executes the request and decodes a JSON body into out
func (c *DatabentoClient) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// do waits for the rate limiter, authenticates and checks the status code
func (c *DatabentoClient) do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.apiKey, "")

	c.logger.Debug("Calling Databento API", zap.String("method", req.Method), zap.String("url", req.URL.Redacted()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		detail := string(bodyBytes)
		var errorResp struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(bodyBytes, &errorResp) == nil && errorResp.Detail != "" {
			detail = errorResp.Detail
		}
		c.logger.Error("Databento API error response",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", detail))
		return nil, &APIError{StatusCode: resp.StatusCode, Detail: detail}
	}

	return resp, nil
}
