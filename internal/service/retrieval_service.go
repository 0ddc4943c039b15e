package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yourorg/market-ingest/internal/capture"
	"github.com/yourorg/market-ingest/internal/config"
	"github.com/yourorg/market-ingest/internal/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// BatchProvider is the remote historical data provider
type BatchProvider interface {
	SubmitJob(ctx context.Context, request model.BatchJobRequest) (*model.BatchJob, error)
	ListJobs(ctx context.Context, states ...string) ([]model.BatchJob, error)
	Download(ctx context.Context, jobID, outputDir string) ([]string, error)
}

var timeframeSchemas = map[string]string{
	"1s": "ohlcv-1s",
	"1m": "ohlcv-1m",
	"1h": "ohlcv-1h",
	"1d": "ohlcv-1d",
}

// SchemaForTimeframe returns the provider schema whose bars match the timeframe label
func SchemaForTimeframe(timeframe string) (string, error) {
	schema, ok := timeframeSchemas[timeframe]
	if !ok {
		return "", fmt.Errorf("no OHLCV schema for timeframe %q", timeframe)
	}
	return schema, nil
}

var errJobPending = errors.New("batch job not done yet")

// RetrievalService runs the submit, poll and download workflow against the provider
type RetrievalService struct {
	provider  BatchProvider
	cfg       config.RetrievalConfig
	timeframe string
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewRetrievalService creates a new retrieval service
func NewRetrievalService(
	provider BatchProvider,
	cfg config.RetrievalConfig,
	timeframe string,
	logger *zap.Logger,
) *RetrievalService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxPollInterval < cfg.PollInterval {
		cfg.MaxPollInterval = cfg.PollInterval
	}

	return &RetrievalService{
		provider:  provider,
		cfg:       cfg,
		timeframe: timeframe,
		validate:  validator.New(),
		logger:    logger,
	}
}

// RequestForSymbol builds the continuous front-month request for a root symbol
func (s *RetrievalService) RequestForSymbol(symbol string, start, end time.Time) (model.BatchJobRequest, error) {
	schema, err := SchemaForTimeframe(s.timeframe)
	if err != nil {
		return model.BatchJobRequest{}, err
	}

	return model.BatchJobRequest{
		Dataset:       s.cfg.Dataset,
		Symbols:       fmt.Sprintf("%s.v.0", RootSymbol(symbol)),
		Schema:        schema,
		StypeIn:       s.cfg.StypeIn,
		SplitDuration: s.cfg.SplitDuration,
		Start:         start.UTC(),
		End:           end.UTC(),
	}, nil
}

// Submit submits the job. Identical requests are not deduplicated.
func (s *RetrievalService) Submit(ctx context.Context, request model.BatchJobRequest) (*model.BatchJob, error) {
	if err := s.validate.Struct(request); err != nil {
		return nil, fmt.Errorf("invalid batch job request: %w", err)
	}

	job, err := s.provider.SubmitJob(ctx, request)
	if err != nil {
		return nil, &RemoteJobError{Op: "submit", Err: err}
	}
	if job == nil || job.ID == "" {
		return nil, &RemoteJobError{Op: "submit", Err: errors.New("provider returned no job id")}
	}

	return job, nil
}

// Await polls the provider until the job is listed as done. The first check is immediate,
// then waits grow from PollInterval up to MaxPollInterval. A positive MaxWait gets one last
// check at the limit before JobTimeoutError; zero never gives up.
func (s *RetrievalService) Await(ctx context.Context, jobID string) (*model.BatchJob, error) {
	started := time.Now()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.PollInterval
	b.MaxInterval = s.cfg.MaxPollInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	var policy backoff.BackOff = b
	if s.cfg.MaxWait > 0 {
		policy = &deadlineBackOff{BackOff: b, deadline: started.Add(s.cfg.MaxWait)}
	}

	polls := 0
	var done *model.BatchJob

	check := func() error {
		polls++
		jobs, err := s.provider.ListJobs(ctx, model.JobStateDone, model.JobStateExpired)
		if err != nil {
			return backoff.Permanent(&RemoteJobError{Op: "list jobs", JobID: jobID, Err: err})
		}

		for i := range jobs {
			if jobs[i].ID != jobID {
				continue
			}
			switch jobs[i].State {
			case model.JobStateExpired:
				return backoff.Permanent(&JobFailedError{JobID: jobID, State: jobs[i].State})
			case model.JobStateDone, "":
				done = &jobs[i]
				return nil
			}
		}
		return errJobPending
	}

	notify := func(err error, wait time.Duration) {
		s.logger.Debug("Batch job not done, waiting",
			zap.String("job_id", jobID),
			zap.Int("polls", polls),
			zap.Duration("wait", wait))
	}

	err := backoff.RetryNotify(check, backoff.WithContext(policy, ctx), notify)
	if err != nil {
		if errors.Is(err, errJobPending) {
			return nil, &JobTimeoutError{JobID: jobID, Waited: time.Since(started)}
		}
		return nil, err
	}

	s.logger.Info("Batch job done",
		zap.String("job_id", jobID),
		zap.Int("polls", polls),
		zap.Duration("waited", time.Since(started)))

	return done, nil
}

// deadlineBackOff shortens the last wait so one more check lands on the deadline,
// then stops
type deadlineBackOff struct {
	backoff.BackOff
	deadline time.Time
}

func (d *deadlineBackOff) NextBackOff() time.Duration {
	remaining := time.Until(d.deadline)
	if remaining <= 0 {
		return backoff.Stop
	}
	next := d.BackOff.NextBackOff()
	if next == backoff.Stop || next > remaining {
		return remaining
	}
	return next
}

// Retrieve submits the request, waits for it and downloads its files into outputDir once
func (s *RetrievalService) Retrieve(ctx context.Context, request model.BatchJobRequest, outputDir string) ([]string, error) {
	job, err := s.Submit(ctx, request)
	if err != nil {
		return nil, err
	}

	return s.Complete(ctx, job.ID, outputDir)
}

// Complete waits for an already submitted job and downloads its files into outputDir
func (s *RetrievalService) Complete(ctx context.Context, jobID, outputDir string) ([]string, error) {
	if _, err := s.Await(ctx, jobID); err != nil {
		return nil, err
	}

	paths, err := s.provider.Download(ctx, jobID, outputDir)
	if err != nil {
		return nil, &RemoteJobError{Op: "download", JobID: jobID, Err: err}
	}

	return paths, nil
}

// EnsureFiles returns the capture files in dir, retrieving them first when there are none
func (s *RetrievalService) EnsureFiles(ctx context.Context, dir string, request model.BatchJobRequest) ([]string, error) {
	files, err := capture.ListFiles(dir)
	var notFound *capture.NotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return nil, err
	}
	if len(files) > 0 {
		return files, nil
	}

	s.logger.Info("No capture files found, retrieving from provider",
		zap.String("dir", dir),
		zap.String("symbols", request.Symbols),
		zap.Time("start", request.Start),
		zap.Time("end", request.End))

	if _, err := s.Retrieve(ctx, request, dir); err != nil {
		return nil, err
	}

	return capture.ListFiles(dir)
}
