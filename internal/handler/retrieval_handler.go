package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/yourorg/market-ingest/internal/model"
	"github.com/yourorg/market-ingest/internal/service"
	"github.com/yourorg/market-ingest/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Retrieval submits and completes provider batch jobs
type Retrieval interface {
	RequestForSymbol(symbol string, start, end time.Time) (model.BatchJobRequest, error)
	Submit(ctx context.Context, request model.BatchJobRequest) (*model.BatchJob, error)
	Complete(ctx context.Context, jobID, outputDir string) ([]string, error)
}

// RetrievalHandler handles historical retrieval HTTP requests
type RetrievalHandler struct {
	retrieval Retrieval
	ingester  Ingester
	dataDir   string
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewRetrievalHandler creates a new retrieval handler
func NewRetrievalHandler(retrieval Retrieval, ingester Ingester, dataDir string, logger *zap.Logger) *RetrievalHandler {
	return &RetrievalHandler{
		retrieval: retrieval,
		ingester:  ingester,
		dataDir:   dataDir,
		logger:    logger,
	}
}

// CreateRetrieval submits a batch job and completes it in the background
// POST /api/v1/retrievals
func (h *RetrievalHandler) CreateRetrieval(c *gin.Context) {
	var request model.RetrievalRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if !request.End.After(request.Start) {
		utils.SendErrorResponse(c, http.StatusBadRequest, "end must be after start")
		return
	}

	jobRequest, err := h.retrieval.RequestForSymbol(request.Symbol, request.Start, request.End)
	if err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.retrieval.Submit(c.Request.Context(), jobRequest)
	if err != nil {
		h.logger.Error("Failed to submit retrieval", zap.Error(err), zap.String("symbol", request.Symbol))
		var remote *service.RemoteJobError
		if errors.As(err, &remote) {
			utils.SendErrorResponse(c, http.StatusBadGateway, err.Error())
			return
		}
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	h.wg.Add(1)
	go h.complete(job.ID, request.Symbol)

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":  job.ID,
		"state":   job.State,
		"symbols": jobRequest.Symbols,
		"schema":  jobRequest.Schema,
	})
}

// complete outlives the request, so it runs on its own context
func (h *RetrievalHandler) complete(jobID, symbol string) {
	defer h.wg.Done()
	ctx := context.Background()

	paths, err := h.retrieval.Complete(ctx, jobID, h.dataDir)
	if err != nil {
		h.logger.Error("Retrieval failed", zap.Error(err), zap.String("job_id", jobID), zap.String("symbol", symbol))
		return
	}

	report, err := h.ingester.IngestFiles(ctx, paths)
	if err != nil {
		h.logger.Error("Failed to ingest retrieved files", zap.Error(err), zap.String("job_id", jobID))
		return
	}

	h.logger.Info("Retrieval ingested",
		zap.String("job_id", jobID),
		zap.String("symbol", symbol),
		zap.Int("files", len(paths)),
		zap.Int("rows", report.TotalRows))
}

// Wait blocks until background retrievals have finished
func (h *RetrievalHandler) Wait() {
	h.wg.Wait()
}
