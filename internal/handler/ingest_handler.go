package handler

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/yourorg/market-ingest/internal/capture"
	"github.com/yourorg/market-ingest/internal/model"
	"github.com/yourorg/market-ingest/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Ingester loads capture files
type Ingester interface {
	IngestFile(ctx context.Context, path string) (int, error)
	IngestDir(ctx context.Context, dir string) (*model.IngestReport, error)
	IngestFiles(ctx context.Context, files []string) (*model.IngestReport, error)
}

// IngestHandler handles ingestion HTTP requests
type IngestHandler struct {
	ingester Ingester
	dataDir  string
	logger   *zap.Logger
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(ingester Ingester, dataDir string, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{
		ingester: ingester,
		dataDir:  dataDir,
		logger:   logger,
	}
}

// Ingest loads one file or every capture file of a directory
// POST /api/v1/ingest
func (h *IngestHandler) Ingest(c *gin.Context) {
	var request model.IngestRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx := c.Request.Context()

	if request.FileName != "" {
		path := request.FileName
		if !filepath.IsAbs(path) {
			path = filepath.Join(h.dataDir, path)
		}

		rows, err := h.ingester.IngestFile(ctx, path)
		if err != nil {
			h.logger.Error("Failed to ingest file", zap.Error(err), zap.String("file", path))
			utils.SendErrorResponse(c, statusForIngestError(err), err.Error())
			return
		}

		c.JSON(http.StatusOK, gin.H{"file": path, "rows": rows})
		return
	}

	dir := request.Directory
	if dir == "" {
		dir = h.dataDir
	}

	report, err := h.ingester.IngestDir(ctx, dir)
	if err != nil {
		h.logger.Error("Failed to ingest directory", zap.Error(err), zap.String("directory", dir))
		if report != nil {
			c.JSON(statusForIngestError(err), gin.H{"error": err.Error(), "report": report})
			return
		}
		utils.SendErrorResponse(c, statusForIngestError(err), err.Error())
		return
	}

	c.JSON(http.StatusOK, report)
}

func statusForIngestError(err error) int {
	var notFound *capture.NotFoundError
	var decodeErr *capture.DecodeError
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &decodeErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
