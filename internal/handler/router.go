package handler

import (
	"net/http"

	"github.com/yourorg/market-ingest/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter wires the control API. retrievalHandler may be nil when retrieval is disabled.
func SetupRouter(
	ingestHandler *IngestHandler,
	retrievalHandler *RetrievalHandler,
	serviceKey string,
	logger *zap.Logger,
) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	v1 := router.Group("/api/v1")
	v1.Use(middleware.ServiceAuthMiddleware(serviceKey, logger))
	{
		v1.POST("/ingest", ingestHandler.Ingest)
		if retrievalHandler != nil {
			v1.POST("/retrievals", retrievalHandler.CreateRetrieval)
		}
	}

	return router
}
