package router

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/config"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/handler"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/infra"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/middleware"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/service"
)

// New returns the ops engine of the print worker: health and queue
// inspection. rdb, printerCB and broker may be nil.
func New(
	cfg *config.Config,
	db *gorm.DB,
	rdb *redis.Client,
	queue service.PrintQueueService,
	printerCB *infra.CircuitBreaker,
	broker handler.Pinger,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.ErrorHandler())

	printQueueH := handler.NewPrintQueueHandler(queue, rdb, printerCB)

	r.GET("/health", handler.Health(db, rdb, printerCB, broker))

	pq := r.Group("/v1/print-queue")
	{
		pq.GET("/stats", printQueueH.Stats)
		pq.GET("/failed", printQueueH.ListFailed)
		pq.POST("/:id/requeue", printQueueH.Requeue)
	}

	return r
}
