package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/apierror"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/infra"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/middleware"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/service"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/worker"
)

type PrintQueueHandler struct {
	svc       service.PrintQueueService
	rdb       *redis.Client
	printerCB *infra.CircuitBreaker
}

func NewPrintQueueHandler(svc service.PrintQueueService, rdb *redis.Client, printerCB *infra.CircuitBreaker) *PrintQueueHandler {
	return &PrintQueueHandler{svc: svc, rdb: rdb, printerCB: printerCB}
}

type listFailedQuery struct {
	Limit int `form:"limit" validate:"omitempty,min=1,max=500"`
}

// Stats handles GET /v1/print-queue/stats.
func (h *PrintQueueHandler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if h.rdb != nil {
		n, err := worker.DLQLength(c.Request.Context(), h.rdb)
		if err != nil {
			log.Warn().Err(err).Msg("print-queue stats: DLQ length unavailable")
		}
		stats.DLQLength = n
	}
	if h.printerCB != nil {
		stats.Breaker = h.printerCB.State().String()
	}
	c.JSON(http.StatusOK, stats)
}

// ListFailed handles GET /v1/print-queue/failed?limit=N.
func (h *PrintQueueHandler) ListFailed(c *gin.Context) {
	var q listFailedQuery
	if !bindQuery(c, &q) {
		return
	}
	entries, err := h.svc.ListFailed(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// Requeue handles POST /v1/print-queue/:id/requeue.
func (h *PrintQueueHandler) Requeue(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		middleware.Abort(c, apierror.New(apierror.CodeBadRequest, "invalid entry id"))
		return
	}
	if err := h.svc.Requeue(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	entry, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	log.Info().Int64("entry_id", id).Str("request_id", c.GetString(middleware.RequestIDKey)).Msg("print entry requeued by operator")
	c.JSON(http.StatusOK, gin.H{"id": entry.ID, "status": entry.Status, "attempts": entry.Attempts})
}
