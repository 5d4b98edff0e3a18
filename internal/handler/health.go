package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/infra"
)

// Pinger is a dependency whose liveness is reported but never required.
type Pinger interface {
	Ping() error
}

// Health returns a JSON health check response.
// The database is required; Redis is optional and reported as "disabled"
// when the worker runs without it. An open printer breaker or a lost broker
// is reported but does not fail the probe: the queue keeps accepting work.
func Health(db *gorm.DB, rdb *redis.Client, printerCB *infra.CircuitBreaker, broker Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		dbStatus := "connected"
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(ctx) != nil {
			dbStatus = "error"
		}

		redisStatus := "disabled"
		if rdb != nil {
			redisStatus = "connected"
			if rdb.Ping(ctx).Err() != nil {
				redisStatus = "error"
			}
		}

		breaker := "none"
		if printerCB != nil {
			breaker = printerCB.State().String()
		}

		brokerStatus := "disabled"
		if broker != nil {
			brokerStatus = "connected"
			if broker.Ping() != nil {
				brokerStatus = "error"
			}
		}

		status := http.StatusOK
		if dbStatus != "connected" || redisStatus == "error" {
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, gin.H{
			"ok":      status == http.StatusOK,
			"db":      dbStatus,
			"redis":   redisStatus,
			"printer": breaker,
			"broker":  brokerStatus,
		})
	}
}
