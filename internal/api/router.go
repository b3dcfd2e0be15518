// Package api exposes the operator HTTP surface: recovery queries, manual
// triggers, backups and a live incident feed.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/terminal-bench/vitalguard/internal/orchestrator"
	"github.com/terminal-bench/vitalguard/internal/recovery"
	"github.com/terminal-bench/vitalguard/internal/store"
	"github.com/terminal-bench/vitalguard/pkg/incident"
)

// NewRouter builds the gin engine for the orchestrator API. brokerUp, when
// non-nil, reports message bus connectivity on the health endpoint.
func NewRouter(orch *orchestrator.Orchestrator, feed *Feed, jwtSecret string, brokerUp func() bool, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		resp := gin.H{"status": "healthy"}
		if brokerUp != nil {
			resp["broker_connected"] = brokerUp()
		}
		c.JSON(http.StatusOK, resp)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1", AuthRequired(jwtSecret))

	v1.GET("/recoveries/active", func(c *gin.Context) {
		events := orch.ActiveRecoveries()
		if events == nil {
			events = []*incident.DisasterEvent{}
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	})

	v1.GET("/recoveries/history", func(c *gin.Context) {
		days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
		if err != nil || days <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}

		events, err := orch.RecoveryHistory(c.Request.Context(), days)
		if err != nil {
			logger.Error("history query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query history"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events, "days": days})
	})

	v1.GET("/events/:id", func(c *gin.Context) {
		event, err := orch.GetEvent(c.Request.Context(), c.Param("id"))
		if errors.Is(err, store.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		if err != nil {
			logger.Error("event lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load event"})
			return
		}
		c.JSON(http.StatusOK, event)
	})

	v1.POST("/recoveries/:id/trigger", func(c *gin.Context) {
		// The chain is bound to the orchestrator lifetime, not the request:
		// a client disconnect must not abort recovery steps mid-flight.
		event, err := orch.TriggerManualRecovery(c.Param("id"))
		switch {
		case errors.Is(err, recovery.ErrUnknownEvent):
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		case errors.Is(err, recovery.ErrRecoveryInFlight):
			c.JSON(http.StatusConflict, gin.H{"error": "recovery already in flight"})
		case err != nil:
			logger.Error("manual recovery failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "manual recovery failed"})
		default:
			c.JSON(http.StatusOK, event)
		}
	})

	v1.POST("/backups", func(c *gin.Context) {
		operator := c.GetString("operator_id")
		backupID, err := orch.PerformManualBackup(c.Request.Context(), operator)
		if err != nil {
			logger.Error("manual backup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"backup_id": backupID})
	})

	v1.GET("/stream", feed.ServeWS)

	return r
}
