// Package httpapi is a thin gin-gonic/gin surface over internal/engine: it
// marshals requests and responses and nothing else. No business logic —
// validation, state transitions, and retry semantics all live in engine.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"uploadengine/internal/engine"
	"uploadengine/internal/store"
)

// New builds a gin.Engine with the job-submission and read-only status
// routes wired to eng.
func New(eng *engine.Engine, logger *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	r.POST("/jobs", submitJob(eng))
	r.GET("/jobs", listJobs(eng))
	r.GET("/jobs/:id", getJob(eng))
	r.GET("/jobs/:id/files", listFiles(eng))
	r.POST("/jobs/:id/retry", retryJob(eng))

	return r
}

func requestLogger(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Infow("http request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status())
	}
}

type submitRequest struct {
	ID                string `json:"id"`
	SourceFolder      string `json:"source_folder" binding:"required"`
	DestinationBucket string `json:"destination_bucket" binding:"required"`
	Pattern           string `json:"pattern"`
}

func submitJob(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		job, err := eng.Submit(c.Request.Context(), req.ID, req.SourceFolder, req.DestinationBucket, req.Pattern)
		if err != nil {
			if errors.Is(err, store.ErrJobExists) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, job)
	}
}

func listJobs(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobs, err := eng.ListJobs()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, jobs)
	}
}

func getJob(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := eng.GetJob(c.Param("id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func listFiles(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		files, err := eng.ListFiles(c.Param("id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, files)
	}
}

func retryJob(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := eng.RetryJob(c.Request.Context(), c.Param("id")); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusAccepted)
	}
}
