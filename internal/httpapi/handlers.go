package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/IReaderorg/IReader-sub034/internal/task/batch"
	"github.com/IReaderorg/IReader-sub034/internal/task/progress"
)

// Controller is the part of the batch service exposed over HTTP.
type Controller interface {
	QueueChapters(ctx context.Context, req batch.Request) (batch.Result, error)
	Pause() error
	Resume() error
	CancelTranslation(chapterID int64) (bool, error)
	CancelAll(ctx context.Context) error
	RetryTranslation(ctx context.Context, chapterID int64) error
	ClearProgress() error
	Progress() progress.Snapshot
	WatchProgress(buffer int) (<-chan progress.Snapshot, func())
	Status() batch.Status
}

type progressResponse struct {
	Counts  map[progress.Status]int `json:"counts"`
	Records []progress.Record       `json:"records"`
}

func newProgressResponse(s progress.Snapshot) progressResponse {
	return progressResponse{Counts: s.Counts(), Records: s.Records()}
}

func errorStatus(err error) int {
	switch {
	case batch.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, batch.ErrNoProgress):
		return http.StatusNotFound
	case errors.Is(err, batch.ErrNotRetryable), errors.Is(err, batch.ErrBatchBusy), errors.Is(err, batch.ErrNotIdle):
		return http.StatusConflict
	case errors.Is(err, batch.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errorStatus(err), gin.H{"error": err.Error()})
}

func chapterParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid chapter id"})
		return 0, false
	}
	return id, true
}

func (s *Server) queueBatch(c *gin.Context) {
	var req batch.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.ctrl.QueueChapters(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	code := http.StatusAccepted
	if res.Outcome == batch.OutcomeWarning {
		// Nothing was queued; the caller must resubmit with bypass_warning.
		code = http.StatusOK
	}
	c.JSON(code, res)
}

func (s *Server) cancelAll(c *gin.Context) {
	if err := s.ctrl.CancelAll(c.Request.Context()); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) pause(c *gin.Context) {
	if err := s.ctrl.Pause(); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) resume(c *gin.Context) {
	if err := s.ctrl.Resume(); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) cancelChapter(c *gin.Context) {
	id, ok := chapterParam(c)
	if !ok {
		return
	}
	cancelled, err := s.ctrl.CancelTranslation(id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !cancelled {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "chapter is not queued"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) retryChapter(c *gin.Context) {
	id, ok := chapterParam(c)
	if !ok {
		return
	}
	if err := s.ctrl.RetryTranslation(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) status(c *gin.Context) { c.JSON(http.StatusOK, s.ctrl.Status()) }

func (s *Server) progress(c *gin.Context) {
	c.JSON(http.StatusOK, newProgressResponse(s.ctrl.Progress()))
}

func (s *Server) clearProgress(c *gin.Context) {
	if err := s.ctrl.ClearProgress(); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) healthz(c *gin.Context) {
	body := gin.H{"status": "ok", "state": s.ctrl.Status().State}
	if s.health != nil {
		body["supervisors"] = s.health()
	}
	c.JSON(http.StatusOK, body)
}
