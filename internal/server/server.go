// Package server exposes painting jobs over a small JSON API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/throw-if-null/easel/internal/api"
	"github.com/throw-if-null/easel/internal/job"
	"github.com/throw-if-null/easel/internal/midjourney"
	"github.com/throw-if-null/easel/internal/painting"
	"github.com/throw-if-null/easel/internal/paths"
	"github.com/throw-if-null/easel/internal/store"
)

type Store interface {
	GetJob(jobID string) (*api.Job, error)
	ListJobs(limit int) ([]*api.Job, error)
	FinishJob(jobID string, status api.JobStatus, imageURL, errMsg string) (bool, error)
}

// Jobs starts and cancels painting jobs.
type Jobs interface {
	StartImagine(ctx context.Context, userID, prompt string, bot api.BotType) (*job.Handle, error)
	StartAction(ctx context.Context, userID string, req api.ActionRequest) (*job.Handle, error)
	ResolveSource(ctx context.Context, userID, taskID string) (string, error)
}

type Canceler interface {
	Cancel(jobID string) bool
}

type Server struct {
	store  Store
	jobs   Jobs
	cancel Canceler
	log    logrus.FieldLogger
}

func New(s Store, jobs Jobs, cancel Canceler, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{store: s, jobs: jobs, cancel: cancel, log: log}
}

func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	v1 := r.Group("/v1")
	v1.POST("/imagine", s.handleImagine)
	v1.POST("/actions", s.handleAction)
	v1.GET("/jobs", s.handleListJobs)
	v1.GET("/jobs/:job_id", s.handleGetJob)
	v1.POST("/jobs/:job_id/cancel", s.handleCancelJob)
	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Debug("http request")
	}
}

func abort(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

func (s *Server) handleImagine(c *gin.Context) {
	var req api.ImagineJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Prompt) == "" {
		abort(c, http.StatusBadRequest, "user_id and prompt are required")
		return
	}
	bot := api.BotType(strings.ToUpper(req.Bot))
	switch bot {
	case "":
		bot = api.BotMidjourney
	case api.BotMidjourney, api.BotNiji:
	default:
		abort(c, http.StatusBadRequest, "bot must be MID_JOURNEY or NIJI_JOURNEY")
		return
	}

	h, err := s.jobs.StartImagine(c.Request.Context(), req.UserID, strings.TrimSpace(req.Prompt), bot)
	s.accepted(c, h, err)
}

func (s *Server) handleAction(c *gin.Context) {
	var req api.ActionJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		abort(c, http.StatusBadRequest, "user_id is required")
		return
	}
	kind, ok := midjourney.ParseAction(req.Action)
	if !ok {
		abort(c, http.StatusBadRequest, "action must be UPSCALE, VARIATION or REROLL")
		return
	}
	ar := api.ActionRequest{Action: kind}
	if kind != api.ActionReroll || req.Position != "" {
		pos, err := midjourney.ParsePosition(req.Position)
		if err != nil {
			abort(c, http.StatusBadRequest, "position must be 1-4")
			return
		}
		ar.Position = pos
	}

	ctx := c.Request.Context()
	src, err := s.jobs.ResolveSource(ctx, req.UserID, req.TaskID)
	if errors.Is(err, painting.ErrNoLastTask) {
		abort(c, http.StatusNotFound, "no task_id given and no recent task for user")
		return
	}
	if errors.Is(err, paths.ErrInvalidID) {
		abort(c, http.StatusBadRequest, "invalid task_id")
		return
	}
	if err != nil {
		s.log.WithError(err).Error("resolve source task")
		abort(c, http.StatusInternalServerError, "failed to read last task")
		return
	}
	ar.SourceTaskID = src

	h, err := s.jobs.StartAction(ctx, req.UserID, ar)
	s.accepted(c, h, err)
}

// accepted answers 202 with the freshly created job record.
func (s *Server) accepted(c *gin.Context, h *job.Handle, err error) {
	if errors.Is(err, midjourney.ErrConfigMissing) {
		abort(c, http.StatusServiceUnavailable, "midjourney is not configured")
		return
	}
	if err != nil {
		s.log.WithError(err).Error("start job")
		abort(c, http.StatusInternalServerError, "failed to start job")
		return
	}
	j, err := s.store.GetJob(h.ID)
	if err != nil {
		s.log.WithError(err).WithField("job_id", h.ID).Error("read new job")
		abort(c, http.StatusInternalServerError, "failed to read job")
		return
	}
	c.JSON(http.StatusAccepted, j)
}

func (s *Server) handleListJobs(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			abort(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	jobs, err := s.store.ListJobs(limit)
	if err != nil {
		abort(c, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*api.Job{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (s *Server) handleGetJob(c *gin.Context) {
	id := c.Param("job_id")
	if err := paths.ValidateID(id); err != nil {
		abort(c, http.StatusBadRequest, "invalid job_id")
		return
	}
	j, err := s.store.GetJob(id)
	if errors.Is(err, store.ErrNotFound) {
		abort(c, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		abort(c, http.StatusInternalServerError, "failed to read job")
		return
	}
	c.JSON(http.StatusOK, j)
}

// handleCancelJob abandons a running job. Backend-side Midjourney tasks
// keep running; only the local job stops waiting for them.
func (s *Server) handleCancelJob(c *gin.Context) {
	id := c.Param("job_id")
	if err := paths.ValidateID(id); err != nil {
		abort(c, http.StatusBadRequest, "invalid job_id")
		return
	}
	j, err := s.store.GetJob(id)
	if errors.Is(err, store.ErrNotFound) {
		abort(c, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		abort(c, http.StatusInternalServerError, "failed to read job")
		return
	}
	if j.Status.Terminal() {
		c.String(http.StatusOK, "no-op")
		return
	}
	if s.cancel.Cancel(id) {
		c.String(http.StatusOK, "cancelled")
		return
	}
	// running in the store but not in this process
	changed, err := s.store.FinishJob(id, api.JobAbandoned, "", "cancelled")
	if err != nil {
		abort(c, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	if changed {
		c.String(http.StatusOK, "cancelled")
		return
	}
	c.String(http.StatusOK, "no-op")
}
