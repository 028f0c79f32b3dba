package job

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/backfill/common"
	"github.com/joshu-sajeev/backfill/internal/dto"
	"github.com/joshu-sajeev/backfill/middleware"
	"github.com/rs/zerolog/log"
)

type JobHandler struct {
	service    JobServiceInterface
	dispatcher DispatchRunner
	watchdog   WatchdogRunner
}

func NewJobHandler(s JobServiceInterface, d DispatchRunner, w WatchdogRunner) *JobHandler {
	return &JobHandler{service: s, dispatcher: d, watchdog: w}
}

var _ JobHandlerInterface = (*JobHandler)(nil)

// Create plans a new backfill job and returns it with HTTP 201.
func (h *JobHandler) Create(c *gin.Context) {
	var req dto.JobCreateDTO

	if !middleware.Bind(c, &req) {
		c.Abort()
		return
	}

	resp, err := h.service.CreateJob(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// Get returns a job and its chunks.
func (h *JobHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	resp, err := h.service.GetJobByID(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// List returns jobs, filtered by the organization_id query parameter when
// present.
func (h *JobHandler) List(c *gin.Context) {
	jobs, err := h.service.ListJobs(c.Request.Context(), c.Query("organization_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, jobs)
}

func (h *JobHandler) Cancel(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	resp, err := h.service.CancelJob(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Dispatch runs one dispatcher invocation. The body is optional.
func (h *JobHandler) Dispatch(c *gin.Context) {
	var req dto.DispatchRequest
	if c.Request.ContentLength > 0 {
		if !middleware.Bind(c, &req) {
			c.Abort()
			return
		}
	}

	report, err := h.dispatcher.Run(c.Request.Context(), req)
	if err != nil {
		log.Error().Err(err).Str("invocation_id", report.InvocationID).Msg("Dispatch failed")
		c.Error(common.Errf(http.StatusInternalServerError, "dispatch failed"))
		return
	}

	c.JSON(http.StatusOK, report)
}

// Watchdog runs one recovery pass. Partial failures are reported with the
// counts of what was repaired.
func (h *JobHandler) Watchdog(c *gin.Context) {
	report, err := h.watchdog.Run(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Str("invocation_id", report.InvocationID).Msg("Watchdog failed")
		c.Error(common.NewAPIError(http.StatusInternalServerError, "watchdog failed", map[string]any{
			"report": report,
		}))
		return
	}

	c.JSON(http.StatusOK, report)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 0)
	if err != nil || id < 1 {
		c.Error(common.Errf(http.StatusBadRequest, "invalid ID"))
		return 0, false
	}
	return uint(id), true
}
