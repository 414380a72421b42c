package handler

import (
	"context"
	"errors"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/erp/posconnector/internal/infrastructure/scheduler"
	"github.com/erp/posconnector/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// JobRequeuer puts a finished job back in the queue
type JobRequeuer interface {
	Requeue(ctx context.Context, id uuid.UUID) (*connector.SyncJob, error)
}

// JobHandler handles the /jobs endpoints
type JobHandler struct {
	BaseHandler
	jobs  connector.JobRepository
	queue JobRequeuer
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(jobs connector.JobRepository, queue JobRequeuer) *JobHandler {
	return &JobHandler{jobs: jobs, queue: queue}
}

// List returns a page of jobs, newest first by default
func (h *JobHandler) List(c *gin.Context) {
	req := dto.JobListRequest{ListRequest: dto.DefaultListRequest()}
	if !h.BindQuery(c, &req) {
		return
	}
	filter := connector.JobFilter{
		Kind:     req.Kind,
		OrderBy:  req.OrderBy,
		OrderDir: req.OrderDir,
		Page:     req.Page,
		PageSize: req.PageSize,
	}
	if req.BackendID != "" {
		id := uuid.MustParse(req.BackendID)
		filter.BackendID = &id
	}
	if req.State != "" {
		state := connector.JobState(req.State)
		filter.State = &state
	}

	ctx := c.Request.Context()
	jobs, err := h.jobs.FindAll(ctx, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	total, err := h.jobs.Count(ctx, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]dto.JobResponse, len(jobs))
	for i := range jobs {
		out[i] = dto.NewJobResponse(&jobs[i])
	}
	h.SuccessWithMeta(c, out, total, req.Page, req.PageSize)
}

// Get returns one job
func (h *JobHandler) Get(c *gin.Context) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	job, err := h.jobs.FindByID(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewJobResponse(job))
}

// Requeue runs a done, failed or dead job again
func (h *JobHandler) Requeue(c *gin.Context) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	job, err := h.queue.Requeue(c.Request.Context(), id)
	if errors.Is(err, scheduler.ErrJobNotRequeueable) {
		h.Conflict(c, dto.ErrCodeInvalidState, err.Error())
		return
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, dto.NewJobResponse(job))
}
