package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gradeflow-api/internal/dto"
	"github.com/noah-isme/gradeflow-api/internal/repository"
	"github.com/noah-isme/gradeflow-api/internal/service"
	"github.com/noah-isme/gradeflow-api/internal/utils"
)

// JobHandler wires grading job HTTP routes.
type JobHandler struct {
	service   service.JobService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewJobHandler constructs the handler.
func NewJobHandler(service service.JobService, validator *validator.Validate, logger zerolog.Logger) *JobHandler {
	return &JobHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "job_handler").Logger(),
	}
}

// Register attaches job endpoints.
func (h *JobHandler) Register(jobs fiber.Router, assignments fiber.Router, submissions fiber.Router) {
	jobs.Post("", h.create)
	jobs.Get("/:id", h.get)
	jobs.Post("/:id/retry", h.retry)
	jobs.Post("/:id/cancel", h.cancel)

	assignments.Get("/:id/jobs", h.listByAssignment)
	submissions.Get("/:id/jobs", h.listBySubmission)
}

func (h *JobHandler) create(c *fiber.Ctx) error {
	var req dto.JobCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendValidationError(c, validationMessages(err))
	}

	job, err := h.service.Create(c.Context(), req.SubmissionID, req.Provider, req.Model)
	if err != nil {
		return h.mapError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "grading job enqueued", dto.NewJobResponse(job))
}

func (h *JobHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	job, err := h.service.Get(c.Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}

	return utils.SendSuccess(c, "grading job retrieved", dto.NewJobResponse(job))
}

func (h *JobHandler) retry(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	job, err := h.service.Retry(c.Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "grading job retried", dto.NewJobResponse(job))
}

func (h *JobHandler) cancel(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	job, err := h.service.Cancel(c.Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}

	return utils.SendSuccess(c, "grading job cancelled", dto.NewJobResponse(job))
}

func (h *JobHandler) listByAssignment(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	jobs, err := h.service.ListByAssignment(c.Context(), assignmentID)
	if err != nil {
		return h.internalError(c, err)
	}

	return utils.SendSuccess(c, "grading jobs retrieved", dto.NewJobResponseSlice(jobs))
}

func (h *JobHandler) listBySubmission(c *fiber.Ctx) error {
	submissionID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	jobs, err := h.service.ListBySubmission(c.Context(), submissionID)
	if err != nil {
		return h.internalError(c, err)
	}

	return utils.SendSuccess(c, "grading jobs retrieved", dto.NewJobResponseSlice(jobs))
}

func (h *JobHandler) mapError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "not found")
	case errors.Is(err, service.ErrNoActiveGuide),
		errors.Is(err, service.ErrInvalidModel):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrActiveJobExists),
		errors.Is(err, service.ErrJobNotRetryable),
		errors.Is(err, service.ErrJobNotCancellable):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	default:
		return h.internalError(c, err)
	}
}

func (h *JobHandler) internalError(c *fiber.Ctx, err error) error {
	h.logger.Error().Err(err).Str("path", c.Path()).Msg("job request failed")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
