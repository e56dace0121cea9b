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

// GuideHandler wires guide version HTTP routes.
type GuideHandler struct {
	service   service.GuideService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewGuideHandler constructs the handler.
func NewGuideHandler(service service.GuideService, validator *validator.Validate, logger zerolog.Logger) *GuideHandler {
	return &GuideHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "guide_handler").Logger(),
	}
}

// Register attaches guide endpoints under an assignment-scoped group plus
// version-scoped lifecycle routes.
func (h *GuideHandler) Register(assignments fiber.Router, guides fiber.Router) {
	assignments.Get("/:id/guides", h.listByAssignment)
	assignments.Post("/:id/guides", h.createDraft)
	assignments.Post("/:id/guides/generate", h.generate)

	guides.Get("/:id", h.get)
	guides.Put("/:id", h.updateDraft)
	guides.Post("/:id/approve", h.approve)
	guides.Post("/:id/activate", h.activate)
}

func (h *GuideHandler) listByAssignment(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	guides, err := h.service.ListByAssignment(c.Context(), assignmentID)
	if err != nil {
		return h.internalError(c, err)
	}

	return utils.SendSuccess(c, "guide versions retrieved", dto.NewGuideResponseSlice(guides))
}

func (h *GuideHandler) createDraft(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var req dto.GuideDraftRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendValidationError(c, validationMessages(err))
	}

	guide, err := h.service.CreateDraft(c.Context(), assignmentID, req.Rubric, req.ReferenceSolution)
	if err != nil {
		return h.mapError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "guide draft created", dto.NewGuideResponse(guide))
}

func (h *GuideHandler) generate(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var req dto.GuideGenerateRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	guide, err := h.service.Generate(c.Context(), assignmentID, req.Provider, req.Model)
	if err != nil {
		return h.mapError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "guide draft generation enqueued", dto.NewGuideResponse(guide))
}

func (h *GuideHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	guide, err := h.service.Get(c.Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}

	return utils.SendSuccess(c, "guide version retrieved", dto.NewGuideResponse(guide))
}

func (h *GuideHandler) updateDraft(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var req dto.GuideDraftRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendValidationError(c, validationMessages(err))
	}

	guide, err := h.service.UpdateDraft(c.Context(), id, req.Rubric, req.ReferenceSolution)
	if err != nil {
		return h.mapError(c, err)
	}

	return utils.SendSuccess(c, "guide draft updated", dto.NewGuideResponse(guide))
}

func (h *GuideHandler) approve(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	guide, err := h.service.Approve(c.Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}

	return utils.SendSuccess(c, "guide version approved", dto.NewGuideResponse(guide))
}

func (h *GuideHandler) activate(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	guide, err := h.service.Activate(c.Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}

	return utils.SendSuccess(c, "guide version activated", dto.NewGuideResponse(guide))
}

func (h *GuideHandler) mapError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "guide version not found")
	case errors.Is(err, service.ErrInvalidRubric),
		errors.Is(err, service.ErrAssignmentArchived),
		errors.Is(err, service.ErrAssignmentNotReady),
		errors.Is(err, service.ErrInvalidModel):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrGuideFrozen),
		errors.Is(err, service.ErrGuideNotDraft),
		errors.Is(err, repository.ErrGuideNotApproved):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	default:
		return h.internalError(c, err)
	}
}

func (h *GuideHandler) internalError(c *fiber.Ctx, err error) error {
	h.logger.Error().Err(err).Str("path", c.Path()).Msg("guide request failed")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
