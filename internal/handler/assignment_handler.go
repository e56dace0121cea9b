package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gradeflow-api/internal/dto"
	"github.com/noah-isme/gradeflow-api/internal/service"
	"github.com/noah-isme/gradeflow-api/internal/utils"
)

// AssignmentHandler wires assignment HTTP routes.
type AssignmentHandler struct {
	service   service.AssignmentService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewAssignmentHandler constructs the handler.
func NewAssignmentHandler(service service.AssignmentService, validator *validator.Validate, logger zerolog.Logger) *AssignmentHandler {
	return &AssignmentHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "assignment_handler").Logger(),
	}
}

// Register attaches assignment endpoints to the router group.
func (h *AssignmentHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Get("/:id", h.get)
	router.Post("", h.create)
	router.Post("/generate", h.generate)
}

func (h *AssignmentHandler) list(c *fiber.Ctx) error {
	assignments, err := h.service.List(c.Context())
	if err != nil {
		return h.internalError(c, err)
	}

	return utils.SendSuccess(c, "assignments retrieved", dto.NewAssignmentResponseSlice(assignments))
}

func (h *AssignmentHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	assignment, err := h.service.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
		}
		return h.internalError(c, err)
	}

	return utils.SendSuccess(c, "assignment retrieved", dto.NewAssignmentResponse(assignment))
}

func (h *AssignmentHandler) create(c *fiber.Ctx) error {
	var req dto.AssignmentCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendValidationError(c, validationMessages(err))
	}

	assignment, err := h.service.Create(c.Context(), req.Title, req.AssignmentText, req.FolderName)
	if err != nil {
		if errors.Is(err, service.ErrEmptyAssignmentText) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		return h.internalError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "assignment created", dto.NewAssignmentResponse(assignment))
}

func (h *AssignmentHandler) generate(c *fiber.Ctx) error {
	var req dto.AssignmentGenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendValidationError(c, validationMessages(err))
	}

	assignment, err := h.service.Generate(c.Context(), req.Brief, req.Provider, req.Model)
	if err != nil {
		if errors.Is(err, service.ErrEmptyBrief) || errors.Is(err, service.ErrInvalidModel) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		return h.internalError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "assignment draft generation enqueued", dto.NewAssignmentResponse(assignment))
}

func (h *AssignmentHandler) internalError(c *fiber.Ctx, err error) error {
	h.logger.Error().Err(err).Str("path", c.Path()).Msg("assignment request failed")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
