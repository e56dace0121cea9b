package handler

import (
	"bytes"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gradeflow-api/internal/service"
	"github.com/noah-isme/gradeflow-api/internal/utils"
)

// ExportHandler wires gradebook export HTTP routes.
type ExportHandler struct {
	service service.ExportService
	logger  zerolog.Logger
}

// NewExportHandler constructs the handler.
func NewExportHandler(service service.ExportService, logger zerolog.Logger) *ExportHandler {
	return &ExportHandler{
		service: service,
		logger:  logger.With().Str("component", "export_handler").Logger(),
	}
}

// Register attaches the export endpoint to the assignment group.
func (h *ExportHandler) Register(assignments fiber.Router) {
	assignments.Get("/:id/export", h.exportCSV)
}

func (h *ExportHandler) exportCSV(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var buf bytes.Buffer
	if err := h.service.WriteAssignmentCSV(c.Context(), assignmentID, &buf); err != nil {
		h.logger.Error().Err(err).Uint("assignment_id", assignmentID).Msg("export failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}

	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=assignment_%d_grades.csv", assignmentID))

	return c.Send(buf.Bytes())
}
