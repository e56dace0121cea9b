package handler

import (
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gradeflow-api/internal/dto"
	"github.com/noah-isme/gradeflow-api/internal/service"
	"github.com/noah-isme/gradeflow-api/internal/utils"
)

// SubmissionHandler wires submission HTTP routes.
type SubmissionHandler struct {
	service service.SubmissionService
	logger  zerolog.Logger
}

// NewSubmissionHandler constructs the handler.
func NewSubmissionHandler(service service.SubmissionService, logger zerolog.Logger) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		logger:  logger.With().Str("component", "submission_handler").Logger(),
	}
}

// Register attaches submission endpoints. Uploads live under the assignment
// group; reads are version scoped.
func (h *SubmissionHandler) Register(assignments fiber.Router, submissions fiber.Router) {
	assignments.Get("/:id/submissions", h.listByAssignment)
	assignments.Post("/:id/submissions", h.upload)
	assignments.Post("/:id/submissions/ingest", h.ingestZip)

	submissions.Get("/:id", h.get)
}

func (h *SubmissionHandler) listByAssignment(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submissions, err := h.service.ListByAssignment(c.Context(), assignmentID)
	if err != nil {
		return h.internalError(c, err)
	}

	return utils.SendSuccess(c, "submissions retrieved", dto.NewSubmissionResponseSlice(submissions))
}

// upload accepts multipart form data: student_identifier, optional
// submitted_text, optional files under the "files" field.
func (h *SubmissionHandler) upload(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	student := c.FormValue("student_identifier")
	text := c.FormValue("submitted_text")

	var files []service.UploadedFile
	if form, err := c.MultipartForm(); err == nil && form != nil {
		for _, header := range form.File["files"] {
			file, err := header.Open()
			if err != nil {
				return utils.SendError(c, fiber.StatusBadRequest, "unreadable upload")
			}
			data, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				return utils.SendError(c, fiber.StatusBadRequest, "unreadable upload")
			}
			files = append(files, service.UploadedFile{Filename: header.Filename, Data: data})
		}
	}

	submission, err := h.service.Upload(c.Context(), assignmentID, student, text, files)
	if err != nil {
		return h.mapError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "submission uploaded", dto.NewSubmissionResponse(submission))
}

// ingestZip accepts a multipart "archive" file holding one folder per
// student.
func (h *SubmissionHandler) ingestZip(c *fiber.Ctx) error {
	assignmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	header, err := c.FormFile("archive")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "archive file is required")
	}
	file, err := header.Open()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "unreadable archive")
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "unreadable archive")
	}

	report, err := h.service.IngestZip(c.Context(), assignmentID, data)
	if err != nil {
		return h.mapError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "archive ingested", report)
}

func (h *SubmissionHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	submission, err := h.service.Get(c.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "submission not found")
		}
		return h.internalError(c, err)
	}

	return utils.SendSuccess(c, "submission retrieved", dto.NewSubmissionResponse(submission))
}

func (h *SubmissionHandler) mapError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "assignment not found")
	case errors.Is(err, service.ErrEmptySubmission),
		errors.Is(err, service.ErrMissingStudent),
		errors.Is(err, service.ErrAssignmentArchived),
		errors.Is(err, service.ErrAssignmentNotReady):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		return h.internalError(c, err)
	}
}

func (h *SubmissionHandler) internalError(c *fiber.Ctx, err error) error {
	h.logger.Error().Err(err).Str("path", c.Path()).Msg("submission request failed")
	return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
}
