package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gradeflow-api/internal/config"
	"github.com/noah-isme/gradeflow-api/internal/events"
	"github.com/noah-isme/gradeflow-api/internal/handler"
	"github.com/noah-isme/gradeflow-api/internal/models"
	"github.com/noah-isme/gradeflow-api/internal/queue"
	"github.com/noah-isme/gradeflow-api/internal/render"
	"github.com/noah-isme/gradeflow-api/internal/repository"
	"github.com/noah-isme/gradeflow-api/internal/router"
	"github.com/noah-isme/gradeflow-api/internal/service"
	"github.com/noah-isme/gradeflow-api/pkg/llm"
)

func testConfig() config.Config {
	return config.Config{
		AppName:         "Gradeflow Test",
		AppEnv:          "test",
		DefaultProvider: "openai",
		Providers: map[string]config.ProviderConfig{
			"openai": {
				Name:         "OpenAI",
				BaseURL:      "https://api.openai.com/v1",
				DefaultModel: "gpt-4o-mini",
			},
		},
	}
}

func setupApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Assignment{},
		&models.GuideVersion{},
		&models.Submission{},
		&models.SubmissionArtifact{},
		&models.GradingJob{},
		&models.GradeResult{},
	))

	cfg := testConfig()
	logger := zerolog.New(io.Discard)
	validate := validator.New(validator.WithRequiredStructEnabled())
	publisher := events.NewPublisher(nil, nil, logger)

	assignmentRepo := repository.NewAssignmentRepository(db)
	guideRepo := repository.NewGuideRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	jobRepo := repository.NewGradingJobRepository(db)

	dataDir := t.TempDir()
	renders := render.NewCache(render.NewLocalRenderer(dataDir, logger))

	// Never started: submitted tasks stay buffered, which is all these
	// tests need.
	taskQueue := queue.NewLocalQueue(32, logger)

	assignmentService := service.NewAssignmentService(assignmentRepo, taskQueue, nil, llm.PriceTable{}, cfg, publisher, logger)
	guideService := service.NewGuideService(guideRepo, assignmentRepo, taskQueue, nil, llm.PriceTable{}, cfg, publisher, logger)
	submissionService := service.NewSubmissionService(submissionRepo, assignmentRepo, renders, dataDir, logger)
	jobService := service.NewJobService(jobRepo, guideRepo, submissionRepo, taskQueue, cfg, publisher, logger)
	exportService := service.NewExportService(submissionRepo, jobRepo, logger)

	app := fiber.New()
	router.Register(app, cfg, router.Dependencies{
		AssignmentHandler: handler.NewAssignmentHandler(assignmentService, validate, logger),
		GuideHandler:      handler.NewGuideHandler(guideService, validate, logger),
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, logger),
		JobHandler:        handler.NewJobHandler(jobService, validate, logger),
		ExportHandler:     handler.NewExportHandler(exportService, logger),
		QueueMode:         "local",
	})

	return app, db
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	return resp
}

func decodeData(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.True(t, envelope.Success, envelope.Message)
	if out != nil {
		require.NoError(t, json.Unmarshal(envelope.Data, out))
	}
}

func TestAssignmentCreateAndGet(t *testing.T) {
	app, _ := setupApp(t)

	resp := doJSON(t, app, http.MethodPost, "/api/v1/assignments", map[string]string{
		"title":           "Basics",
		"assignment_text": "Compute 2+2 and show your work.",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		ID uint `json:"id"`
	}
	decodeData(t, resp, &created)
	require.NotZero(t, created.ID)

	resp = doJSON(t, app, http.MethodGet, "/api/v1/assignments/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, http.MethodGet, "/api/v1/assignments/999", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAssignmentCreateValidation(t *testing.T) {
	app, _ := setupApp(t)

	resp := doJSON(t, app, http.MethodPost, "/api/v1/assignments", map[string]string{
		"title": "x",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestGuideLifecycleOverHTTP(t *testing.T) {
	app, _ := setupApp(t)

	resp := doJSON(t, app, http.MethodPost, "/api/v1/assignments", map[string]string{
		"title":           "Basics",
		"assignment_text": "Compute 2+2 and show your work.",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/api/v1/assignments/1/guides", map[string]interface{}{
		"rubric": map[string]interface{}{
			"parts": []map[string]interface{}{
				{"part_id": "arithmetic", "description": "Arithmetic", "points_possible": 10},
			},
		},
		"reference_solution": "4",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Activation before approval must be rejected.
	resp = doJSON(t, app, http.MethodPost, "/api/v1/guides/1/activate", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/api/v1/guides/1/approve", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, app, http.MethodPost, "/api/v1/guides/1/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var guide struct {
		Status string `json:"status"`
	}
	decodeData(t, resp, &guide)
	require.Equal(t, models.GuideStatusActive, guide.Status)
}

func TestJobCreateRequiresActiveGuideOverHTTP(t *testing.T) {
	app, db := setupApp(t)

	require.NoError(t, db.Create(&models.Assignment{Title: "Basics", AssignmentText: "Compute 2+2."}).Error)
	require.NoError(t, db.Create(&models.Submission{AssignmentID: 1, StudentIdentifier: "alice", SubmittedText: "4"}).Error)

	resp := doJSON(t, app, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"submission_id": 1,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.NoError(t, db.Create(&models.GuideVersion{AssignmentID: 1, Status: models.GuideStatusActive}).Error)

	resp = doJSON(t, app, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"submission_id": 1,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// A second job for the same submission conflicts while one is active.
	resp = doJSON(t, app, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"submission_id": 1,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}
