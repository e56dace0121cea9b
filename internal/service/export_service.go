package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gradeflow-api/internal/models"
	"github.com/noah-isme/gradeflow-api/internal/repository"
)

// ExportService produces gradebook exports for an assignment.
type ExportService interface {
	WriteAssignmentCSV(ctx context.Context, assignmentID uint, w io.Writer) error
}

type exportService struct {
	submissions repository.SubmissionRepository
	jobs        repository.GradingJobRepository
	logger      zerolog.Logger
}

// NewExportService instantiates the service.
func NewExportService(
	submissions repository.SubmissionRepository,
	jobs repository.GradingJobRepository,
	logger zerolog.Logger,
) ExportService {
	return &exportService{
		submissions: submissions,
		jobs:        jobs,
		logger:      logger.With().Str("component", "export_service").Logger(),
	}
}

// WriteAssignmentCSV writes one row per submission with the latest grading
// outcome. Submissions without any job appear with an empty status so the
// export always covers the full roster.
func (s *exportService) WriteAssignmentCSV(ctx context.Context, assignmentID uint, w io.Writer) error {
	submissions, err := s.submissions.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}

	jobs, err := s.jobs.ListByAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}

	// Jobs are ordered newest first; keep the first one seen per submission.
	latest := make(map[uint]models.GradingJob, len(submissions))
	for _, job := range jobs {
		if _, seen := latest[job.SubmissionID]; !seen {
			latest[job.SubmissionID] = job
		}
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{
		"student", "submission_id", "job_id", "status", "total_points", "error_kind", "attempts", "total_tokens", "price_estimate",
	}); err != nil {
		return err
	}

	for _, submission := range submissions {
		row := []string{submission.StudentIdentifier, strconv.FormatUint(uint64(submission.ID), 10), "", "", "", "", "", "", ""}
		if job, ok := latest[submission.ID]; ok {
			row[2] = strconv.FormatUint(uint64(job.ID), 10)
			row[3] = job.Status
			if job.Result != nil && job.Result.TotalPoints != nil {
				row[4] = strconv.FormatFloat(*job.Result.TotalPoints, 'f', -1, 64)
			}
			row[5] = job.ErrorKind
			row[6] = strconv.Itoa(job.Attempts)
			row[7] = strconv.Itoa(job.TotalTokens)
			if job.PriceEstimate != nil {
				row[8] = strconv.FormatFloat(*job.PriceEstimate, 'f', 6, 64)
			}
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	s.logger.Info().Uint("assignment_id", assignmentID).Int("rows", len(submissions)).Msg("gradebook exported")

	return nil
}
