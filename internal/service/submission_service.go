package service

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gradeflow-api/internal/models"
	"github.com/noah-isme/gradeflow-api/internal/render"
	"github.com/noah-isme/gradeflow-api/internal/repository"
)

var (
	// ErrEmptySubmission rejects uploads with neither text nor files.
	ErrEmptySubmission = errors.New("submission has no text and no files")
	// ErrMissingStudent rejects uploads without a student identifier.
	ErrMissingStudent = errors.New("student identifier is required")
)

// UploadedFile is one file received from a multipart upload or a zip entry.
type UploadedFile struct {
	Filename string
	Data     []byte
}

// ZipIngestReport summarizes one bulk ingest of a submissions archive.
type ZipIngestReport struct {
	Created []models.Submission `json:"created"`
	Skipped map[string]string   `json:"skipped,omitempty"`
}

// SubmissionService manages student submissions and their artifacts.
type SubmissionService interface {
	Upload(ctx context.Context, assignmentID uint, studentIdentifier, submittedText string, files []UploadedFile) (models.Submission, error)
	IngestZip(ctx context.Context, assignmentID uint, archive []byte) (ZipIngestReport, error)
	Get(ctx context.Context, id uint) (models.Submission, error)
	ListByAssignment(ctx context.Context, assignmentID uint) ([]models.Submission, error)
}

type submissionService struct {
	submissions repository.SubmissionRepository
	assignments repository.AssignmentRepository
	renders     *render.Cache
	sanitizer   *bluemonday.Policy
	dataDir     string
	logger      zerolog.Logger
}

// NewSubmissionService instantiates the service. Uploaded files are stored
// under dataDir/submissions.
func NewSubmissionService(
	submissions repository.SubmissionRepository,
	assignments repository.AssignmentRepository,
	renders *render.Cache,
	dataDir string,
	logger zerolog.Logger,
) SubmissionService {
	return &submissionService{
		submissions: submissions,
		assignments: assignments,
		renders:     renders,
		sanitizer:   bluemonday.StrictPolicy(),
		dataDir:     dataDir,
		logger:      logger.With().Str("component", "submission_service").Logger(),
	}
}

func (s *submissionService) Upload(ctx context.Context, assignmentID uint, studentIdentifier, submittedText string, files []UploadedFile) (models.Submission, error) {
	assignment, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return models.Submission{}, err
	}
	if err := guardWritable(assignment); err != nil {
		return models.Submission{}, err
	}

	studentIdentifier = strings.TrimSpace(studentIdentifier)
	if studentIdentifier == "" {
		return models.Submission{}, ErrMissingStudent
	}

	text := strings.TrimSpace(s.sanitizer.Sanitize(submittedText))
	if text == "" && len(files) == 0 {
		return models.Submission{}, ErrEmptySubmission
	}

	submission := models.Submission{
		AssignmentID:      assignmentID,
		StudentIdentifier: studentIdentifier,
		SubmittedText:     text,
	}

	// Artifact paths are stored relative to the data directory; the
	// renderer joins them back onto the same root.
	relDir := filepath.Join("submissions", fmt.Sprintf("assignment_%d", assignmentID), sanitizeSegment(studentIdentifier))
	if len(files) > 0 {
		if err := os.MkdirAll(filepath.Join(s.dataDir, relDir), 0o755); err != nil {
			return models.Submission{}, fmt.Errorf("create submission dir: %w", err)
		}
	}

	checksums := make([]string, 0, len(files))
	for _, file := range files {
		artifact, err := s.storeArtifact(relDir, file)
		if err != nil {
			return models.Submission{}, err
		}
		submission.Artifacts = append(submission.Artifacts, artifact)
		checksums = append(checksums, artifact.Checksum)
	}

	submission.Fingerprint = fingerprint(text, checksums)

	if err := s.submissions.Create(ctx, &submission); err != nil {
		return models.Submission{}, err
	}

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("assignment_id", assignmentID).
		Str("student", studentIdentifier).
		Int("artifacts", len(submission.Artifacts)).
		Msg("submission uploaded")

	return submission, nil
}

// IngestZip imports a bulk archive where each top-level folder name is a
// student identifier and its contents are that student's files. Entries
// outside a folder and students that fail validation are reported, not
// fatal.
func (s *submissionService) IngestZip(ctx context.Context, assignmentID uint, archive []byte) (ZipIngestReport, error) {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return ZipIngestReport{}, fmt.Errorf("open archive: %w", err)
	}

	byStudent := make(map[string][]UploadedFile)
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}

		name := filepath.ToSlash(entry.Name)
		parts := strings.SplitN(name, "/", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
			continue
		}
		student := parts[0]
		base := filepath.Base(parts[1])
		if strings.HasPrefix(base, ".") {
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return ZipIngestReport{}, fmt.Errorf("open archive entry %s: %w", entry.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return ZipIngestReport{}, fmt.Errorf("read archive entry %s: %w", entry.Name, err)
		}

		byStudent[student] = append(byStudent[student], UploadedFile{Filename: base, Data: data})
	}

	students := make([]string, 0, len(byStudent))
	for student := range byStudent {
		students = append(students, student)
	}
	sort.Strings(students)

	report := ZipIngestReport{Skipped: make(map[string]string)}
	for _, student := range students {
		submission, err := s.Upload(ctx, assignmentID, student, "", byStudent[student])
		if err != nil {
			report.Skipped[student] = err.Error()
			continue
		}
		report.Created = append(report.Created, submission)
	}
	if len(report.Skipped) == 0 {
		report.Skipped = nil
	}

	s.logger.Info().
		Uint("assignment_id", assignmentID).
		Int("created", len(report.Created)).
		Int("skipped", len(report.Skipped)).
		Msg("zip archive ingested")

	return report, nil
}

func (s *submissionService) Get(ctx context.Context, id uint) (models.Submission, error) {
	return s.submissions.GetByID(ctx, id)
}

func (s *submissionService) ListByAssignment(ctx context.Context, assignmentID uint) ([]models.Submission, error) {
	return s.submissions.ListByAssignment(ctx, assignmentID)
}

func (s *submissionService) storeArtifact(relDir string, file UploadedFile) (models.SubmissionArtifact, error) {
	base := filepath.Base(file.Filename)
	if base == "" || base == "." {
		return models.SubmissionArtifact{}, fmt.Errorf("artifact has no usable filename")
	}

	relPath := filepath.Join(relDir, base)
	if err := os.WriteFile(filepath.Join(s.dataDir, relPath), file.Data, 0o644); err != nil {
		return models.SubmissionArtifact{}, fmt.Errorf("store artifact %s: %w", base, err)
	}

	sum := sha256.Sum256(file.Data)

	return models.SubmissionArtifact{
		FilePath:         relPath,
		FileType:         detectArtifactType(base, file.Data),
		OriginalFilename: base,
		Checksum:         hex.EncodeToString(sum[:]),
	}, nil
}

// detectArtifactType classifies by content first, falling back to the file
// extension when sniffing is inconclusive.
func detectArtifactType(filename string, data []byte) string {
	mime := mimetype.Detect(data)
	switch {
	case mime.Is("application/pdf"):
		return models.ArtifactTypePDF
	case strings.HasPrefix(mime.String(), "image/"):
		return models.ArtifactTypeImage
	case strings.HasPrefix(mime.String(), "text/"):
		return models.ArtifactTypeText
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return models.ArtifactTypePDF
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return models.ArtifactTypeImage
	case ".txt", ".md", ".py", ".java", ".c", ".cpp", ".go":
		return models.ArtifactTypeText
	}

	return models.ArtifactTypeOther
}

// fingerprint hashes the submission content so jobs can detect that a
// submission changed between enqueue and execution.
func fingerprint(text string, checksums []string) string {
	h := sha256.New()
	h.Write([]byte(text))
	sorted := make([]string, len(checksums))
	copy(sorted, checksums)
	sort.Strings(sorted)
	for _, sum := range sorted {
		h.Write([]byte(sum))
	}

	return hex.EncodeToString(h.Sum(nil))
}

func sanitizeSegment(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	return b.String()
}
