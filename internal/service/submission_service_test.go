package service

import (
	"archive/zip"
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gradeflow-api/internal/models"
	"github.com/noah-isme/gradeflow-api/internal/render"
)

type submissionFixture struct {
	svc     SubmissionService
	repo    *memSubmissionRepo
	renders *render.Cache
	dataDir string
}

func newSubmissionFixture(t *testing.T) submissionFixture {
	t.Helper()

	assignments := newMemAssignmentRepo()
	require.NoError(t, assignments.Create(context.Background(), &models.Assignment{
		Title:          "Basics",
		AssignmentText: "Compute 2+2.",
	}))

	submissions := newMemSubmissionRepo()
	dataDir := t.TempDir()
	renders := render.NewCache(render.NewLocalRenderer(dataDir, zerolog.Nop()))
	svc := NewSubmissionService(submissions, assignments, renders, dataDir, zerolog.Nop())

	return submissionFixture{svc: svc, repo: submissions, renders: renders, dataDir: dataDir}
}

func TestUploadSanitizesTextAndFingerprints(t *testing.T) {
	fx := newSubmissionFixture(t)

	submission, err := fx.svc.Upload(context.Background(), 1, "alice",
		"<script>alert(1)</script>2+2=4", nil)
	require.NoError(t, err)
	require.Equal(t, "2+2=4", submission.SubmittedText)
	require.NotEmpty(t, submission.Fingerprint)

	same, err := fx.svc.Upload(context.Background(), 1, "bob", "2+2=4", nil)
	require.NoError(t, err)
	require.Equal(t, submission.Fingerprint, same.Fingerprint, "fingerprint depends only on content")
}

func TestUploadClassifiesArtifacts(t *testing.T) {
	fx := newSubmissionFixture(t)

	pngHeader := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	submission, err := fx.svc.Upload(context.Background(), 1, "alice", "", []UploadedFile{
		{Filename: "solution.txt", Data: []byte("2+2=4")},
		{Filename: "photo.png", Data: pngHeader},
		{Filename: "notes.pdf", Data: []byte("%PDF-1.4 minimal")},
	})
	require.NoError(t, err)
	require.Len(t, submission.Artifacts, 3)

	types := map[string]string{}
	for _, artifact := range submission.Artifacts {
		types[artifact.OriginalFilename] = artifact.FileType
		require.NotEmpty(t, artifact.Checksum)
		require.FileExists(t, filepath.Join(fx.dataDir, artifact.FilePath))
	}
	require.Equal(t, models.ArtifactTypeText, types["solution.txt"])
	require.Equal(t, models.ArtifactTypeImage, types["photo.png"])
	require.Equal(t, models.ArtifactTypePDF, types["notes.pdf"])
}

func TestUploadedArtifactsRender(t *testing.T) {
	fx := newSubmissionFixture(t)

	pngHeader := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	submission, err := fx.svc.Upload(context.Background(), 1, "alice", "", []UploadedFile{
		{Filename: "answer.txt", Data: []byte("2+2=4")},
		{Filename: "photo.png", Data: pngHeader},
	})
	require.NoError(t, err)

	payloads, err := fx.renders.Payloads(context.Background(), submission)
	require.NoError(t, err)
	require.Len(t, payloads, 2)
	require.Equal(t, render.PayloadText, payloads[0].Kind)
	require.Equal(t, "2+2=4", payloads[0].Text)
	require.Equal(t, render.PayloadImage, payloads[1].Kind)
}

func TestUploadRejectsEmptySubmission(t *testing.T) {
	fx := newSubmissionFixture(t)

	_, err := fx.svc.Upload(context.Background(), 1, "alice", "   ", nil)
	require.ErrorIs(t, err, ErrEmptySubmission)

	_, err = fx.svc.Upload(context.Background(), 1, "", "2+2=4", nil)
	require.ErrorIs(t, err, ErrMissingStudent)
}

func buildArchive(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for name, data := range entries {
		f, err := writer.Create(name)
		require.NoError(t, err)
		_, err = f.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	return buf.Bytes()
}

func TestIngestZipGroupsByTopLevelFolder(t *testing.T) {
	fx := newSubmissionFixture(t)

	archive := buildArchive(t, map[string][]byte{
		"alice/solution.txt":     []byte("2+2=4"),
		"alice/extra/page2.txt":  []byte("still 4"),
		"bob/answer.txt":         []byte("2+2=5"),
		"stray-file-at-root.txt": []byte("ignored"),
		"carol/.DS_Store":        []byte("junk"),
	})

	report, err := fx.svc.IngestZip(context.Background(), 1, archive)
	require.NoError(t, err)
	require.Len(t, report.Created, 2)
	require.Equal(t, "alice", report.Created[0].StudentIdentifier)
	require.Equal(t, "bob", report.Created[1].StudentIdentifier)

	alice, err := fx.repo.GetByAssignmentAndStudent(context.Background(), 1, "alice")
	require.NoError(t, err)
	require.Len(t, alice.Artifacts, 2)
}

func TestIngestZipRejectsGarbage(t *testing.T) {
	fx := newSubmissionFixture(t)

	_, err := fx.svc.IngestZip(context.Background(), 1, []byte("not a zip"))
	require.Error(t, err)
}
