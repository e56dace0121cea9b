package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gradeflow-api/internal/models"
)

// LocalRenderer renders artifacts stored on the local filesystem. Text and
// image artifacts are read directly; PDFs rely on a pre-extracted cache
// directory produced by the external PDF pipeline (text.txt plus page_*.png
// under processed/artifact_<id>/).
type LocalRenderer struct {
	dataDir string
	logger  zerolog.Logger
}

// NewLocalRenderer builds a renderer rooted at the data directory.
func NewLocalRenderer(dataDir string, logger zerolog.Logger) *LocalRenderer {
	return &LocalRenderer{
		dataDir: dataDir,
		logger:  logger.With().Str("component", "renderer").Logger(),
	}
}

// Render converts the artifact into payloads or fails with *Error.
func (r *LocalRenderer) Render(_ context.Context, artifact models.SubmissionArtifact) ([]Payload, error) {
	switch artifact.FileType {
	case models.ArtifactTypeText:
		return r.renderText(artifact)
	case models.ArtifactTypeImage:
		return r.renderImage(artifact)
	case models.ArtifactTypePDF:
		return r.renderPDF(artifact)
	case models.ArtifactTypeOther:
		return nil, nil
	default:
		return nil, &Error{Artifact: artifact.OriginalFilename, Err: fmt.Errorf("unsupported artifact type %q", artifact.FileType)}
	}
}

func (r *LocalRenderer) renderText(artifact models.SubmissionArtifact) ([]Payload, error) {
	content, err := os.ReadFile(filepath.Join(r.dataDir, artifact.FilePath))
	if err != nil {
		return nil, &Error{Artifact: artifact.OriginalFilename, Err: err}
	}

	text := strings.TrimSpace(string(content))
	if text == "" {
		return nil, nil
	}

	return []Payload{{Kind: PayloadText, Text: text}}, nil
}

func (r *LocalRenderer) renderImage(artifact models.SubmissionArtifact) ([]Payload, error) {
	data, err := os.ReadFile(filepath.Join(r.dataDir, artifact.FilePath))
	if err != nil {
		return nil, &Error{Artifact: artifact.OriginalFilename, Err: err}
	}

	return []Payload{{Kind: PayloadImage, MIME: mimetype.Detect(data).String(), Data: data}}, nil
}

func (r *LocalRenderer) renderPDF(artifact models.SubmissionArtifact) ([]Payload, error) {
	cacheDir := filepath.Join(r.dataDir, "processed", fmt.Sprintf("artifact_%d", artifact.ID))

	var payloads []Payload

	textPath := filepath.Join(cacheDir, "text.txt")
	if content, err := os.ReadFile(textPath); err == nil {
		if text := strings.TrimSpace(string(content)); text != "" {
			payloads = append(payloads, Payload{Kind: PayloadText, Text: text})
		}
	}

	pages, err := filepath.Glob(filepath.Join(cacheDir, "page_*.png"))
	if err == nil {
		sort.Strings(pages)
		for _, page := range pages {
			data, readErr := os.ReadFile(page)
			if readErr != nil {
				return nil, &Error{Artifact: artifact.OriginalFilename, Err: readErr}
			}
			payloads = append(payloads, Payload{Kind: PayloadImage, MIME: "image/png", Data: data})
		}
	}

	if len(payloads) == 0 {
		return nil, &Error{
			Artifact: artifact.OriginalFilename,
			Err:      fmt.Errorf("no extracted text or rendered pages found under %s", cacheDir),
		}
	}

	return payloads, nil
}
