package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/markdave123-py/knowledgehub/internal/core"
	"github.com/markdave123-py/knowledgehub/internal/models"
)

var _ core.DocumentExtractor = (*DocconvExtractor)(nil)

// DocconvExtractor implements core.DocumentExtractor using sajari/docconv,
// with pdfcpu checking PDFs are readable before conversion.
type DocconvExtractor struct {
	logger *slog.Logger
}

func NewDocconvExtractor(logger *slog.Logger) *DocconvExtractor {
	return &DocconvExtractor{logger: logger.With("component", "extractor")}
}

// ExtractFile reads path from disk and extracts it.
func (e *DocconvExtractor) ExtractFile(ctx context.Context, path, mimeType string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", core.ErrExtraction, path, err)
	}
	return e.Extract(ctx, data, mimeType)
}

// Extract returns the plain text of data. Only PDF, DOCX and plain text are
// accepted; anything else is ErrUnsupportedFileType.
func (e *DocconvExtractor) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	if _, ok := models.FileTypeForMime(mimeType); !ok {
		return "", fmt.Errorf("%w: %s", core.ErrUnsupportedFileType, mimeType)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var (
		text string
		err  error
	)
	switch mimeType {
	case models.MimePDF:
		text, err = e.extractPDF(data)
	case models.MimeDOCX:
		text, _, err = docconv.ConvertDocx(bytes.NewReader(data))
		if err != nil {
			err = fmt.Errorf("%w: docx: %v", core.ErrExtraction, err)
		}
	case models.MimeTXT:
		text, err = extractPlain(data)
	}
	if err != nil {
		e.logger.Warn("extraction failed", slog.String("mime", mimeType), slog.Any("error", err))
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", core.ErrEmptyDocument
	}
	return text, nil
}

func (e *DocconvExtractor) extractPDF(data []byte) (string, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return "", fmt.Errorf("%w: invalid pdf: %v", core.ErrExtraction, err)
	}

	text, _, err := docconv.ConvertPDF(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: pdf: %v", core.ErrExtraction, err)
	}
	e.logger.Debug("pdf converted", slog.Int("pages", pages), slog.Int("chars", len(text)))
	return text, nil
}

func extractPlain(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: text is not valid UTF-8", core.ErrExtraction)
	}
	return string(data), nil
}
