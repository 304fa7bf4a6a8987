package ingestion_engine

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/knowledgehub/internal/core"
	"github.com/markdave123-py/knowledgehub/internal/models"
)

func newExtractor() *DocconvExtractor {
	return NewDocconvExtractor(discardLogger())
}

func TestExtract_PlainText(t *testing.T) {
	text, err := newExtractor().Extract(context.Background(), []byte("\xef\xbb\xbf  Author: Jane Doe\n"), models.MimeTXT)
	require.NoError(t, err)
	assert.Equal(t, "Author: Jane Doe", text)
}

func TestExtract_Errors(t *testing.T) {
	e := newExtractor()
	ctx := context.Background()

	_, err := e.Extract(ctx, []byte("x"), "image/png")
	assert.ErrorIs(t, err, core.ErrUnsupportedFileType)

	_, err = e.Extract(ctx, []byte("   \n\t"), models.MimeTXT)
	assert.ErrorIs(t, err, core.ErrEmptyDocument)
	assert.ErrorIs(t, err, core.ErrExtraction)

	_, err = e.Extract(ctx, []byte{0xff, 0xfe, 0x00}, models.MimeTXT)
	assert.ErrorIs(t, err, core.ErrExtraction)

	_, err = e.Extract(ctx, []byte("%PDF-1.4 this is not really a pdf"), models.MimePDF)
	assert.ErrorIs(t, err, core.ErrExtraction)

	_, err = e.Extract(ctx, []byte("not a zip archive"), models.MimeDOCX)
	assert.ErrorIs(t, err, core.ErrExtraction)
}

func TestExtract_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newExtractor().Extract(ctx, []byte("hello"), models.MimeTXT)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtract_Docx(t *testing.T) {
	text, err := newExtractor().Extract(context.Background(), docxFixture(t, "Author: Jane Doe"), models.MimeDOCX)
	require.NoError(t, err)
	assert.Contains(t, text, "Jane Doe")
}

func TestExtract_PDF(t *testing.T) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		t.Skip("pdftotext not installed")
	}
	text, err := newExtractor().Extract(context.Background(), pdfFixture("Author: Jane Doe"), models.MimePDF)
	require.NoError(t, err)
	assert.Contains(t, text, "Jane Doe")
}

func TestExtractFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("Name: Knowledge Hub"), 0o600))

	text, err := newExtractor().ExtractFile(context.Background(), path, models.MimeTXT)
	require.NoError(t, err)
	assert.Equal(t, "Name: Knowledge Hub", text)

	_, err = newExtractor().ExtractFile(context.Background(), path+".missing", models.MimeTXT)
	assert.ErrorIs(t, err, core.ErrExtraction)
}

// docxFixture builds the smallest word document docconv can read.
func docxFixture(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	files := map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`,
		"word/document.xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body><w:p><w:r><w:t>` + body + `</w:t></w:r></w:p></w:body>
</w:document>`,
	}
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// pdfFixture builds a one-page PDF with a correct cross-reference table.
func pdfFixture(line string) []byte {
	stream := fmt.Sprintf("BT /F1 24 Tf 72 700 Td (%s) Tj ET", line)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}
