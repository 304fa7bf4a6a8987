package ingestion_engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/markdave123-py/knowledgehub/internal/core"
	"github.com/markdave123-py/knowledgehub/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memFiles is an in-memory core.FileRepository with the same compare-and-set
// rules as the Postgres client.
type memFiles struct {
	mu          sync.Mutex
	files       map[string]*models.FileRecord
	transitions []models.FileStatus

	// processedErr fails MarkFileProcessed without changing the record.
	processedErr error
}

func newMemFiles(recs ...*models.FileRecord) *memFiles {
	m := &memFiles{files: map[string]*models.FileRecord{}}
	for _, r := range recs {
		m.files[r.ID] = r
	}
	return m
}

func (m *memFiles) CreateFile(_ context.Context, f *models.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ID] = f
	return nil
}

func (m *memFiles) GetFileByID(_ context.Context, id string) (*models.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil, core.ErrFileNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *memFiles) GetFileByPath(_ context.Context, path string) (*models.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.FilePath == path {
			cp := *f
			return &cp, nil
		}
	}
	return nil, core.ErrFileNotFound
}

func (m *memFiles) ListFiles(context.Context, string, string) ([]models.FileRecord, error) {
	return nil, nil
}

func (m *memFiles) DeleteFile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, id)
	return nil
}

func (m *memFiles) move(id string, to models.FileStatus, from ...models.FileStatus) (*models.FileRecord, error) {
	f, ok := m.files[id]
	if !ok {
		return nil, core.ErrFileNotFound
	}
	for _, s := range from {
		if f.Status == s {
			f.Status = to
			m.transitions = append(m.transitions, to)
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: file %s is %s", core.ErrStatusConflict, id, f.Status)
}

func (m *memFiles) MarkFileProcessing(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.move(id, models.StatusProcessing, models.StatusUploaded)
	return err
}

func (m *memFiles) MarkFileProcessed(_ context.Context, id, text, hash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processedErr != nil {
		return m.processedErr
	}
	f, err := m.move(id, models.StatusProcessed, models.StatusProcessing)
	if err != nil {
		return err
	}
	f.ExtractedText = &text
	f.ContentHash = &hash
	if at.Before(f.CreatedAt) {
		at = f.CreatedAt
	}
	f.ProcessedAt = &at
	return nil
}

func (m *memFiles) MarkFileFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.move(id, models.StatusFailed, models.StatusUploaded, models.StatusProcessing)
	if err != nil {
		return err
	}
	f.ErrorMessage = &reason
	return nil
}

func (m *memFiles) get(id string) models.FileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.files[id]
}

type memObjects struct {
	data map[string][]byte
}

func (o *memObjects) UploadFile(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	o.data[key] = b
	return nil
}

func (o *memObjects) GetFile(_ context.Context, key string) ([]byte, error) {
	b, ok := o.data[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return b, nil
}

func (o *memObjects) DeleteFile(_ context.Context, key string) error {
	delete(o.data, key)
	return nil
}

// memStore mimics replace-by-file indexing.
type memStore struct {
	mu      sync.Mutex
	byFile  map[string][]models.VectorDocument
	indexes int
	err     error
}

func (s *memStore) Index(_ context.Context, docs []models.VectorDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.indexes++
	if s.byFile == nil {
		s.byFile = map[string][]models.VectorDocument{}
	}
	grouped := map[string][]models.VectorDocument{}
	for _, d := range docs {
		id := d.Metadata[models.MetaFileID]
		grouped[id] = append(grouped[id], d)
	}
	for id, g := range grouped {
		s.byFile[id] = g
	}
	return nil
}

func (s *memStore) Search(context.Context, string, int, models.SearchScope) ([]models.VectorDocument, error) {
	return nil, nil
}

func (s *memStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, g := range s.byFile {
		n += len(g)
	}
	return n
}
