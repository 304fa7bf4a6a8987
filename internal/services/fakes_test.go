package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/knowledgehub/internal/core"
	"github.com/markdave123-py/knowledgehub/internal/core/queue"
	"github.com/markdave123-py/knowledgehub/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDB keeps records in memory. createErr and deleteChunksErr inject failures.
type fakeDB struct {
	mu              sync.Mutex
	files           map[string]*models.FileRecord
	deletedChunks   []string
	createErr       error
	deleteChunksErr error
}

func newFakeDB() *fakeDB { return &fakeDB{files: map[string]*models.FileRecord{}} }

func (d *fakeDB) CreateFile(_ context.Context, f *models.FileRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createErr != nil {
		return d.createErr
	}
	f.CreatedAt = time.Now()
	f.UpdatedAt = f.CreatedAt
	cp := *f
	d.files[f.ID] = &cp
	return nil
}

func (d *fakeDB) GetFileByID(_ context.Context, id string) (*models.FileRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[id]
	if !ok {
		return nil, core.ErrFileNotFound
	}
	cp := *f
	return &cp, nil
}

func (d *fakeDB) GetFileByPath(_ context.Context, p string) (*models.FileRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range d.files {
		if f.FilePath == p {
			cp := *f
			return &cp, nil
		}
	}
	return nil, core.ErrFileNotFound
}

func (d *fakeDB) ListFiles(_ context.Context, userID, workspaceID string) ([]models.FileRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []models.FileRecord
	for _, f := range d.files {
		if f.UserID == userID && (workspaceID == "" || f.WorkspaceID == workspaceID) {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (d *fakeDB) DeleteFile(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.files[id]; !ok {
		return core.ErrFileNotFound
	}
	delete(d.files, id)
	return nil
}

func (d *fakeDB) MarkFileProcessing(context.Context, string) error { return nil }

func (d *fakeDB) MarkFileProcessed(context.Context, string, string, string, time.Time) error {
	return nil
}

func (d *fakeDB) MarkFileFailed(_ context.Context, id, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[id]
	if !ok {
		return core.ErrFileNotFound
	}
	f.Status = models.StatusFailed
	f.ErrorMessage = &reason
	return nil
}

func (d *fakeDB) ReplaceFileChunks(context.Context, string, []models.DocumentChunk) error {
	return nil
}

func (d *fakeDB) SearchChunks(context.Context, []float32, int, models.SearchScope) ([]models.DocumentChunk, error) {
	return nil, nil
}

func (d *fakeDB) DeleteFileChunks(_ context.Context, fileID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deleteChunksErr != nil {
		return d.deleteChunksErr
	}
	d.deletedChunks = append(d.deletedChunks, fileID)
	return nil
}

func (d *fakeDB) Ping(context.Context) error { return nil }
func (d *fakeDB) Close() error               { return nil }

func (d *fakeDB) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.files)
}

type fakeStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
	deleteErr error
}

func newFakeStorage() *fakeStorage { return &fakeStorage{objects: map[string][]byte{}} }

func (s *fakeStorage) UploadFile(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = b
	return nil
}

func (s *fakeStorage) GetFile(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return b, nil
}

func (s *fakeStorage) DeleteFile(_ context.Context, key string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

type fakeQueue struct {
	jobs []queue.Job
	err  error
}

func (q *fakeQueue) Name() string { return "file-ready" }

func (q *fakeQueue) Add(_ context.Context, name, payload string) (queue.Job, error) {
	if q.err != nil {
		return queue.Job{}, q.err
	}
	j := queue.Job{ID: "job-1", Queue: q.Name(), Name: name, Payload: payload, Attempts: 1}
	q.jobs = append(q.jobs, j)
	return j, nil
}

type fakeStore struct {
	searchFn  func(ctx context.Context, query string, k int) ([]models.VectorDocument, error)
	lastScope models.SearchScope
}

func (s *fakeStore) Index(context.Context, []models.VectorDocument) error { return nil }

func (s *fakeStore) Search(ctx context.Context, query string, k int, scope models.SearchScope) ([]models.VectorDocument, error) {
	s.lastScope = scope
	return s.searchFn(ctx, query, k)
}

type fakeLLM struct {
	name       string
	generateFn func(ctx context.Context, system, user string) (string, error)
	calls      int
	lastUser   string
}

func (l *fakeLLM) ModelName() string { return l.name }

func (l *fakeLLM) Generate(ctx context.Context, system, user string) (string, error) {
	l.calls++
	l.lastUser = user
	return l.generateFn(ctx, system, user)
}

func failingLLM(name string) *fakeLLM {
	return &fakeLLM{name: name, generateFn: func(context.Context, string, string) (string, error) {
		return "", errors.New(name + " unavailable")
	}}
}

func answeringLLM(name, answer string) *fakeLLM {
	return &fakeLLM{name: name, generateFn: func(context.Context, string, string) (string, error) {
		return answer, nil
	}}
}
