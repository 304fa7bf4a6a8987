package ingestion_engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/markdave123-py/knowledgehub/internal/core"
	"github.com/markdave123-py/knowledgehub/internal/core/queue"
	"github.com/markdave123-py/knowledgehub/internal/models"
)

var ingestionDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "kh_ingestion_duration_seconds",
		Help:    "Time to extract, chunk and index one file.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	},
	[]string{"result"},
)

// NewFileProcessor wires the pipeline. The same processor can serve any
// number of workers.
func NewFileProcessor(
	files core.FileRepository,
	obj core.ObjectClient,
	extractor core.DocumentExtractor,
	store core.VectorStore,
	cfg *IngestConfig,
	logger *slog.Logger,
) *FileProcessor {
	return &FileProcessor{
		files:     files,
		obj:       obj,
		extractor: extractor,
		store:     store,
		cfg:       cfg.withDefaults(),
		logger:    logger.With("component", "ingestion"),
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
}

// Handler adapts the processor to a queue worker.
func (p *FileProcessor) Handler() queue.Handler {
	return p.ProcessFileJob
}

// ProcessFileJob ingests the file named by a process-file job:
// UPLOADED -> PROCESSING -> PROCESSED, or FAILED with the error recorded.
//
// A redelivered job whose file has already been claimed is acknowledged
// without doing any work. The one exception is a job recovered from a
// crashed worker (Attempts > 1) whose file is still PROCESSING: that run
// never finished, so it is resumed.
func (p *FileProcessor) ProcessFileJob(ctx context.Context, job queue.Job) error {
	if job.Name != ProcessFileName {
		return fmt.Errorf("%w: unexpected job name %q", ErrInvalidJob, job.Name)
	}
	fj, err := DecodeFileJob(job.Payload)
	if err != nil {
		return err
	}

	// Read the record under the lock so the status check sees any run that
	// finished while this delivery waited.
	unlock := p.locks.lock(fj.Path)
	defer unlock()

	rec, err := p.files.GetFileByPath(ctx, fj.Path)
	if err != nil {
		return fmt.Errorf("look up %s: %w", fj.Path, err)
	}

	log := p.logger.With(
		slog.String("job_id", job.ID),
		slog.String("file_id", rec.ID),
		slog.String("path", fj.Path),
	)

	if err := p.files.MarkFileProcessing(ctx, rec.ID); err != nil {
		if !errors.Is(err, core.ErrStatusConflict) {
			return fmt.Errorf("claim file %s: %w", rec.ID, err)
		}
		if rec.Status != models.StatusProcessing || job.Attempts <= 1 {
			log.Info("duplicate delivery, file already claimed", slog.String("status", string(rec.Status)))
			return nil
		}
		log.Warn("resuming interrupted ingestion", slog.Int("attempts", job.Attempts))
	}

	start := time.Now()
	text, hash, chunks, err := p.ingest(ctx, rec)
	if err != nil {
		ingestionDuration.WithLabelValues("failed").Observe(time.Since(start).Seconds())
		p.markFailed(ctx, log, rec.ID, err)
		return fmt.Errorf("process file %s: %w", rec.ID, err)
	}

	if err := p.files.MarkFileProcessed(ctx, rec.ID, text, hash, p.now()); err != nil {
		ingestionDuration.WithLabelValues("failed").Observe(time.Since(start).Seconds())
		err = fmt.Errorf("mark processed: %w", err)
		p.markFailed(ctx, log, rec.ID, err)
		return fmt.Errorf("process file %s: %w", rec.ID, err)
	}

	ingestionDuration.WithLabelValues("processed").Observe(time.Since(start).Seconds())
	log.Info("file processed",
		slog.Int("chunks", chunks),
		slog.Int("chars", len(text)),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// markFailed records a terminal failure. The job context may already be
// done, so the write runs on a detached one.
func (p *FileProcessor) markFailed(ctx context.Context, log *slog.Logger, id string, cause error) {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.files.MarkFileFailed(mctx, id, cause.Error()); err != nil {
		log.Error("mark file failed", slog.Any("error", err))
	}
	log.Error("ingestion failed", slog.Any("error", cause))
}

// ingest loads, extracts, chunks and indexes one file.
func (p *FileProcessor) ingest(ctx context.Context, rec *models.FileRecord) (text, hash string, chunks int, err error) {
	data, err := p.obj.GetFile(ctx, rec.FilePath)
	if err != nil {
		return "", "", 0, fmt.Errorf("load %s: %w", rec.FilePath, err)
	}
	sum := sha256.Sum256(data)
	hash = hex.EncodeToString(sum[:])

	text, err = p.extractor.Extract(ctx, data, rec.MimeType)
	if err != nil {
		return "", "", 0, err
	}

	parts, err := SplitText(ctx, text, p.cfg.TargetTokens, p.cfg.OverlapTokens)
	if err != nil {
		return "", "", 0, fmt.Errorf("chunk: %w", err)
	}

	source := rec.OriginalName
	if source == "" {
		source = rec.Filename
	}
	docs := make([]models.VectorDocument, 0, len(parts))
	for _, c := range parts {
		docs = append(docs, models.VectorDocument{
			Content: c.Text,
			Metadata: map[string]string{
				models.MetaFileID:     rec.ID,
				models.MetaSource:     source,
				models.MetaPosition:   strconv.Itoa(c.Pos),
				models.MetaTokenCount: strconv.Itoa(c.TokenCnt),
			},
		})
	}

	if err := p.store.Index(ctx, docs); err != nil {
		return "", "", 0, fmt.Errorf("index: %w", err)
	}
	return text, hash, len(docs), nil
}

// keyedMutex serialises work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
