// Package indexer ingests uploaded documents into the vector index: it converts
// or parses the file into units, chunks and embeds them, and upserts the chunks
// scoped to a reference set.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/hyperjump/refdesk/internal/config"
	"github.com/hyperjump/refdesk/internal/embedding"
	"github.com/hyperjump/refdesk/internal/extract"
	"github.com/hyperjump/refdesk/internal/fileid"
	"github.com/hyperjump/refdesk/internal/models"
	"github.com/hyperjump/refdesk/internal/records"
	"github.com/hyperjump/refdesk/internal/storage"
	"github.com/hyperjump/refdesk/internal/vector"
	"github.com/hyperjump/refdesk/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrReferenceSetNotFound is returned when ingesting into an unknown reference set.
var ErrReferenceSetNotFound = errors.New("reference set not found")

// Ingestion stages, reported by IngestError.
const (
	StageReceived   = "received"
	StageNormalized = "normalized"
	StageRecorded   = "recorded"
)

// IngestError is a document-level ingestion failure.
type IngestError struct {
	Stage    string
	Filename string
	Err      error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest %s failed at %s: %v", e.Filename, e.Stage, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// pinnedKeys are core metadata keys that extracted record fields never override.
var pinnedKeys = []string{vector.MetaReferenceSetID, vector.MetaText}

// Indexer runs the ingestion pipeline for one file at a time.
type Indexer struct {
	storage   storage.Storage
	embedder  embedding.Embedder
	gateway   *vector.Gateway
	converter extract.Converter
	chunker   *Chunker
	config    config.IngestConfig
	tempDir   string
	indexPath string
	logger    *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = utils.OrNop(l) }
}

// WithTempDir sets the directory uploads are spooled to. Defaults to os.TempDir().
func WithTempDir(dir string) IndexerOption {
	return func(idx *Indexer) { idx.tempDir = dir }
}

// WithIndexPath makes the indexer persist the vector index to path after each
// ingestion that produced records. Only backends keeping a local file are saved.
func WithIndexPath(path string) IndexerOption {
	return func(idx *Indexer) { idx.indexPath = path }
}

// NewIndexer creates an indexer. converter may be nil, in which case the local
// extract.Extractor is used.
func NewIndexer(
	store storage.Storage,
	embedder embedding.Embedder,
	gateway *vector.Gateway,
	converter extract.Converter,
	cfg config.IngestConfig,
	opts ...IndexerOption,
) *Indexer {
	if converter == nil {
		converter = extract.NewExtractor()
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 1
	}
	if cfg.MetadataPrecedence == "" {
		cfg.MetadataPrecedence = config.PrecedenceExtracted
	}
	idx := &Indexer{
		storage:   store,
		embedder:  embedder,
		gateway:   gateway,
		converter: converter,
		chunker:   NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		config:    cfg,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IngestFile spools r to a temporary file and ingests it into the reference set.
// The temporary file is removed before returning, on success and failure alike.
func (idx *Indexer) IngestFile(ctx context.Context, refSetID, filename string, r io.Reader) (*models.IngestStats, error) {
	filename = cleanFilename(filename)
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", models.ErrInvalidInput)
	}
	set, err := idx.referenceSet(ctx, refSetID)
	if err != nil {
		return nil, err
	}

	path, err := idx.spool(filename, r)
	if err != nil {
		return nil, &IngestError{Stage: StageReceived, Filename: filename, Err: err}
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			idx.logger.Warn("failed to remove upload spool", zap.String("path", path), zap.Error(err))
		}
	}()
	return idx.ingest(ctx, set, filename, path)
}

// IngestPath ingests a file already on disk. The file is left in place.
func (idx *Indexer) IngestPath(ctx context.Context, refSetID, path string) (*models.IngestStats, error) {
	filename := cleanFilename(path)
	if filename == "" {
		return nil, fmt.Errorf("%w: path is required", models.ErrInvalidInput)
	}
	set, err := idx.referenceSet(ctx, refSetID)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, &IngestError{Stage: StageReceived, Filename: filename, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &IngestError{Stage: StageReceived, Filename: filename, Err: fmt.Errorf("not a regular file: %s", path)}
	}
	return idx.ingest(ctx, set, filename, path)
}

func (idx *Indexer) referenceSet(ctx context.Context, id string) (*models.ReferenceSet, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: reference set id is required", models.ErrInvalidInput)
	}
	set, err := idx.storage.GetReferenceSet(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrReferenceSetNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reference set: %w", err)
	}
	return set, nil
}

func (idx *Indexer) spool(filename string, r io.Reader) (string, error) {
	dir := idx.tempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "upload-*"+strings.ToLower(filepath.Ext(filename)))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), nil
}

type chunkJob struct {
	unit  *models.Unit
	index int
	text  string
}

func (idx *Indexer) ingest(ctx context.Context, set *models.ReferenceSet, filename, path string) (*models.IngestStats, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	logger := idx.logger.With(zap.String("reference_set_id", set.ID), zap.String("filename", filename))
	logger.Debug("ingesting file", zap.String("path", path))

	units, skipped, err := idx.units(path, ext)
	if err != nil {
		return nil, &IngestError{Stage: StageNormalized, Filename: filename, Err: err}
	}
	for _, s := range skipped {
		logger.Warn("skipped record", zap.Int("line", s.Line), zap.String("reason", s.Reason))
	}

	stats := &models.IngestStats{
		Filename:       filename,
		FileType:       strings.TrimPrefix(ext, "."),
		RecordsSkipped: len(skipped),
		IndexAvailable: idx.gateway.Available(),
	}

	var jobs []chunkJob
	for _, u := range units {
		text := NormalizeText(u.Text)
		if text == "" {
			continue
		}
		stats.Pages++
		for i, c := range idx.chunker.Chunk(text) {
			if utf8.RuneCountInString(strings.TrimSpace(c)) < idx.config.MinChunkLength {
				continue
			}
			jobs = append(jobs, chunkJob{unit: u, index: i, text: c})
		}
	}

	recs, failed := idx.embed(ctx, set, filename, stats.FileType, jobs, logger)
	stats.Chunks = len(recs)
	stats.ChunksFailed = failed

	if len(recs) > 0 {
		report := idx.gateway.Upsert(ctx, recs)
		stats.Upserted = report.Upserted
		stats.BatchesFailed = report.Failed
		if report.Upserted > 0 && idx.indexPath != "" {
			if err := idx.gateway.Save(idx.indexPath); err != nil {
				logger.Warn("failed to persist vector index", zap.Error(err))
			}
		}
	}

	// The file counts as processed even when no chunk was embedded.
	if err := idx.storage.IncrementFileCount(context.WithoutCancel(ctx), set.ID); err != nil {
		return stats, &IngestError{Stage: StageRecorded, Filename: filename, Err: err}
	}

	logger.Info("file ingested",
		zap.Int("pages", stats.Pages),
		zap.Int("chunks", stats.Chunks),
		zap.Int("chunks_failed", stats.ChunksFailed),
		zap.Int("upserted", stats.Upserted),
		zap.Int("records_skipped", stats.RecordsSkipped),
		zap.Bool("index_available", stats.IndexAvailable),
	)
	return stats, nil
}

// units dispatches on extension: JSON Lines and JSON go through the record
// extractor, everything else through the converter.
func (idx *Indexer) units(path, ext string) ([]*models.Unit, []records.Skip, error) {
	switch ext {
	case ".jsonl":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		res, err := records.ExtractJSONL(f)
		if err != nil {
			return nil, nil, err
		}
		return res.Units, res.Skipped, nil
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		res, err := records.ExtractJSON(data)
		if err != nil {
			return nil, nil, err
		}
		return res.Units, res.Skipped, nil
	}

	doc, err := idx.converter.Convert(path)
	if err != nil {
		return nil, nil, err
	}
	if doc.Pages == nil {
		return []*models.Unit{{Number: 1, Text: doc.Markdown}}, nil, nil
	}
	units := make([]*models.Unit, 0, len(doc.Pages))
	for i, page := range doc.Pages {
		units = append(units, &models.Unit{Number: i + 1, Text: page})
	}
	return units, nil, nil
}

// embed embeds every job through a bounded pool. Failed chunks are logged and
// counted; the returned records keep job order.
func (idx *Indexer) embed(ctx context.Context, set *models.ReferenceSet, filename, fileType string, jobs []chunkJob, logger *zap.Logger) ([]vector.Record, int) {
	out := make([]*vector.Record, len(jobs))
	var failed atomic.Int32
	var eg errgroup.Group
	eg.SetLimit(idx.config.EmbedConcurrency)
	for i, job := range jobs {
		eg.Go(func() error {
			vec, err := idx.embedder.Embed(ctx, job.text)
			if err != nil {
				failed.Add(1)
				logger.Warn("chunk embedding failed",
					zap.Int("unit", job.unit.Number), zap.Int("chunk", job.index), zap.Error(err))
				return nil
			}
			out[i] = &vector.Record{
				ID:       fileid.ChunkID(set.ID, filename, job.unit.Number, job.index),
				Values:   vec,
				Metadata: idx.metadata(set, filename, fileType, job),
			}
			return nil
		})
	}
	_ = eg.Wait()

	recs := make([]vector.Record, 0, len(jobs))
	for _, r := range out {
		if r != nil {
			recs = append(recs, *r)
		}
	}
	return recs, int(failed.Load())
}

// metadata merges core chunk fields with the unit's extracted fields according
// to the configured precedence. reference_set_id and text always keep their core values.
func (idx *Indexer) metadata(set *models.ReferenceSet, filename, fileType string, job chunkJob) map[string]interface{} {
	core := map[string]interface{}{
		vector.MetaDomain:         set.Domain,
		vector.MetaReferenceSetID: set.ID,
		vector.MetaDocumentName:   filename,
		vector.MetaPageNumber:     job.unit.Number,
		vector.MetaChunkIndex:     job.index,
		vector.MetaText:           job.text,
		vector.MetaFileType:       fileType,
	}
	meta := make(map[string]interface{}, len(core)+len(job.unit.Metadata))
	if idx.config.MetadataPrecedence == config.PrecedenceCore {
		for k, v := range job.unit.Metadata {
			meta[k] = v
		}
		for k, v := range core {
			meta[k] = v
		}
		return meta
	}
	for k, v := range core {
		meta[k] = v
	}
	for k, v := range job.unit.Metadata {
		meta[k] = v
	}
	for _, k := range pinnedKeys {
		meta[k] = core[k]
	}
	return meta
}

// cleanFilename reduces a client-supplied name or path to its base name.
func cleanFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	base := filepath.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// Supported reports whether a file name's extension is in the allowed list.
// An empty list allows everything.
func Supported(filename string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	return extensionAllowed(filepath.Ext(filename), allowed)
}
