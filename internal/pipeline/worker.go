package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/redliner/internal/analyze"
	"github.com/dgallion1/redliner/internal/chunker"
	"github.com/dgallion1/redliner/internal/doctree"
	"github.com/dgallion1/redliner/internal/extract"
	"github.com/dgallion1/redliner/internal/parser"
	"github.com/dgallion1/redliner/internal/redline"
)

// Sink receives analyzed documents. The document carries the exact content
// snapshot its suggestions reference.
type Sink interface {
	Register(ctx context.Context, doc *redline.Document) error
}

// NewJob creates a queued job for an uploaded file. An empty docID is
// generated.
func NewJob(filename, title, docID string, data []byte) *Job {
	now := time.Now()
	if docID == "" {
		docID = redline.NewID()
	}
	return &Job{
		ID:        uuid.NewString(),
		DocID:     docID,
		Filename:  filename,
		Title:     title,
		status:    StatusQueued,
		stage:     StageQueued,
		file:      data,
		createdAt: now,
		updatedAt: now,
	}
}

// Worker processes a single document job.
type Worker struct {
	analyzer  analyze.Analyzer
	sink      Sink
	extractor extract.Extractor
	jobs      *JobStore
	log       *slog.Logger
	chunkCfg  chunker.Config
	backoff   func(int) time.Duration

	maxConcurrentAnalyze int
}

func NewWorker(analyzer analyze.Analyzer, sink Sink, extractor extract.Extractor, jobs *JobStore, log *slog.Logger, chunkCfg chunker.Config, maxAnalyze int) *Worker {
	if maxAnalyze <= 0 {
		maxAnalyze = 1
	}
	return &Worker{
		analyzer:             analyzer,
		sink:                 sink,
		extractor:            extractor,
		jobs:                 jobs,
		log:                  log,
		chunkCfg:             chunkCfg,
		backoff:              Backoff,
		maxConcurrentAnalyze: maxAnalyze,
	}
}

// Process turns the job's upload into a registered document. Suggestions
// reference the exact content extracted here.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "doc_id", job.DocID)

	job.enter(StageExtracting)
	flat, err := w.extractor.Extract(ctx, extract.Source{FileName: job.Filename, Data: job.upload()})
	if err != nil {
		log.Error("extraction failed", "error", err)
		job.fail(fmt.Sprintf("extract: %s", err))
		return
	}
	snapshot := job.extracted(flat.Content)

	if w.jobs != nil {
		if existing := w.jobs.Reviewing(snapshot, job.ID); existing != "" {
			log.Info("snapshot already under review", "existing_doc_id", existing)
			job.markDuplicate(existing)
			return
		}
	}

	job.enter(StageChunking)
	chunks := chunker.Chunk(flat, w.chunkCfg)
	job.chunked(len(chunks))
	log.Info("chunked document", "chunks", len(chunks), "bytes", len(flat.Content))
	if len(chunks) == 0 {
		job.fail("no reviewable content")
		return
	}

	job.enter(StageAnalyzing)
	title := job.Title
	if title == "" {
		title = job.Filename
	}

	type chunkResult struct {
		suggestions []redline.Suggestion
		err         error
		idx         int
	}
	results := make(chan chunkResult, len(chunks))
	sem := make(chan struct{}, w.maxConcurrentAnalyze)

	for i, chunk := range chunks {
		sem <- struct{}{}
		go func(i int, chunk doctree.Chunk) {
			defer func() { <-sem }()
			var found []redline.Suggestion
			var lastErr error
			for attempt := range MaxRetries {
				found, lastErr = w.analyzer.Analyze(ctx, title, chunk)
				if !IsRetryable(lastErr) {
					break
				}
				log.Warn("retryable analysis error", "chunk", i, "attempt", attempt, "error", lastErr)
				select {
				case <-time.After(w.backoff(attempt)):
				case <-ctx.Done():
					results <- chunkResult{err: ctx.Err(), idx: i}
					return
				}
			}
			results <- chunkResult{suggestions: found, err: lastErr, idx: i}
		}(i, chunk)
	}

	// Collect in chunk order so merging is deterministic.
	byChunk := make([][]redline.Suggestion, len(chunks))
	failed := 0
	for range chunks {
		r := <-results
		if r.err != nil {
			log.Error("analysis failed", "chunk", r.idx, "error", r.err)
			job.noteError(fmt.Sprintf("chunk %d: %s", r.idx, r.err))
			failed++
			continue
		}
		job.chunkAnalyzed(len(r.suggestions))
		byChunk[r.idx] = r.suggestions
	}

	var all []redline.Suggestion
	for _, ss := range byChunk {
		all = analyze.Merge(all, ss)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].StartPos < all[j].StartPos })
	log.Info("analysis complete", "unique", len(all), "failed_chunks", failed)

	if failed == len(chunks) {
		job.fail("")
		return
	}

	job.enter(StageRegistering)
	doc := redline.NewDocument(job.DocID, flat.Content, redline.Metadata{
		FileName: job.Filename,
		FileType: parser.FileType(job.Filename),
	}, all)
	doc.PositionMap = flat.Anchors()

	if err := w.sink.Register(ctx, doc); err != nil {
		log.Error("register document failed", "error", err)
		job.fail(fmt.Sprintf("register: %s", err))
		return
	}
	job.finish(len(all), failed > 0)
}
