package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/redliner/internal/analyze"
	"github.com/dgallion1/redliner/internal/chunker"
	"github.com/dgallion1/redliner/internal/config"
	"github.com/dgallion1/redliner/internal/extract"
	"github.com/dgallion1/redliner/internal/parser"
)

var (
	ErrQueueFull = errors.New("ingest queue is full")
	ErrStopped   = errors.New("ingest pipeline stopped")
)

// Orchestrator runs ingestion jobs on a fixed pool of workers fed by a
// bounded queue.
type Orchestrator struct {
	jobs     *JobStore
	queue    chan *Job
	analyzer analyze.Analyzer
	sink     Sink
	log      *slog.Logger
	cfg      config.Config
	chunkCfg chunker.Config

	// backoff is swapped in tests.
	backoff func(int) time.Duration

	mu      sync.RWMutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator creates the pipeline. Call Start to launch workers.
func NewOrchestrator(cfg config.Config, analyzer analyze.Analyzer, sink Sink, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:     NewJobStore(cfg.JobTTL),
		queue:    make(chan *Job, cfg.MaxQueueSize),
		analyzer: analyzer,
		sink:     sink,
		log:      log,
		cfg:      cfg,
		chunkCfg: chunker.Config{
			ChunkSize:    cfg.ChunkSize,
			ChunkOverlap: cfg.ChunkOverlap,
		},
		backoff: Backoff,
	}
}

// Start launches the workers and the job cleanup loop.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	extractor := extract.Extractor{
		Options: parser.Options{PDFFallbackPdftotext: o.cfg.PDFFallbackPdftotext},
		Timeout: o.cfg.ExtractTimeout,
	}

	for i := range o.cfg.WorkerCount {
		w := NewWorker(o.analyzer, o.sink, extractor, o.jobs, o.log.With("worker", i), o.chunkCfg, o.cfg.MaxConcurrentAnalyze)
		w.backoff = o.backoff
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for job := range o.queue {
				if workerCtx.Err() != nil {
					job.fail("pipeline stopped")
					continue
				}
				w.Process(workerCtx, job)
			}
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(cleanupInterval(o.cfg.JobTTL))
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > 5*time.Minute {
		return 5 * time.Minute
	}
	return ttl
}

// Stop cancels in-flight jobs, fails queued ones and waits for the workers.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	close(o.queue)
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Submit registers job and queues it without blocking.
func (o *Orchestrator) Submit(job *Job) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.stopped {
		return ErrStopped
	}
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.fail(ErrQueueFull.Error())
		return ErrQueueFull
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns the number of jobs waiting for a worker.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}
