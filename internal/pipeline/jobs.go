package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// JobStatus is the outcome-level state of an ingestion job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusReady     JobStatus = "ready"
	StatusPartial   JobStatus = "partial"
	StatusFailed    JobStatus = "failed"
	StatusDuplicate JobStatus = "duplicate"
)

// Done reports whether the job has stopped processing.
func (s JobStatus) Done() bool {
	switch s {
	case StatusReady, StatusPartial, StatusFailed, StatusDuplicate:
		return true
	}
	return false
}

// reviewable reports whether the job left a document open for review.
func (s JobStatus) reviewable() bool {
	return s == StatusReady || s == StatusPartial
}

// Stage is the step a job is in, or the step it stopped at.
type Stage string

const (
	StageQueued      Stage = "queued"
	StageExtracting  Stage = "extracting"
	StageChunking    Stage = "chunking"
	StageAnalyzing   Stage = "analyzing"
	StageRegistering Stage = "registering"
	StageDone        Stage = "done"
)

// Job turns one uploaded file into a document open for review.
type Job struct {
	mu sync.Mutex

	ID       string
	DocID    string
	Filename string
	Title    string

	status    JobStatus
	stage     Stage
	progress  Progress
	snapshot  string // hash of the extracted content
	duplicate string // document already holding the same snapshot
	file      []byte
	createdAt time.Time
	updatedAt time.Time
}

// Progress counts what a job has produced so far.
type Progress struct {
	ContentBytes   int      `json:"content_bytes"`
	Chunks         int      `json:"chunks"`
	ChunksAnalyzed int      `json:"chunks_analyzed"`
	Proposals      int      `json:"proposals"`
	Suggestions    int      `json:"suggestions"`
	Errors         []string `json:"errors"`
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	DocID       string    `json:"doc_id"`
	Status      JobStatus `json:"status"`
	Stage       Stage     `json:"stage"`
	Filename    string    `json:"filename"`
	Title       string    `json:"title,omitempty"`
	DuplicateOf string    `json:"duplicate_of,omitempty"`
	Progress    Progress  `json:"progress"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (j *Job) update(fn func(j *Job)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn(j)
	j.updatedAt = time.Now()
}

func (j *Job) enter(stage Stage) {
	j.update(func(j *Job) {
		j.status = StatusRunning
		j.stage = stage
	})
}

// fail stops the job at its current stage.
func (j *Job) fail(msg string) {
	j.update(func(j *Job) {
		j.status = StatusFailed
		if msg != "" {
			j.progress.Errors = append(j.progress.Errors, msg)
		}
	})
}

func (j *Job) noteError(msg string) {
	j.update(func(j *Job) { j.progress.Errors = append(j.progress.Errors, msg) })
}

// extracted records the content the suggestions will reference and drops the
// upload, which is no longer needed.
func (j *Job) extracted(content string) string {
	sum := sha256.Sum256([]byte(content))
	h := hex.EncodeToString(sum[:])
	j.update(func(j *Job) {
		j.snapshot = h
		j.progress.ContentBytes = len(content)
		j.file = nil
	})
	return h
}

func (j *Job) chunked(n int) {
	j.update(func(j *Job) { j.progress.Chunks = n })
}

func (j *Job) chunkAnalyzed(proposals int) {
	j.update(func(j *Job) {
		j.progress.ChunksAnalyzed++
		j.progress.Proposals += proposals
	})
}

func (j *Job) markDuplicate(docID string) {
	j.update(func(j *Job) {
		j.status = StatusDuplicate
		j.stage = StageDone
		j.duplicate = docID
	})
}

func (j *Job) finish(suggestions int, partial bool) {
	j.update(func(j *Job) {
		j.progress.Suggestions = suggestions
		j.stage = StageDone
		j.status = StatusReady
		if partial {
			j.status = StatusPartial
		}
	})
}

func (j *Job) upload() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	p := j.progress
	p.Errors = append([]string{}, j.progress.Errors...)
	return JobSnapshot{
		ID:          j.ID,
		DocID:       j.DocID,
		Status:      j.status,
		Stage:       j.stage,
		Filename:    j.Filename,
		Title:       j.Title,
		DuplicateOf: j.duplicate,
		Progress:    p,
		CreatedAt:   j.createdAt,
		UpdatedAt:   j.updatedAt,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Reviewing returns the document of another finished job that extracted the
// same snapshot, or "".
func (s *JobStore) Reviewing(snapshot, exceptJobID string) string {
	if snapshot == "" {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, job := range s.jobs {
		if id == exceptJobID {
			continue
		}
		job.mu.Lock()
		match := job.status.reviewable() && job.snapshot == snapshot
		docID := job.DocID
		job.mu.Unlock()
		if match {
			return docID
		}
	}
	return ""
}

// Cleanup removes jobs that finished more than ttl ago.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		snap := job.Snapshot()
		if snap.Status.Done() && now.Sub(snap.UpdatedAt) > s.ttl {
			delete(s.jobs, id)
		}
	}
}
