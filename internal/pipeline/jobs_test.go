package pipeline

import (
	"testing"
	"time"
)

func TestJob_Lifecycle(t *testing.T) {
	job := NewJob("lease.txt", "Lease", "doc-1", []byte("The tenant pays."))
	if snap := job.Snapshot(); snap.Status != StatusQueued || snap.Stage != StageQueued {
		t.Fatalf("new job should be queued, got %s/%s", snap.Status, snap.Stage)
	}

	stages := []Stage{StageExtracting, StageChunking, StageAnalyzing, StageRegistering}
	for _, stage := range stages {
		before := job.Snapshot().UpdatedAt
		time.Sleep(time.Millisecond)
		job.enter(stage)

		snap := job.Snapshot()
		if snap.Status != StatusRunning || snap.Stage != stage {
			t.Errorf("expected running/%s, got %s/%s", stage, snap.Status, snap.Stage)
		}
		if !snap.UpdatedAt.After(before) {
			t.Errorf("expected UpdatedAt to advance entering %s", stage)
		}
	}

	job.finish(4, false)
	snap := job.Snapshot()
	if snap.Status != StatusReady || snap.Stage != StageDone || snap.Progress.Suggestions != 4 {
		t.Errorf("unexpected finished job %+v", snap)
	}
}

func TestJob_FinishPartial(t *testing.T) {
	job := NewJob("a.txt", "", "", nil)
	job.noteError("chunk 2: malformed response")
	job.finish(1, true)
	snap := job.Snapshot()
	if snap.Status != StatusPartial {
		t.Errorf("expected partial, got %s", snap.Status)
	}
	if len(snap.Progress.Errors) != 1 {
		t.Errorf("expected the chunk error kept, got %v", snap.Progress.Errors)
	}
}

func TestJob_FailKeepsStage(t *testing.T) {
	job := NewJob("a.txt", "", "", nil)
	job.enter(StageAnalyzing)
	job.fail("")
	job.enter(StageRegistering)
	job.fail("register: disk full")

	snap := job.Snapshot()
	if snap.Status != StatusFailed || snap.Stage != StageRegistering {
		t.Errorf("expected failed at registering, got %s/%s", snap.Status, snap.Stage)
	}
	if len(snap.Progress.Errors) != 1 || snap.Progress.Errors[0] != "register: disk full" {
		t.Errorf("an empty message must not be recorded, got %v", snap.Progress.Errors)
	}
}

func TestJob_ExtractedReleasesUpload(t *testing.T) {
	job := NewJob("a.txt", "", "", []byte("raw bytes"))
	if string(job.upload()) != "raw bytes" {
		t.Fatalf("expected upload kept until extraction, got %q", job.upload())
	}

	h1 := job.extracted("hello world")
	// SHA-256 of "hello world" is well-known.
	if want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"; h1 != want {
		t.Errorf("expected snapshot hash %q, got %q", want, h1)
	}
	if job.upload() != nil {
		t.Error("expected upload released")
	}
	if got := job.Snapshot().Progress.ContentBytes; got != len("hello world") {
		t.Errorf("expected content bytes recorded, got %d", got)
	}
	if h2 := NewJob("b.txt", "", "", nil).extracted("hello world!"); h2 == h1 {
		t.Error("expected different snapshots to hash differently")
	}
}

func TestJob_ChunkProgress(t *testing.T) {
	job := NewJob("a.txt", "", "", nil)
	job.chunked(3)
	job.chunkAnalyzed(5)
	job.chunkAnalyzed(0)

	p := job.Snapshot().Progress
	if p.Chunks != 3 || p.ChunksAnalyzed != 2 || p.Proposals != 5 {
		t.Errorf("unexpected progress %+v", p)
	}
}

func TestJob_SnapshotIsACopy(t *testing.T) {
	job := NewJob("a.txt", "", "", nil)
	snap := job.Snapshot()
	if snap.Progress.Errors == nil || len(snap.Progress.Errors) != 0 {
		t.Errorf("expected empty non-nil errors, got %#v", snap.Progress.Errors)
	}

	job.noteError("first")
	snap = job.Snapshot()
	snap.Progress.Errors[0] = "changed"
	if job.Snapshot().Progress.Errors[0] != "first" {
		t.Error("snapshot errors must not alias the job")
	}
}

func TestJobStore_PutGet(t *testing.T) {
	store := NewJobStore(time.Hour)
	job := NewJob("a.txt", "", "", nil)
	store.Put(job)

	if got := store.Get(job.ID); got != job {
		t.Fatalf("expected to get job back, got %v", got)
	}
	if store.Get("nonexistent") != nil {
		t.Error("expected nil for missing job")
	}
}

func TestJobStore_CleanupOnlyFinished(t *testing.T) {
	store := NewJobStore(50 * time.Millisecond)

	finished := NewJob("old.txt", "", "", nil)
	finished.finish(0, false)
	running := NewJob("slow.txt", "", "", nil)
	running.enter(StageAnalyzing)
	store.Put(finished)
	store.Put(running)

	time.Sleep(100 * time.Millisecond)
	fresh := NewJob("new.txt", "", "", nil)
	fresh.finish(0, false)
	store.Put(fresh)

	store.Cleanup()

	if store.Get(finished.ID) != nil {
		t.Error("expected expired finished job to be cleaned up")
	}
	if store.Get(running.ID) == nil {
		t.Error("a job still running must survive cleanup")
	}
	if store.Get(fresh.ID) == nil {
		t.Error("expected fresh job to survive cleanup")
	}
}

func TestJobStore_Reviewing(t *testing.T) {
	store := NewJobStore(time.Hour)

	done := NewJob("a.txt", "", "doc-1", nil)
	done.extracted("same text")
	done.finish(2, false)
	running := NewJob("b.txt", "", "doc-2", nil)
	other := running.extracted("other text")
	running.enter(StageAnalyzing)
	failed := NewJob("c.txt", "", "doc-3", nil)
	failed.extracted("failed text")
	failed.fail("boom")
	for _, j := range []*Job{done, running, failed} {
		store.Put(j)
	}

	incoming := NewJob("d.txt", "", "doc-4", nil)
	snapshot := incoming.extracted("same text")

	if got := store.Reviewing(snapshot, incoming.ID); got != "doc-1" {
		t.Errorf("expected doc-1, got %q", got)
	}
	if got := store.Reviewing(snapshot, done.ID); got != "" {
		t.Errorf("a job must not match itself, got %q", got)
	}
	if got := store.Reviewing(other, ""); got != "" {
		t.Errorf("unfinished jobs must not match, got %q", got)
	}
	if got := store.Reviewing(failed.extracted("failed text"), ""); got != "" {
		t.Errorf("failed jobs left nothing to review, got %q", got)
	}
	if got := store.Reviewing("", ""); got != "" {
		t.Errorf("empty snapshot must not match, got %q", got)
	}
}

func TestJobStatus_Done(t *testing.T) {
	for _, s := range []JobStatus{StatusQueued, StatusRunning} {
		if s.Done() {
			t.Errorf("%s is in flight", s)
		}
	}
	for _, s := range []JobStatus{StatusReady, StatusPartial, StatusFailed, StatusDuplicate} {
		if !s.Done() {
			t.Errorf("%s is terminal", s)
		}
	}
}
