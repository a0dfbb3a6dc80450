// Package session owns a reviewed document at runtime. A Session wires the
// lifecycle controller, projector, persistence and an optional live surface
// together, and re-projects after every mutation. Input typed on the live
// surface is projected once per burst, when input goes idle.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/redliner/internal/doctree"
	"github.com/dgallion1/redliner/internal/extract"
	"github.com/dgallion1/redliner/internal/markup"
	"github.com/dgallion1/redliner/internal/parser"
	"github.com/dgallion1/redliner/internal/redline"
	"github.com/dgallion1/redliner/internal/storage"
	"github.com/dgallion1/redliner/internal/surface"
)

// View is one projection of the document.
type View struct {
	Generation  uint64               `json:"generation"`
	Markup      string               `json:"markup"`
	Content     string               `json:"content"`
	Suggestions []redline.Suggestion `json:"suggestions"`
	State       redline.RedlineState `json:"state"`
	Metadata    redline.Metadata     `json:"metadata"`
}

// Session serializes all work on one document.
type Session struct {
	id   string
	ctrl *redline.Controller
	proj *markup.Projector
	repo storage.Repository
	log  *slog.Logger

	mu       sync.Mutex
	gen      uint64
	sync     *surface.Synchronizer
	lastUsed time.Time
	// dirty is set when surface input changed the content while the user
	// was typing and no projection has been made since.
	dirty bool

	reloadMu     sync.Mutex
	reloadSeq    uint64
	reloadCancel context.CancelFunc
}

// New wraps doc. repo may be nil, in which case nothing is persisted.
func New(doc *redline.Document, proj *markup.Projector, repo storage.Repository, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("doc_id", doc.ID)
	return &Session{
		id:       doc.ID,
		ctrl:     redline.NewController(doc, log),
		proj:     proj,
		repo:     repo,
		log:      log,
		lastUsed: time.Now(),
	}
}

// ID returns the document ID.
func (s *Session) ID() string { return s.id }

// Document returns a copy of the document.
func (s *Session) Document() *redline.Document {
	s.touch()
	return s.ctrl.Snapshot()
}

// Render projects the current content with the filtered pending suggestions.
func (s *Session) Render() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = time.Now()
	return s.renderLocked()
}

func (s *Session) renderLocked() View {
	content, candidates, selected := s.ctrl.Projectable()
	valid := redline.Resolve(content, candidates, s.log)
	s.gen++
	doc := s.ctrl.Snapshot()
	return View{
		Generation:  s.gen,
		Markup:      s.proj.Project(content, valid, selected),
		Content:     content,
		Suggestions: s.ctrl.Visible(),
		State:       s.ctrl.State(),
		Metadata:    doc.Metadata,
	}
}

// Accept marks a suggestion accepted.
func (s *Session) Accept(ctx context.Context, id string) (View, error) {
	return s.mutate(ctx, func() error { return s.ctrl.Accept(id) })
}

// Reject marks a suggestion rejected.
func (s *Session) Reject(ctx context.Context, id string) (View, error) {
	return s.mutate(ctx, func() error { return s.ctrl.Reject(id) })
}

// Modify replaces a suggestion's suggested text.
func (s *Session) Modify(ctx context.Context, id, text string) (View, error) {
	return s.mutate(ctx, func() error { return s.ctrl.Modify(id, text) })
}

// Select marks the reviewer's current suggestion.
func (s *Session) Select(ctx context.Context, id string) (View, error) {
	return s.refresh(ctx, s.ctrl.Select(id), false)
}

// Navigate moves the selection over the filtered pending suggestions.
func (s *Session) Navigate(ctx context.Context, dir redline.Direction) (View, error) {
	s.ctrl.Navigate(dir)
	return s.refresh(ctx, nil, false)
}

// SetFilter changes which suggestions are visible.
func (s *Session) SetFilter(ctx context.Context, f redline.Filter) (View, error) {
	s.ctrl.SetFilter(f)
	return s.refresh(ctx, nil, false)
}

// Edit applies a manual edit of [start, end) with text.
func (s *Session) Edit(ctx context.Context, start, end int, text string) (redline.EditResult, View, error) {
	var res redline.EditResult
	v, err := s.mutate(ctx, func() error {
		var err error
		res, err = s.ctrl.ApplyEdit(start, end, text)
		return err
	})
	return res, v, err
}

// ApplyAccepted writes accepted and modified suggestions into the current content.
func (s *Session) ApplyAccepted(ctx context.Context) (int, View, error) {
	var n int
	v, err := s.mutate(ctx, func() error {
		var err error
		n, err = s.ctrl.ApplyAccepted()
		return err
	})
	return n, v, err
}

// HandleInput reconciles the document with text read back from a surface,
// in the original view. While the attached surface is typing, the edit is
// applied without re-projecting; the burst is projected once when input goes
// idle.
func (s *Session) HandleInput(text string) {
	res, changed, err := s.ctrl.ApplyInput(text)
	if err != nil {
		s.log.Warn("surface input rejected", "error", err)
		return
	}
	if !changed {
		return
	}
	if len(res.Invalidated) > 0 {
		s.log.Info("input invalidated suggestions", "ids", res.Invalidated)
	}

	s.mu.Lock()
	s.lastUsed = time.Now()
	deferred := s.sync != nil && s.sync.Typing()
	if deferred {
		s.dirty = true
	}
	s.mu.Unlock()
	if deferred {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = s.refresh(ctx, nil, true)
}

// Resync re-projects and submits the result to the attached surface, for when
// the surface shows an edit the document could not take.
func (s *Session) Resync(ctx context.Context) {
	_, _ = s.refresh(ctx, nil, false)
}

// settle runs when input on y goes idle.
func (s *Session) settle(y *surface.Synchronizer) {
	s.mu.Lock()
	owed := s.dirty && s.sync == y
	if owed {
		s.dirty = false
	}
	s.mu.Unlock()
	if !owed {
		y.Flush()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = s.refresh(ctx, nil, true)
}

// settleDetached saves input that arrived after the last projection when the
// surface goes away before input went idle.
func (s *Session) settleDetached(owed bool) {
	if !owed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.persist(ctx)
}

func (s *Session) mutate(ctx context.Context, fn func() error) (View, error) {
	return s.refresh(ctx, fn(), true)
}

// refresh re-projects, pushes the result to the attached surface and,
// when persist is set, saves the document. Persistence failures are logged.
func (s *Session) refresh(ctx context.Context, opErr error, persist bool) (View, error) {
	if opErr != nil {
		return View{}, opErr
	}
	s.mu.Lock()
	s.lastUsed = time.Now()
	v := s.renderLocked()
	y := s.sync
	// This projection covers any input still waiting for idle.
	if s.dirty {
		s.dirty = false
		persist = true
	}
	s.mu.Unlock()

	if y != nil {
		y.Submit(v.Generation, v.Markup)
	}
	if persist {
		s.persist(ctx)
	}
	return v, nil
}

func (s *Session) persist(ctx context.Context) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Save(ctx, s.ctrl.Snapshot()); err != nil {
		s.log.Error("persist document failed", "error", err)
	}
}

// Attach connects a live surface. Input reported to the returned
// synchronizer flows back into the document. Any previous surface is closed.
func (s *Session) Attach(sf surface.Surface, opts surface.Options) *surface.Synchronizer {
	if opts.Logger == nil {
		opts.Logger = s.log
	}
	opts.OnChange = s.HandleInput
	var y *surface.Synchronizer
	opts.OnIdle = func() { s.settle(y) }
	y = surface.NewSynchronizer(sf, opts)

	s.mu.Lock()
	prev := s.sync
	s.sync = y
	owed := s.dirty
	s.dirty = false
	v := s.renderLocked()
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	s.settleDetached(owed)
	y.Submit(v.Generation, v.Markup)
	return y
}

// Detach disconnects y if it is still the attached surface.
func (s *Session) Detach(y *surface.Synchronizer) {
	s.mu.Lock()
	owed := false
	if s.sync == y {
		s.sync = nil
		owed, s.dirty = s.dirty, false
	}
	s.lastUsed = time.Now()
	s.mu.Unlock()
	y.Close()
	s.settleDetached(owed)
}

// Attached reports whether a live surface is connected.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sync != nil
}

// ReloadResult reports how a reload finished.
type ReloadResult struct {
	Tier extract.Tier
	// Superseded is set when a newer reload replaced this one.
	Superseded bool
}

// Reload re-extracts the base content from src and replaces the document
// with it and suggestions, which must reference that content. A newer Reload
// cancels this one and its result is discarded. src may be nil to fall back
// to the stored content.
func (s *Session) Reload(ctx context.Context, ex extract.Extractor, src *extract.Source, suggestions []redline.Suggestion) <-chan ReloadResult {
	s.reloadMu.Lock()
	if s.reloadCancel != nil {
		s.reloadCancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.reloadSeq++
	seq := s.reloadSeq
	s.reloadCancel = cancel
	s.reloadMu.Unlock()

	out := make(chan ReloadResult, 1)
	go func() {
		defer close(out)
		defer cancel()

		var fresh extract.FreshFunc
		if src != nil {
			fresh = func(ctx context.Context) (doctree.Flat, error) { return ex.Extract(ctx, *src) }
		}
		doc := s.ctrl.Snapshot()
		res := extract.Resolve(ctx, s.log, fresh, doc.CurrentContent, doc.OriginalContent)

		meta := doc.Metadata
		meta.AcceptedCount, meta.RejectedCount = 0, 0
		if src != nil {
			meta.FileName = src.FileName
			meta.FileType = parser.FileType(src.FileName)
		}
		next := redline.NewDocument(s.id, res.Content, meta, suggestions)
		next.PositionMap = res.Anchors
		next.CreatedAt = doc.CreatedAt

		// The check and the swap happen together so an older reload can
		// never overwrite a newer one.
		s.reloadMu.Lock()
		current := seq == s.reloadSeq && ctx.Err() == nil
		if current {
			s.reloadCancel = nil
			s.ctrl.Replace(next)
		}
		s.reloadMu.Unlock()
		if !current {
			s.log.Info("discarding superseded reload", "seq", seq)
			out <- ReloadResult{Tier: res.Tier, Superseded: true}
			return
		}
		s.log.Info("document reloaded", "tier", res.Tier, "suggestions", len(suggestions))

		pctx, pcancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer pcancel()
		_, _ = s.refresh(pctx, nil, true)
		out <- ReloadResult{Tier: res.Tier}
	}()
	return out
}

// Close stops any reload and detaches the surface.
func (s *Session) Close() {
	s.reloadMu.Lock()
	if s.reloadCancel != nil {
		s.reloadCancel()
	}
	s.reloadMu.Unlock()

	s.mu.Lock()
	y := s.sync
	s.sync = nil
	owed := s.dirty
	s.dirty = false
	s.mu.Unlock()
	if y != nil {
		y.Close()
	}
	s.settleDetached(owed)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}
