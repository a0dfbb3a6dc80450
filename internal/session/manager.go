package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/redliner/internal/markup"
	"github.com/dgallion1/redliner/internal/redline"
	"github.com/dgallion1/redliner/internal/storage"
)

// ErrNotFound is returned when no session or stored document has the ID.
var ErrNotFound = errors.New("document not found")

// Manager is a thread-safe registry of sessions. Sessions are loaded from
// the repository on first use and evicted after sitting idle for the TTL.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration

	proj *markup.Projector
	repo storage.Repository
	log  *slog.Logger
}

func NewManager(proj *markup.Projector, repo storage.Repository, ttl time.Duration, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		proj:     proj,
		repo:     repo,
		log:      log,
	}
}

// Create registers doc and persists it. The document must carry the exact
// content its suggestions were produced against.
func (m *Manager) Create(ctx context.Context, doc *redline.Document) (*Session, error) {
	if m.repo != nil {
		if err := m.repo.Save(ctx, doc); err != nil {
			return nil, fmt.Errorf("save document: %w", err)
		}
	}
	s := New(doc, m.proj, m.repo, m.log)

	m.mu.Lock()
	prev := m.sessions[doc.ID]
	m.sessions[doc.ID] = s
	m.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	m.log.Info("document registered", "doc_id", doc.ID, "suggestions", len(doc.Suggestions))
	return s, nil
}

// Register implements the ingest pipeline's sink.
func (m *Manager) Register(ctx context.Context, doc *redline.Document) error {
	_, err := m.Create(ctx, doc)
	return err
}

// Get returns the session for id, loading it from the repository if needed.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	s := m.sessions[id]
	m.mu.Unlock()
	if s != nil {
		return s, nil
	}
	if m.repo == nil {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}

	doc, err := m.repo.Load(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another caller may have loaded it meanwhile.
	if s := m.sessions[id]; s != nil {
		return s, nil
	}
	s = New(doc, m.proj, m.repo, m.log)
	m.sessions[id] = s
	return s, nil
}

// Delete closes the session and removes the stored document.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	s := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if s != nil {
		s.Close()
	}
	if m.repo == nil {
		if s == nil {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil
	}
	if err := m.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if s != nil {
				return nil
			}
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return err
	}
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Cleanup evicts sessions idle longer than the TTL. Sessions with a live
// surface attached are kept.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	now := time.Now()
	var evicted []*Session
	for id, s := range m.sessions {
		if s.Attached() || now.Sub(s.idleSince()) <= m.ttl {
			continue
		}
		delete(m.sessions, id)
		evicted = append(evicted, s)
	}
	m.mu.Unlock()

	for _, s := range evicted {
		s.Close()
	}
	if len(evicted) > 0 {
		m.log.Debug("evicted idle sessions", "count", len(evicted))
	}
	return len(evicted)
}

// Run evicts idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
