package surface

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/redliner/internal/markup"
	"github.com/dgallion1/redliner/internal/metrics"
)

// Outcome describes what Submit did with an update.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeQueued    Outcome = "queued"
	OutcomeStale     Outcome = "stale"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeFailed    Outcome = "failed"
)

// Options configures a Synchronizer.
type Options struct {
	// TypingIdle is how long input must be quiet before queued updates apply.
	TypingIdle time.Duration
	// CompositionDelay defers the change notification after a composition ends.
	CompositionDelay time.Duration
	// OnChange receives the surface text after user input. It is never called
	// while a composition is open.
	OnChange func(text string)
	// OnIdle runs in place of Flush when input goes idle, so the owner can
	// re-project once for a whole burst of input. It should end by submitting
	// or flushing.
	OnIdle func()
	Logger *slog.Logger
}

const (
	DefaultTypingIdle       = time.Second
	DefaultCompositionDelay = 10 * time.Millisecond
)

// Synchronizer applies projected markup to a live surface. Updates arriving
// while the user is typing or composing are held back; only the latest is
// kept and it is applied once input goes idle.
type Synchronizer struct {
	surface Surface
	opts    Options
	log     *slog.Logger

	// render serializes every write to the surface.
	render sync.Mutex

	mu        sync.Mutex
	latestGen uint64
	pending   *update
	typing    bool
	composing bool
	inputSeq  uint64
	timer     *time.Timer
	closed    bool
}

type update struct {
	gen    uint64
	markup string
}

func NewSynchronizer(s Surface, opts Options) *Synchronizer {
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = DefaultTypingIdle
	}
	if opts.CompositionDelay <= 0 {
		opts.CompositionDelay = DefaultCompositionDelay
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Synchronizer{surface: s, opts: opts, log: log}
}

// Surface returns the synchronized surface.
func (y *Synchronizer) Surface() Surface { return y.surface }

// Submit offers markup rendered for generation gen. Updates older than the
// newest seen generation are discarded.
func (y *Synchronizer) Submit(gen uint64, m string) Outcome {
	y.render.Lock()
	defer y.render.Unlock()

	y.mu.Lock()
	if y.closed || gen < y.latestGen {
		y.mu.Unlock()
		return y.count(OutcomeStale)
	}
	y.latestGen = gen
	if y.typing || y.composing {
		y.pending = &update{gen: gen, markup: m}
		y.mu.Unlock()
		y.log.Debug("surface update queued", "gen", gen)
		return y.count(OutcomeQueued)
	}
	y.pending = nil
	y.mu.Unlock()

	return y.count(y.replace(m))
}

// Input records a keystroke that left the surface showing text. It restarts
// the idle timer and, outside a composition, notifies OnChange.
func (y *Synchronizer) Input(text string) {
	y.mu.Lock()
	if y.closed {
		y.mu.Unlock()
		return
	}
	y.typing = true
	y.inputSeq++
	seq := y.inputSeq
	if y.timer != nil {
		y.timer.Stop()
	}
	y.timer = time.AfterFunc(y.opts.TypingIdle, func() { y.idle(seq) })
	notify := !y.composing && y.opts.OnChange != nil
	y.mu.Unlock()

	if notify {
		y.opts.OnChange(text)
	}
}

// CompositionStart opens a multi-keystroke input sequence.
func (y *Synchronizer) CompositionStart() {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.composing = true
}

// CompositionEnd closes the sequence. The committed text is reported as
// input after CompositionDelay.
func (y *Synchronizer) CompositionEnd(text string) {
	y.mu.Lock()
	y.composing = false
	closed := y.closed
	y.mu.Unlock()
	if closed {
		return
	}
	time.AfterFunc(y.opts.CompositionDelay, func() { y.Input(text) })
}

// Pending reports whether an update is waiting for input to go idle.
func (y *Synchronizer) Pending() bool {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.pending != nil
}

// Typing reports whether input is currently considered active.
func (y *Synchronizer) Typing() bool {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.typing
}

// Flush applies the pending update now if input is idle.
func (y *Synchronizer) Flush() Outcome {
	y.render.Lock()
	defer y.render.Unlock()

	y.mu.Lock()
	if y.typing || y.composing || y.pending == nil {
		y.mu.Unlock()
		return ""
	}
	p := y.pending
	y.pending = nil
	y.mu.Unlock()

	y.log.Debug("applying queued surface update", "gen", p.gen)
	return y.count(y.replace(p.markup))
}

// Close stops timers and ignores further updates.
func (y *Synchronizer) Close() {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.closed = true
	y.pending = nil
	if y.timer != nil {
		y.timer.Stop()
	}
}

func (y *Synchronizer) idle(seq uint64) {
	y.mu.Lock()
	if seq != y.inputSeq || y.closed {
		y.mu.Unlock()
		return
	}
	y.typing = false
	y.mu.Unlock()
	if y.opts.OnIdle != nil {
		y.opts.OnIdle()
		return
	}
	y.Flush()
}

// replace writes m to the surface. The caret is saved and restored only when
// the annotation markup changes; text-only updates leave it alone.
func (y *Synchronizer) replace(next string) Outcome {
	cur := y.surface.Markup()
	if markup.Normalize(cur) == markup.Normalize(next) {
		return OutcomeUnchanged
	}

	caret := -1
	if markup.Signature(cur) != markup.Signature(next) {
		caret = y.saveCaret()
	}

	if err := y.surface.SetMarkup(next); err != nil {
		y.log.Error("surface update failed", "error", err)
		return OutcomeFailed
	}

	if caret >= 0 {
		y.surface.AfterRender(func() { SetCaretOffset(y.surface, caret) })
	}
	return OutcomeApplied
}

func (y *Synchronizer) saveCaret() (offset int) {
	defer func() {
		if r := recover(); r != nil {
			y.log.Warn("caret save failed", "panic", r)
			offset = -1
		}
	}()
	if _, _, ok := y.surface.Selection(); !ok {
		return -1
	}
	return GetCaretOffset(y.surface)
}

func (y *Synchronizer) count(o Outcome) Outcome {
	metrics.SyncUpdates.WithLabelValues(string(o)).Inc()
	return o
}
