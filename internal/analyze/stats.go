package analyze

import (
	"errors"
	"math"
	"slices"
	"sync"
	"time"
)

// CallOutcome classifies one analyzer call.
type CallOutcome string

const (
	OutcomeOK        CallOutcome = "ok"
	OutcomeRetryable CallOutcome = "retryable"
	OutcomeMalformed CallOutcome = "malformed"
	OutcomeFailed    CallOutcome = "failed"
)

func outcomeOf(err error) CallOutcome {
	var retryErr *RetryableError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &retryErr):
		return OutcomeRetryable
	case errors.Is(err, ErrMalformed):
		return OutcomeMalformed
	}
	return OutcomeFailed
}

type call struct {
	at        time.Time
	latency   time.Duration
	outcome   CallOutcome
	proposals int
}

// StatsSnapshot aggregates the calls still inside the window.
type StatsSnapshot struct {
	Window           string              `json:"window"`
	Calls            int                 `json:"calls"`
	Outcomes         map[CallOutcome]int `json:"outcomes"`
	Proposals        int                 `json:"proposals"`
	ProposalsPerCall float64             `json:"proposals_per_call"`
	MinMs            int64               `json:"min_ms"`
	MaxMs            int64               `json:"max_ms"`
	P50Ms            int64               `json:"p50_ms"`
	P95Ms            int64               `json:"p95_ms"`
}

// LLMStats keeps analyzer calls from a rolling window.
type LLMStats struct {
	mu     sync.Mutex
	calls  []call
	window time.Duration
}

func NewLLMStats(window time.Duration) *LLMStats {
	if window <= 0 {
		window = time.Hour
	}
	return &LLMStats{window: window}
}

// Record adds one call. proposals counts what a successful call returned.
func (s *LLMStats) Record(latency time.Duration, proposals int, err error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	s.calls = append(s.calls, call{
		at:        now,
		latency:   max(latency, 0),
		outcome:   outcomeOf(err),
		proposals: proposals,
	})
}

func (s *LLMStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	s.pruneLocked(time.Now())
	calls := slices.Clone(s.calls)
	s.mu.Unlock()

	snap := StatsSnapshot{
		Window:   s.window.String(),
		Calls:    len(calls),
		Outcomes: map[CallOutcome]int{},
	}
	if len(calls) == 0 {
		return snap
	}
	ms := make([]int64, len(calls))
	ok := 0
	for i, c := range calls {
		ms[i] = c.latency.Milliseconds()
		snap.Outcomes[c.outcome]++
		if c.outcome == OutcomeOK {
			ok++
			snap.Proposals += c.proposals
		}
	}
	if ok > 0 {
		snap.ProposalsPerCall = float64(snap.Proposals) / float64(ok)
	}
	slices.Sort(ms)
	snap.MinMs, snap.MaxMs = ms[0], ms[len(ms)-1]
	snap.P50Ms = nearestRank(ms, 50)
	snap.P95Ms = nearestRank(ms, 95)
	return snap
}

func (s *LLMStats) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.calls) && s.calls[i].at.Before(cutoff) {
		i++
	}
	s.calls = s.calls[i:]
}

// nearestRank returns the pct-th percentile of sorted values.
func nearestRank(sorted []int64, pct float64) int64 {
	rank := int(math.Ceil(pct/100*float64(len(sorted)))) - 1
	return sorted[min(max(rank, 0), len(sorted)-1)]
}
