// Package extract turns source artifacts into base content for review and
// degrades through a fallback chain when extraction fails.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/redliner/internal/doctree"
	"github.com/dgallion1/redliner/internal/metrics"
	"github.com/dgallion1/redliner/internal/parser"
)

// Placeholder is shown when no tier yields content.
const Placeholder = "[content unavailable]"

// Tier names the source that supplied base content.
type Tier string

const (
	TierFresh       Tier = "fresh"
	TierCurrent     Tier = "current"
	TierOriginal    Tier = "original"
	TierPlaceholder Tier = "placeholder"
)

// ErrEmpty is returned when extraction succeeds but yields no text.
var ErrEmpty = errors.New("extraction produced no text")

// Source is an uploaded artifact.
type Source struct {
	FileName string
	Data     []byte
}

// Extractor parses sources with a deadline.
type Extractor struct {
	Options parser.Options
	Timeout time.Duration
}

// Extract parses src into flattened content. Parsing runs in its own
// goroutine so a cancelled ctx returns promptly even if a parser does not.
func (e Extractor) Extract(ctx context.Context, src Source) (doctree.Flat, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	type result struct {
		flat doctree.Flat
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("parser panic: %v", r)}
			}
		}()
		flat, err := parser.Text(src.FileName, bytes.NewReader(src.Data), e.Options)
		done <- result{flat: flat, err: err}
	}()

	select {
	case <-ctx.Done():
		return doctree.Flat{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return doctree.Flat{}, r.err
		}
		if r.flat.Content == "" {
			return doctree.Flat{}, ErrEmpty
		}
		return r.flat, nil
	}
}

// Result is the outcome of the fallback chain.
type Result struct {
	Content string
	Tier    Tier
	// Anchors is set only for fresh extractions.
	Anchors map[string]int
}

// FreshFunc produces content from the source artifact.
type FreshFunc func(ctx context.Context) (doctree.Flat, error)

// Resolve walks the chain fresh extraction, current content, original
// content, placeholder and returns the first tier that yields text. Every
// fallback is logged. It never fails.
func Resolve(ctx context.Context, log *slog.Logger, fresh FreshFunc, current, original string) Result {
	if log == nil {
		log = slog.Default()
	}
	res := resolve(ctx, log, fresh, current, original)
	metrics.ExtractionTier.WithLabelValues(string(res.Tier)).Inc()
	return res
}

func resolve(ctx context.Context, log *slog.Logger, fresh FreshFunc, current, original string) Result {
	if fresh != nil {
		flat, err := fresh(ctx)
		if err == nil && flat.Content != "" {
			return Result{Content: flat.Content, Tier: TierFresh, Anchors: flat.Anchors()}
		}
		if err == nil {
			err = ErrEmpty
		}
		log.Warn("fresh extraction failed, falling back", "error", err)
	}
	if current != "" {
		log.Info("using current content", "tier", TierCurrent)
		return Result{Content: current, Tier: TierCurrent}
	}
	if original != "" {
		log.Warn("current content empty, using original content", "tier", TierOriginal)
		return Result{Content: original, Tier: TierOriginal}
	}
	log.Error("no content available, using placeholder", "tier", TierPlaceholder)
	return Result{Content: Placeholder, Tier: TierPlaceholder}
}
