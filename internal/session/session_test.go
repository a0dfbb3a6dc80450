package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/redliner/internal/extract"
	"github.com/dgallion1/redliner/internal/markup"
	"github.com/dgallion1/redliner/internal/metrics"
	"github.com/dgallion1/redliner/internal/redline"
	"github.com/dgallion1/redliner/internal/storage"
	"github.com/dgallion1/redliner/internal/surface"
)

func foxDoc() *redline.Document {
	return redline.NewDocument("fox", "The quick brown fox.", redline.Metadata{FileName: "fox.txt", FileType: "txt"},
		[]redline.Suggestion{
			{ID: "s1", StartPos: 4, EndPos: 9, OriginalText: "quick", SuggestedText: "fast",
				Type: redline.TypeStyle, Severity: redline.SeverityMedium},
			{ID: "s2", StartPos: 16, EndPos: 19, OriginalText: "fox", SuggestedText: "dog",
				Type: redline.TypeGrammar, Severity: redline.SeverityLow},
			{ID: "s3", StartPos: 6, EndPos: 9, OriginalText: "ick", SuggestedText: "ack",
				Type: redline.TypeGrammar, Severity: redline.SeverityLow},
		})
}

func newManager(t *testing.T) (*Manager, storage.Repository) {
	t.Helper()
	repo, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	m := NewManager(markup.NewProjector(markup.DefaultPalette(), nil), repo, time.Hour, nil)
	t.Cleanup(m.Close)
	return m, repo
}

func TestSession_AcceptAndApply(t *testing.T) {
	m, repo := newManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, foxDoc())
	require.NoError(t, err)

	v := s.Render()
	assert.Contains(t, v.Markup, `<del class="redline-original">quick</del>`)
	assert.Contains(t, v.Markup, `<ins class="redline-suggested">fast</ins>`)
	assert.NotContains(t, v.Markup, ">ick<", "overlap loser is not projected")

	v, err = s.Accept(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, v.Metadata.AcceptedCount)
	assert.NotContains(t, v.Markup, "fast", "accepted suggestions leave the pending projection")

	n, v, err := s.ApplyAccepted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "The fast brown fox.", v.Content)

	stored, err := repo.Load(ctx, "fox")
	require.NoError(t, err)
	assert.Equal(t, "The fast brown fox.", stored.CurrentContent)
	assert.Equal(t, "The quick brown fox.", stored.OriginalContent)
}

func TestSession_ManualEditRemaps(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, foxDoc())
	require.NoError(t, err)

	res, v, err := s.Edit(ctx, 4, 9, "speedy")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delta)
	assert.ElementsMatch(t, []string{"s1", "s3"}, res.Invalidated)

	doc := s.Document()
	for _, sg := range doc.Suggestions {
		switch sg.ID {
		case "s2":
			assert.Equal(t, 17, sg.StartPos)
			assert.Equal(t, 20, sg.EndPos)
			assert.Equal(t, redline.StatusPending, sg.Status)
		default:
			assert.Equal(t, redline.StatusInvalidated, sg.Status)
		}
	}
	assert.Contains(t, v.Markup, "speedy")

	_, _, err = s.Edit(ctx, 50, 60, "x")
	assert.ErrorIs(t, err, redline.ErrInvalidEdit)
}

func TestSession_FilterAndNavigate(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, foxDoc())
	require.NoError(t, err)

	v, err := s.SetFilter(ctx, redline.Filter{Type: redline.TypeGrammar})
	require.NoError(t, err)
	for _, sg := range v.Suggestions {
		assert.Equal(t, redline.TypeGrammar, sg.Type)
	}
	assert.Len(t, v.Suggestions, 2)

	v, err = s.Navigate(ctx, redline.Next)
	require.NoError(t, err)
	assert.NotEmpty(t, v.State.SelectedSuggestionID)
	assert.Contains(t, v.Markup, markup.ClassSelected)

	_, err = s.Select(ctx, "missing")
	assert.ErrorIs(t, err, redline.ErrNotFound)
}

func TestSession_LiveSurfaceInput(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, foxDoc())
	require.NoError(t, err)

	sf, err := surface.NewHTMLSurface("")
	require.NoError(t, err)
	y := s.Attach(sf, surface.Options{TypingIdle: 50 * time.Millisecond})
	assert.True(t, s.Attached())
	assert.Equal(t, s.Render().Markup, sf.Markup())

	y.Input("The quick brown fox!")
	assert.Equal(t, "The quick brown fox!", s.Document().CurrentContent)
	assert.NotContains(t, sf.Markup(), "fox!", "update held back while typing")

	assert.Eventually(t, func() bool { return strings.Contains(sf.Markup(), "fox!") },
		time.Second, 10*time.Millisecond)
	assert.Contains(t, sf.Markup(), `data-suggestion-id="s1"`)

	s.Detach(y)
	assert.False(t, s.Attached())
}

func TestSession_TypingBurstProjectsOnce(t *testing.T) {
	m, _ := newManager(t)
	s, err := m.Create(context.Background(), foxDoc())
	require.NoError(t, err)

	sf, err := surface.NewHTMLSurface("")
	require.NoError(t, err)
	y := s.Attach(sf, surface.Options{TypingIdle: time.Second})
	defer s.Detach(y)

	renders := sf.Renders()
	projections := testutil.ToFloat64(metrics.Projections)

	text := "The quick brown fox."
	for range 10 {
		text += "!"
		y.Input(text)
		time.Sleep(15 * time.Millisecond)
	}
	assert.Equal(t, text, s.Document().CurrentContent, "input reaches the document at once")
	assert.Equal(t, projections, testutil.ToFloat64(metrics.Projections), "no projection while typing")
	assert.Equal(t, renders, sf.Renders())

	time.Sleep(1100 * time.Millisecond)
	assert.Equal(t, projections+1, testutil.ToFloat64(metrics.Projections), "one projection for the burst")
	assert.Equal(t, renders+1, sf.Renders())
	assert.Contains(t, sf.Markup(), "</span>.!!!!!!!!!!")
	assert.False(t, y.Typing())
}

func TestSession_DetachSavesUnprojectedInput(t *testing.T) {
	m, repo := newManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, foxDoc())
	require.NoError(t, err)

	sf, err := surface.NewHTMLSurface("")
	require.NoError(t, err)
	y := s.Attach(sf, surface.Options{TypingIdle: time.Hour})
	y.Input("The quick brown fox?")
	s.Detach(y)

	stored, err := repo.Load(ctx, "fox")
	require.NoError(t, err)
	assert.Equal(t, "The quick brown fox?", stored.CurrentContent)
}

func TestSession_ReloadKeepsLatest(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, foxDoc())
	require.NoError(t, err)

	ex := extract.Extractor{}
	first := s.Reload(ctx, ex, &extract.Source{FileName: "a.txt", Data: []byte("First version.")}, nil)
	second := s.Reload(ctx, ex, &extract.Source{FileName: "b.txt", Data: []byte("Second version.")},
		[]redline.Suggestion{{ID: "n1", StartPos: 0, EndPos: 6, OriginalText: "Second", SuggestedText: "2nd",
			Type: redline.TypeStyle, Severity: redline.SeverityLow}})

	<-first
	res := <-second
	assert.False(t, res.Superseded)
	assert.Equal(t, extract.TierFresh, res.Tier)

	doc := s.Document()
	assert.Equal(t, "Second version.", doc.OriginalContent)
	assert.Equal(t, "b.txt", doc.Metadata.FileName)
	require.Len(t, doc.Suggestions, 1)
	assert.Equal(t, redline.StatusPending, doc.Suggestions[0].Status)
	assert.Contains(t, doc.PositionMap, "p0")
}

func TestSession_ReloadFallsBackToCurrent(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	s, err := m.Create(ctx, foxDoc())
	require.NoError(t, err)

	res := <-s.Reload(ctx, extract.Extractor{}, &extract.Source{FileName: "a.bin", Data: []byte{0}}, nil)
	assert.Equal(t, extract.TierCurrent, res.Tier)
	assert.Equal(t, "The quick brown fox.", s.Document().CurrentContent)
}

type failingRepo struct{ storage.Repository }

func (failingRepo) Save(context.Context, *redline.Document) error { return errors.New("disk full") }

func TestSession_PersistFailureIsNotFatal(t *testing.T) {
	s := New(foxDoc(), markup.NewProjector(markup.DefaultPalette(), nil), failingRepo{}, nil)
	_, err := s.Accept(context.Background(), "s1")
	assert.NoError(t, err)
	assert.Equal(t, redline.StatusAccepted, s.Document().Suggestions[0].Status)
}

func TestManager_LazyLoadAndDelete(t *testing.T) {
	m, repo := newManager(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, foxDoc()))
	assert.Equal(t, 0, m.Len())

	s, err := m.Get(ctx, "fox")
	require.NoError(t, err)
	assert.Equal(t, "fox", s.ID())
	assert.Equal(t, 1, m.Len())

	again, err := m.Get(ctx, "fox")
	require.NoError(t, err)
	assert.Same(t, s, again)

	_, err = m.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Delete(ctx, "fox"))
	_, err = m.Get(ctx, "fox")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, "fox"), ErrNotFound)
}

func TestManager_CleanupKeepsAttached(t *testing.T) {
	m := NewManager(markup.NewProjector(markup.DefaultPalette(), nil), nil, time.Millisecond, nil)
	defer m.Close()
	ctx := context.Background()

	idle, err := m.Create(ctx, foxDoc())
	require.NoError(t, err)
	live := redline.NewDocument("live", "Live text.", redline.Metadata{}, nil)
	ls, err := m.Create(ctx, live)
	require.NoError(t, err)
	sf, err := surface.NewHTMLSurface("")
	require.NoError(t, err)
	ls.Attach(sf, surface.Options{})

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, m.Cleanup())
	assert.Equal(t, 1, m.Len())

	_, err = m.Get(ctx, idle.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := m.Get(ctx, "live")
	require.NoError(t, err)
	assert.Same(t, ls, got)
}
