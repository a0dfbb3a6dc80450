package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/redliner/internal/analyze"
	"github.com/dgallion1/redliner/internal/config"
	"github.com/dgallion1/redliner/internal/export"
	"github.com/dgallion1/redliner/internal/markup"
	"github.com/dgallion1/redliner/internal/pipeline"
	"github.com/dgallion1/redliner/internal/redline"
	"github.com/dgallion1/redliner/internal/session"
	"github.com/dgallion1/redliner/internal/storage"
	"github.com/dgallion1/redliner/internal/surface"
)

const testKey = "secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		RedlineAPIKey:        testKey,
		MaxUploadBytes:       1 << 20,
		WorkerCount:          1,
		MaxQueueSize:         4,
		MaxConcurrentAnalyze: 1,
		ChunkSize:            200,
		ChunkOverlap:         20,
		JobTTL:               time.Hour,
		TypingIdle:           30 * time.Millisecond,
		CompositionDelay:     5 * time.Millisecond,
	}
	log := slog.New(slog.DiscardHandler)

	repo, err := storage.Open(":memory:")
	require.NoError(t, err)
	proj := markup.NewProjector(markup.DefaultPalette(), log)
	sessions := session.NewManager(proj, repo, time.Hour, log)

	orch := pipeline.NewOrchestrator(cfg, analyze.RuleAnalyzer{}, sessions, log)
	orch.Start(context.Background())

	srv := NewServer(orch, sessions, repo, export.Exporter{Projector: proj, Log: log}, nil, log, cfg)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		orch.Stop()
		sessions.Close()
		repo.Close()
	})
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func foxRequest() map[string]any {
	return map[string]any{
		"id":        "fox",
		"content":   "The quick brown fox.",
		"file_name": "fox.txt",
		"suggestions": []map[string]any{
			{"id": "s1", "start_pos": 4, "end_pos": 9, "original_text": "quick", "suggested_text": "fast",
				"type": "style", "severity": "medium", "explanation": "Shorter."},
			{"id": "s2", "start_pos": 16, "end_pos": 19, "original_text": "fox", "suggested_text": "dog",
				"type": "grammar", "severity": "low"},
		},
	}
}

func createFox(t *testing.T, ts *httptest.Server) session.View {
	t.Helper()
	resp := do(t, ts, http.MethodPost, "/api/documents", foxRequest())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[session.View](t, resp)
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, true, health["persistent"])

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/documents")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/documents", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestReviewFlow(t *testing.T) {
	ts := newTestServer(t)

	view := createFox(t, ts)
	assert.Contains(t, view.Markup, "<del")
	assert.Len(t, view.Suggestions, 2)

	resp := do(t, ts, http.MethodPost, "/api/documents/fox/suggestions/s1/accept", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view = decodeBody[session.View](t, resp)
	assert.Equal(t, 1, view.Metadata.AcceptedCount)

	resp = do(t, ts, http.MethodPut, "/api/documents/fox/suggestions/s2", map[string]string{"suggested_text": "cat"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view = decodeBody[session.View](t, resp)
	s2 := findSuggestion(t, view, "s2")
	assert.Equal(t, "cat", s2.SuggestedText)
	assert.Equal(t, redline.StatusModified, s2.Status)

	resp = do(t, ts, http.MethodGet, "/api/documents/fox/export?format=txt", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "fox.redline.txt")
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "The fast brown cat.", string(body), "modified text is written like an accepted one")

	resp = do(t, ts, http.MethodPost, "/api/documents/fox/apply", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	applied := decodeBody[struct {
		Applied int          `json:"applied"`
		View    session.View `json:"view"`
	}](t, resp)
	assert.Equal(t, 2, applied.Applied)
	assert.Equal(t, "The fast brown cat.", applied.View.Content)

	resp = do(t, ts, http.MethodPost, "/api/documents/fox/suggestions/s1/reject", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "applied suggestions cannot change")
}

func TestRejectIsTerminal(t *testing.T) {
	ts := newTestServer(t)
	createFox(t, ts)

	resp := do(t, ts, http.MethodPost, "/api/documents/fox/suggestions/s2/reject", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, ts, http.MethodPost, "/api/documents/fox/suggestions/s2/accept", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, ts, http.MethodPost, "/api/documents/fox/suggestions/missing/accept", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEditAndNavigation(t *testing.T) {
	ts := newTestServer(t)
	createFox(t, ts)

	resp := do(t, ts, http.MethodPost, "/api/documents/fox/edits", map[string]any{"start_pos": 4, "end_pos": 9, "text": "speedy"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	edited := decodeBody[struct {
		Edit redline.EditResult `json:"edit"`
		View session.View       `json:"view"`
	}](t, resp)
	assert.Equal(t, []string{"s1"}, edited.Edit.Invalidated)
	assert.Equal(t, "The speedy brown fox.", edited.View.Content)
	assert.Equal(t, redline.StatusInvalidated, findSuggestion(t, edited.View, "s1").Status)
	assert.Equal(t, 17, findSuggestion(t, edited.View, "s2").StartPos)

	resp = do(t, ts, http.MethodPost, "/api/documents/fox/edits", map[string]any{"start_pos": 0, "end_pos": 999, "text": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, ts, http.MethodPost, "/api/documents/fox/navigate", map[string]string{"direction": "next"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decodeBody[session.View](t, resp)
	assert.Equal(t, "s2", view.State.SelectedSuggestionID)

	resp = do(t, ts, http.MethodPut, "/api/documents/fox/filter", map[string]string{"type": "legal"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view = decodeBody[session.View](t, resp)
	assert.Empty(t, view.Suggestions)

	resp = do(t, ts, http.MethodPost, "/api/documents/fox/navigate", map[string]string{"direction": "sideways"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func findSuggestion(t *testing.T, v session.View, id string) redline.Suggestion {
	t.Helper()
	for _, s := range v.Suggestions {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("suggestion %s not in view", id)
	return redline.Suggestion{}
}

func TestCreateValidation(t *testing.T) {
	ts := newTestServer(t)

	req := foxRequest()
	req["suggestions"].([]map[string]any)[0]["type"] = "bogus"
	resp := do(t, ts, http.MethodPost, "/api/documents", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req = foxRequest()
	req["suggestions"].([]map[string]any)[1]["end_pos"] = 10
	resp = do(t, ts, http.MethodPost, "/api/documents", req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "end before start")

	resp = do(t, ts, http.MethodPost, "/api/documents", map[string]any{"content": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListGetDelete(t *testing.T) {
	ts := newTestServer(t)
	createFox(t, ts)

	resp := do(t, ts, http.MethodGet, "/api/documents", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[struct {
		Documents []storage.Summary `json:"documents"`
	}](t, resp)
	require.Len(t, list.Documents, 1)
	assert.Equal(t, 2, list.Documents[0].Suggestions)

	resp = do(t, ts, http.MethodGet, "/api/documents/fox", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decodeBody[redline.Document](t, resp)
	assert.Equal(t, "The quick brown fox.", doc.OriginalContent)

	resp = do(t, ts, http.MethodDelete, "/api/documents/fox", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, ts, http.MethodGet, "/api/documents/fox/projection", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExportFormats(t *testing.T) {
	ts := newTestServer(t)
	createFox(t, ts)

	for _, f := range []string{"html", "diff", "docx", "json"} {
		resp := do(t, ts, http.MethodGet, "/api/documents/fox/export?format="+f, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, f)
	}
	resp := do(t, ts, http.MethodGet, "/api/documents/fox/export?format=rtf", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLLMStatsUnavailableWithoutClaude(t *testing.T) {
	ts := newTestServer(t)
	resp := do(t, ts, http.MethodGet, "/api/stats/llm", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func upload(t *testing.T, ts *httptest.Server, path, field, filename, content string, extra map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range extra {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		io.WriteString(fw, content)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestIngestToReview(t *testing.T) {
	ts := newTestServer(t)

	resp := upload(t, ts, "/api/ingest", "file", "memo.txt", "We will utilize the the tools prior to launch.", map[string]string{"doc_id": "memo"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	accepted := decodeBody[map[string]any](t, resp)
	jobID := accepted["job_id"].(string)
	assert.Equal(t, "memo", accepted["doc_id"])

	require.Eventually(t, func() bool {
		resp := do(t, ts, http.MethodGet, "/api/ingest/"+jobID+"/status", nil)
		status := decodeBody[map[string]any](t, resp)
		return status["status"] == string(pipeline.StatusReady)
	}, 5*time.Second, 20*time.Millisecond)

	resp = do(t, ts, http.MethodGet, "/api/documents/memo/projection", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decodeBody[session.View](t, resp)
	assert.Equal(t, "We will utilize the the tools prior to launch.", view.Content)
	assert.GreaterOrEqual(t, len(view.Suggestions), 3)

	resp = upload(t, ts, "/api/ingest", "file", "memo.exe", "x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = upload(t, ts, "/api/ingest", "file", "memo.txt", "x", map[string]string{"doc_id": "a/b"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, ts, http.MethodGet, "/api/ingest/nope/status", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBatchIngest(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range map[string]string{"a.txt": "Utilize it.", "b.exe": "x"} {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		io.WriteString(fw, content)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/ingest/batch", &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body struct {
		Jobs []map[string]any `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Jobs, 2)
	byName := map[string]map[string]any{}
	for _, j := range body.Jobs {
		byName[j["filename"].(string)] = j
	}
	assert.NotEmpty(t, byName["a.txt"]["job_id"])
	assert.Contains(t, byName["b.exe"]["error"], "unsupported file type")
}

func TestReloadWithoutFileKeepsContent(t *testing.T) {
	ts := newTestServer(t)
	createFox(t, ts)

	fresh := `[{"start_pos":10,"end_pos":15,"original_text":"brown","suggested_text":"red","type":"style","severity":"low"}]`
	resp := upload(t, ts, "/api/documents/fox/reload", "file", "", "", map[string]string{"suggestions": fresh})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[struct {
		Tier string       `json:"tier"`
		View session.View `json:"view"`
	}](t, resp)
	assert.Equal(t, "current", out.Tier)
	require.Len(t, out.View.Suggestions, 1)
	assert.Equal(t, "red", out.View.Suggestions[0].SuggestedText)

	resp = upload(t, ts, "/api/documents/fox/reload", "file", "fox.txt", "The quick red fox.", map[string]string{"suggestions": "[]"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out = decodeBody[struct {
		Tier string       `json:"tier"`
		View session.View `json:"view"`
	}](t, resp)
	assert.Equal(t, "fresh", out.Tier)
	assert.Equal(t, "The quick red fox.", out.View.Content)
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) surface.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg surface.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func liveURL(ts *httptest.Server, docID string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/documents/" + docID + "/live?access_token=" + testKey
}

func TestLiveSurface_TypingInsideSuggestion(t *testing.T) {
	ts := newTestServer(t)
	createFox(t, ts)

	conn, _, err := websocket.DefaultDialer.Dial(liveURL(ts, "fox"), nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readUntil(t, conn, surface.MsgRender)
	typed := strings.Replace(first.Markup, ">fast</ins>", ">fastest</ins>", 1)
	require.NotEqual(t, first.Markup, typed)
	require.NoError(t, conn.WriteJSON(surface.Message{Type: surface.MsgInput, Markup: typed}))

	require.Eventually(t, func() bool {
		resp := do(t, ts, http.MethodGet, "/api/documents/fox", nil)
		doc := decodeBody[redline.Document](t, resp)
		for _, s := range doc.Suggestions {
			if s.ID == "s1" {
				return s.Status == redline.StatusModified && s.SuggestedText == "fastest"
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	after := readUntil(t, conn, surface.MsgRender)
	assert.NotContains(t, after.Markup, `data-suggestion-id="s1"`)
	assert.Contains(t, after.Markup, `data-suggestion-id="s2"`)

	resp := do(t, ts, http.MethodGet, "/api/documents/fox/export?format=txt", nil)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "The fastest brown fox.", string(body))
}

func TestLiveSurface_UnkeepableEditResyncs(t *testing.T) {
	ts := newTestServer(t)
	createFox(t, ts)

	conn, _, err := websocket.DefaultDialer.Dial(liveURL(ts, "fox"), nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readUntil(t, conn, surface.MsgRender)
	// Removing the suggested side entirely leaves nothing to write it to.
	dropped := strings.Replace(first.Markup, `<ins class="redline-suggested">fast</ins>`, "", 1)
	require.NotEqual(t, first.Markup, dropped)
	require.NoError(t, conn.WriteJSON(surface.Message{Type: surface.MsgInput, Markup: dropped}))

	again := readUntil(t, conn, surface.MsgRender)
	assert.Contains(t, again.Markup, ">fast</ins>")
}

func TestLiveSurface(t *testing.T) {
	ts := newTestServer(t)
	createFox(t, ts)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/documents/fox/live?access_token=" + testKey
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readUntil(t, conn, surface.MsgRender)
	assert.Contains(t, first.Markup, "fast")

	require.NoError(t, conn.WriteJSON(surface.Message{Type: surface.MsgAccept, ID: "s1"}))
	next := readUntil(t, conn, surface.MsgRender)
	assert.NotContains(t, next.Markup, "fast")

	require.NoError(t, conn.WriteJSON(surface.Message{Type: "shout"}))
	bad := readUntil(t, conn, surface.MsgError)
	assert.Contains(t, bad.Error, "unknown message type")

	require.NoError(t, conn.WriteJSON(surface.Message{Type: surface.MsgInput, Text: "The quick brown fox!"}))
	require.Eventually(t, func() bool {
		resp := do(t, ts, http.MethodGet, "/api/documents/fox", nil)
		doc := decodeBody[redline.Document](t, resp)
		return doc.CurrentContent == "The quick brown fox!"
	}, 3*time.Second, 20*time.Millisecond)

	after := readUntil(t, conn, surface.MsgRender)
	assert.Contains(t, after.Markup, "!")
}
