package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/openscribe/backend/services/transcription/engine"
	"github.com/openscribe/backend/services/transcription/entity"
	"github.com/openscribe/backend/services/transcription/session"
	"github.com/openscribe/backend/services/transcription/storage"
	"github.com/openscribe/backend/services/transcription/usecase"

	_ "modernc.org/sqlite"
)

type fakeReviewer struct {
	text string
	err  error
}

func (r *fakeReviewer) Review(ctx context.Context, text string, action entity.ReviewAction) (string, error) {
	return r.text, r.err
}

func (r *fakeReviewer) SuggestTitle(ctx context.Context, content string) (string, error) {
	return "Suggested", r.err
}

type fakeMedia struct{}

func (m *fakeMedia) Probe(ctx context.Context, path string) (float64, error) { return 3.0, nil }
func (m *fakeMedia) Remux(ctx context.Context, in, out string) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}
func (m *fakeMedia) Concat(ctx context.Context, first, second, out string) error { return nil }
func (m *fakeMedia) ExtractWAV(ctx context.Context, in, out, channel string) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0o644)
}

func newTestServer(t *testing.T) (*httptest.Server, *engine.Stub) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	stub := engine.NewStub()
	stub.TranscribeFunc = func(ctx context.Context, wavPath string, language *string) ([]entity.Segment, error) {
		return []entity.Segment{{Text: "hello from the stub"}}, nil
	}
	media := &fakeMedia{}
	audioDir := t.TempDir()

	usc := usecase.New(storage.New(db, "sqlite"), stub, media, &fakeReviewer{text: "Reviewed."}, audioDir)
	srv := New(usc, stub, media, session.Config{
		InferenceInterval: time.Hour,
		AudioDir:          audioDir,
		AudioURLPrefix:    "/api/v1/audio/",
	}, nil)

	router := chi.NewRouter()
	srv.RegisterRoutes(router)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts, stub
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestTranscriptionCRUD(t *testing.T) {
	ts, _ := newTestServer(t)
	base := ts.URL + "/api/v1/transcriptions"

	resp, created := doJSON(t, http.MethodPost, base+"/", map[string]any{
		"title":   "Standup",
		"content": "we synced on progress",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %v", resp.StatusCode, created)
	}
	id := created["id"].(string)

	resp, got := doJSON(t, http.MethodGet, base+"/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	if got["current_content"] != "we synced on progress" {
		t.Errorf("content = %v", got["current_content"])
	}

	resp, patched := doJSON(t, http.MethodPatch, base+"/"+id, map[string]any{
		"content":     "we synced on progress and blockers",
		"is_reviewed": true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d: %v", resp.StatusCode, patched)
	}
	if patched["is_reviewed"] != true {
		t.Errorf("is_reviewed = %v", patched["is_reviewed"])
	}

	resp, history := doJSON(t, http.MethodGet, base+"/"+id+"/history", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d", resp.StatusCode)
	}
	diffs := history["diffs"].([]any)
	if len(diffs) != 1 {
		t.Fatalf("diffs = %d, want 1", len(diffs))
	}
	first := diffs[0].(map[string]any)
	if first["content_at_version"] != "we synced on progress" {
		t.Errorf("diff content = %v", first["content_at_version"])
	}

	resp, _ = doJSON(t, http.MethodDelete, base+"/"+id+"?reason=test+cleanup", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, base+"/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", resp.StatusCode)
	}

	resp, deleted := doJSON(t, http.MethodGet, base+"/deleted", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list deleted status = %d", resp.StatusCode)
	}
	if rows := deleted["deleted"].([]any); len(rows) != 1 {
		t.Fatalf("deleted rows = %d", len(rows))
	}

	resp, restored := doJSON(t, http.MethodPost, base+"/deleted/"+id+"/restore", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("restore status = %d: %v", resp.StatusCode, restored)
	}
	if restored["current_content"] != "we synced on progress and blockers" {
		t.Errorf("restored content = %v", restored["current_content"])
	}
}

func TestCreateValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/v1/transcriptions/", map[string]any{
		"title": "No content",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetInvalidID(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/v1/transcriptions/not-a-uuid", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListPagination(t *testing.T) {
	ts, _ := newTestServer(t)
	base := ts.URL + "/api/v1/transcriptions"

	for i := 0; i < 3; i++ {
		resp, _ := doJSON(t, http.MethodPost, base+"/", map[string]any{
			"title":   fmt.Sprintf("Recording %d", i),
			"content": "content",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create status = %d", resp.StatusCode)
		}
	}

	resp, page := doJSON(t, http.MethodGet, base+"/?page=1&page_size=2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	if page["total"].(float64) != 3 {
		t.Errorf("total = %v", page["total"])
	}
	if items := page["transcriptions"].([]any); len(items) != 2 {
		t.Errorf("page items = %d", len(items))
	}
}

func TestReviewEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/transcriptions/review", map[string]any{
		"text":   "fixd text",
		"action": "fix_grammar",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %v", resp.StatusCode, body)
	}
	if body["text"] != "Reviewed." {
		t.Errorf("text = %v", body["text"])
	}
}

func TestReviewUnknownAction(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/v1/transcriptions/review", map[string]any{
		"text":   "text",
		"action": "make_it_rhyme",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSummariesEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	base := ts.URL + "/api/v1/transcriptions"

	if resp, _ := doJSON(t, http.MethodPost, base+"/", map[string]any{
		"title": "One", "content": "some content here",
	}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create failed")
	}

	resp, body := doJSON(t, http.MethodGet, base+"/summaries", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if items := body["summaries"].([]any); len(items) != 1 {
		t.Errorf("summaries = %d", len(items))
	}
}

func TestHealthCheck(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/health", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != true {
		t.Fatalf("health = %d %v", resp.StatusCode, body)
	}
}
