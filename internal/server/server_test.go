package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avolkov/personaclone/internal/artifacts"
	"github.com/avolkov/personaclone/internal/config"
	"github.com/avolkov/personaclone/internal/db"
	"github.com/avolkov/personaclone/internal/session"
	"github.com/avolkov/personaclone/internal/styleprofile"
)

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, req session.Request) (string, error) {
	return "echo: " + req.Incoming, nil
}

// echoFactory resolves the latest artifact but always generates echoes.
type echoFactory struct {
	store *artifacts.Store
}

func (f *echoFactory) LatestHash(ctx context.Context, userID string) (string, error) {
	artifact, err := f.store.Latest(ctx, userID)
	if err != nil {
		return "", session.ErrNoArtifact
	}
	return artifact.ContentHash, nil
}

func (f *echoFactory) Build(ctx context.Context, userID string) (session.Generator, *styleprofile.Profile, string, error) {
	artifact, err := f.store.Latest(ctx, userID)
	if err != nil {
		return nil, nil, "", session.ErrNoArtifact
	}
	profile, err := f.store.LoadProfile(artifact)
	if err != nil {
		return nil, nil, "", err
	}
	return echoGenerator{}, profile, artifact.ContentHash, nil
}

func setupServer(t *testing.T, withArtifact bool) *Server {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := &config.Config{TargetUser: "alice"}
	cfg.Serving = config.ServingConfig{
		MaxContextTurns:     10,
		StyleDriftThreshold: 0,
		GenerationTimeout:   time.Second,
	}

	artifactStore := artifacts.NewStore(database, t.TempDir())
	if withArtifact {
		profile := &styleprofile.Profile{
			UserID:      "alice",
			SampleCount: 60,
			Vector:      []styleprofile.Feature{{Name: styleprofile.FeatureMeanLength, Score: 0.2}},
			TopWords:    []string{"dinner", "tonight"},
		}
		if _, err := artifactStore.Put(context.Background(), []byte("checkpoint"), profile, "base", "job-1"); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	sessionStore := session.NewStore(database)
	manager := session.NewManager(cfg.Serving, sessionStore, &echoFactory{store: artifactStore})
	t.Cleanup(manager.Stop)

	return New(cfg, manager, sessionStore, artifactStore)
}

func TestHealthCheck(t *testing.T) {
	srv := setupServer(t, false)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", body["status"])
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := setupServer(t, false)

	req := httptest.NewRequest("OPTIONS", "/healthz", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected CORS Allow-Origin header")
	}
}

func TestSessionLifecycleOverAPI(t *testing.T) {
	srv := setupServer(t, true)

	// Open.
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("POST", "/api/sessions", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("open: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var sess session.Session
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if sess.UserID != "alice" || sess.ArtifactHash == "" {
		t.Errorf("session = %+v", &sess)
	}

	// Message.
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("POST", "/api/sessions/"+sess.ID+"/messages",
		strings.NewReader(`{"text":"dinner tonight?"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("message: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var turn session.Turn
	if err := json.Unmarshal(w.Body.Bytes(), &turn); err != nil {
		t.Fatalf("unmarshal turn: %v", err)
	}
	if turn.Text != "echo: dinner tonight?" {
		t.Errorf("turn text = %q", turn.Text)
	}

	// Fetch with turns.
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/api/sessions/"+sess.ID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	var detail struct {
		Turns []session.Turn `json:"turns"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if len(detail.Turns) != 2 {
		t.Errorf("got %d turns, want 2", len(detail.Turns))
	}

	// Close.
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("DELETE", "/api/sessions/"+sess.ID, nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("close: expected 204, got %d", w.Code)
	}
}

func TestOpenSessionWithoutArtifact(t *testing.T) {
	srv := setupServer(t, false)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("POST", "/api/sessions", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestMessageToUnknownSession(t *testing.T) {
	srv := setupServer(t, true)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("POST", "/api/sessions/nope/messages",
		strings.NewReader(`{"text":"hello"}`)))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestListArtifactsAndRollback(t *testing.T) {
	srv := setupServer(t, true)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/api/artifacts", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	var list []artifacts.Artifact
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 1 || list[0].Version != 1 {
		t.Errorf("list = %+v", list)
	}

	// Rolling back to the only version is a no-op but succeeds.
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("POST", "/api/artifacts/rollback",
		strings.NewReader(`{"version":1}`)))
	if w.Code != http.StatusOK {
		t.Errorf("rollback: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("POST", "/api/artifacts/rollback",
		strings.NewReader(`{"version":9}`)))
	if w.Code != http.StatusNotFound {
		t.Errorf("rollback missing: expected 404, got %d", w.Code)
	}
}

func TestProfileEndpoints(t *testing.T) {
	srv := setupServer(t, true)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/api/profile", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("api profile: expected 200, got %d", w.Code)
	}
	var profile styleprofile.Profile
	if err := json.Unmarshal(w.Body.Bytes(), &profile); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if profile.UserID != "alice" {
		t.Errorf("UserID = %q", profile.UserID)
	}

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/profile", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("profile page: expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "Style profile") {
		t.Error("rendered page missing report heading")
	}
}

func TestProfileWithoutArtifact(t *testing.T) {
	srv := setupServer(t, false)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest("GET", "/api/profile", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestWebSocketChat(t *testing.T) {
	srv := setupServer(t, true)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(chatRequest{Content: "hey there"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp chatResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != "response" || resp.Content != "echo: hey there" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.SessionID == "" {
		t.Error("expected a session id for the opened session")
	}

	// Second message reuses the session.
	if err := conn.WriteJSON(chatRequest{SessionID: resp.SessionID, Content: "again"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var second chatResponse
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read: %v", err)
	}
	if second.SessionID != resp.SessionID {
		t.Errorf("session changed between messages: %q vs %q", second.SessionID, resp.SessionID)
	}
}
