package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/framecut/framecut-agent/internal/catalog"
	"github.com/framecut/framecut-agent/internal/db"
	"github.com/framecut/framecut-agent/internal/engine"
	"github.com/framecut/framecut-agent/internal/engine/enginetest"
	"github.com/framecut/framecut-agent/internal/export"
	"github.com/framecut/framecut-agent/internal/publish"
)

const testToken = "test-token"

type testEnv struct {
	t      *testing.T
	cfg    ServerConfig
	router http.Handler
	svc    *catalog.Service
	orch   *export.Orchestrator
	eng    *enginetest.Engine
	media  string
}

type envOption func(*ServerConfig)

func newTestEnv(t *testing.T, eng *enginetest.Engine, opts ...envOption) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := catalog.NewRepository(database.Conn())
	if err := repo.SetConfig(context.Background(), AuthTokenKey, testToken); err != nil {
		t.Fatal(err)
	}
	svc := catalog.NewService(repo, nil, logger)
	orch := export.New(export.Config{
		NewEngine: func() engine.Engine { return eng },
		Logger:    logger,
	})

	cfg := ServerConfig{
		Catalog:      svc,
		Tokens:       repo,
		Orchestrator: orch,
		Logger:       logger,
		StartTime:    time.Now(),
		DeviceID:     "test-device",
		Version:      "test",
	}
	for _, o := range opts {
		o(&cfg)
	}

	return &testEnv{
		t:      t,
		cfg:    cfg,
		router: NewRouter(cfg),
		svc:    svc,
		orch:   orch,
		eng:    eng,
		media:  t.TempDir(),
	}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// addMedia writes a file into the media folder and registers it.
func (e *testEnv) addMedia(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.media, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.t.Fatal(err)
	}
	rr := e.do(http.MethodPost, "/media", MediaRequest{Path: path})
	if rr.Code != http.StatusCreated {
		e.t.Fatalf("POST /media status = %d: %s", rr.Code, rr.Body.String())
	}
	var m MediaResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		e.t.Fatal(err)
	}
	return m.ID
}

func (e *testEnv) initEngine() {
	e.t.Helper()
	if rr := e.do(http.MethodPost, "/engine/init", nil); rr.Code != http.StatusOK {
		e.t.Fatalf("POST /engine/init status = %d: %s", rr.Code, rr.Body.String())
	}
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHealth_NoAuth(t *testing.T) {
	env := newTestEnv(t, &enginetest.Engine{})

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" || body["device_id"] != "test-device" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	env := newTestEnv(t, &enginetest.Engine{})

	for _, path := range []string{"/status", "/media", "/exports"} {
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without token: status = %d, want %d", path, rr.Code, http.StatusUnauthorized)
		}
	}
}

func TestMetrics_LoopbackOnly(t *testing.T) {
	env := newTestEnv(t, &enginetest.Engine{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("remote /metrics status = %d, want %d", rr.Code, http.StatusForbidden)
	}

	req.RemoteAddr = "127.0.0.1:4000"
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("loopback /metrics status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestStatus_BeforeInitialize(t *testing.T) {
	env := newTestEnv(t, &enginetest.Engine{})

	rr := env.do(http.MethodGet, "/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeJSONBody(t, rr)
	if body["state"] != string(export.StateNotInitialized) || body["ready"] != false {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["engine"]; ok {
		t.Error("engine capabilities reported before initialization")
	}
	if body["publish_enabled"] != false {
		t.Errorf("publish_enabled = %v, want false", body["publish_enabled"])
	}
}

type fakeCapsProber struct {
	caps *engine.Capabilities
}

func (p *fakeCapsProber) Capabilities(ctx context.Context) (*engine.Capabilities, error) {
	if p.caps == nil {
		return nil, errors.New("not loaded")
	}
	return p.caps, nil
}

func TestStatus_ReportsFormatSupport(t *testing.T) {
	prober := &fakeCapsProber{caps: &engine.Capabilities{
		Version:  "6.1",
		Encoders: map[string]bool{"libx264": true, "aac": true},
		ProbedAt: time.Now(),
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := newTestEnv(t, &enginetest.Engine{}, func(c *ServerConfig) {
		c.Doctor = engine.NewCachedDoctor(prober, logger)
	})
	env.initEngine()

	body := decodeJSONBody(t, env.do(http.MethodGet, "/status", nil))
	if body["state"] != string(export.StateReady) || body["ready"] != true {
		t.Fatalf("body = %v", body)
	}
	eng, ok := body["engine"].(map[string]interface{})
	if !ok {
		t.Fatalf("engine missing: %v", body)
	}
	formats := eng["formats"].(map[string]interface{})
	if formats["mp4"] != true || formats["webm"] != false {
		t.Errorf("formats = %v, want mp4 only", formats)
	}
	if eng["version"] != "6.1" {
		t.Errorf("version = %v", eng["version"])
	}
}

func TestEngineInit_Failure(t *testing.T) {
	env := newTestEnv(t, &enginetest.Engine{LoadErr: errors.New("no binary")})

	rr := env.do(http.MethodPost, "/engine/init", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
	body := decodeJSONBody(t, rr)
	if body["code"] != "ENGINE_INIT_FAILED" || body["error"] != "Failed to initialize video processor" {
		t.Errorf("body = %v", body)
	}

	status := decodeJSONBody(t, env.do(http.MethodGet, "/status", nil))
	if status["state"] != string(export.StateError) {
		t.Errorf("state = %v, want error", status["state"])
	}
}

func TestMedia_Lifecycle(t *testing.T) {
	env := newTestEnv(t, &enginetest.Engine{})

	id := env.addMedia("clip.mp4", "frames")

	var list MediaListResponse
	if err := json.Unmarshal(env.do(http.MethodGet, "/media", nil).Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Media) != 1 || list.Media[0].ID != id || list.Media[0].Kind != catalog.KindVideo {
		t.Fatalf("media = %+v", list.Media)
	}

	if rr := env.do(http.MethodDelete, "/media/"+id, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", rr.Code)
	}
	if rr := env.do(http.MethodDelete, "/media/"+id, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("second DELETE status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestMedia_AddRejections(t *testing.T) {
	env := newTestEnv(t, &enginetest.Engine{})

	notes := filepath.Join(env.media, "notes.txt")
	if err := os.WriteFile(notes, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		body any
		want int
	}{
		{"empty path", MediaRequest{}, http.StatusBadRequest},
		{"missing file", MediaRequest{Path: filepath.Join(env.media, "gone.mp4")}, http.StatusBadRequest},
		{"unsupported", MediaRequest{Path: notes}, http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(http.MethodPost, "/media", tt.body); rr.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestMedia_ImportFolder(t *testing.T) {
	env := newTestEnv(t, &enginetest.Engine{})

	for _, name := range []string{"a.mp4", "b.mp3", "c.txt"} {
		if err := os.WriteFile(filepath.Join(env.media, name), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	rr := env.do(http.MethodPost, "/media/import", ImportRequest{Path: env.media})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if body := decodeJSONBody(t, rr); body["imported"] != float64(2) {
		t.Errorf("imported = %v, want 2", body["imported"])
	}
}

type recordingPublisher struct {
	key  string
	mime string
	data []byte
}

func (p *recordingPublisher) Publish(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	p.key, p.mime = key, contentType
	p.data, _ = io.ReadAll(r)
	return "https://cdn.example.com/" + key, nil
}

var _ publish.Publisher = (*recordingPublisher)(nil)

func TestMediaFile_Preview(t *testing.T) {
	env := newTestEnv(t, &enginetest.Engine{})
	id := env.addMedia("clip.mp4", "0123456789")

	req := httptest.NewRequest(http.MethodGet, "/media/"+id+"/file", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Range", "bytes=2-5")
	req.RemoteAddr = "127.0.0.1:5000"
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusPartialContent || rr.Body.String() != "2345" {
		t.Fatalf("preview = %d %q", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("Accept-Ranges = %q", got)
	}

	remote := httptest.NewRequest(http.MethodGet, "/media/"+id+"/file", nil)
	remote.Header.Set("Authorization", "Bearer "+testToken)
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, remote)
	if rr.Code != http.StatusForbidden {
		t.Errorf("non-loopback preview status = %d, want %d", rr.Code, http.StatusForbidden)
	}

	if err := os.Remove(filepath.Join(env.media, "clip.mp4")); err != nil {
		t.Fatal(err)
	}
	req.Header.Del("Range")
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing file status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}
