package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/framecut/framecut-agent/internal/catalog"
	"github.com/framecut/framecut-agent/internal/engine/enginetest"
)

func intPtr(v int) *int { return &v }

func (e *testEnv) startExport(req ExportRequest) ExportAcceptedResponse {
	e.t.Helper()
	rr := e.do(http.MethodPost, "/exports", req)
	if rr.Code != http.StatusAccepted {
		e.t.Fatalf("POST /exports status = %d: %s", rr.Code, rr.Body.String())
	}
	var resp ExportAcceptedResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		e.t.Fatal(err)
	}
	return resp
}

func (e *testEnv) waitExport(id string) ExportResponse {
	e.t.Helper()
	var got ExportResponse
	waitFor(e.t, "export "+id+" to finish", func() bool {
		rr := e.do(http.MethodGet, "/exports/"+id, nil)
		if rr.Code != http.StatusOK {
			return false
		}
		_ = json.Unmarshal(rr.Body.Bytes(), &got)
		return got.Status != catalog.ExportStatusRunning
	})
	return got
}

func TestCreateExport_NotInitialized(t *testing.T) {
	env := newTestEnv(t, &enginetest.Engine{})
	video := env.addMedia("clip.mp4", "frames")

	rr := env.do(http.MethodPost, "/exports", ExportRequest{VideoMediaID: video})
	if rr.Code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusPreconditionFailed)
	}
	if body := decodeJSONBody(t, rr); body["code"] != "NOT_INITIALIZED" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestCreateExport_Rejections(t *testing.T) {
	env := newTestEnv(t, &enginetest.Engine{})
	env.initEngine()
	video := env.addMedia("clip.mp4", "frames")
	audio := env.addMedia("song.mp3", "notes")

	tests := []struct {
		name string
		req  ExportRequest
		want int
		code string
	}{
		{"missing video", ExportRequest{}, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown video", ExportRequest{VideoMediaID: "nope"}, http.StatusNotFound, "NOT_FOUND"},
		{"unknown audio", ExportRequest{VideoMediaID: video, AudioMediaID: "nope"}, http.StatusNotFound, "NOT_FOUND"},
		{"audio as video", ExportRequest{VideoMediaID: audio}, http.StatusBadRequest, "BAD_REQUEST"},
		{"bad resolution", ExportRequest{VideoMediaID: video, Resolution: "640x360"}, http.StatusBadRequest, "INVALID_OPTIONS"},
		{"bad format", ExportRequest{VideoMediaID: video, Format: "avi"}, http.StatusBadRequest, "INVALID_OPTIONS"},
		{"bad quality", ExportRequest{VideoMediaID: video, Quality: intPtr(0)}, http.StatusBadRequest, "INVALID_OPTIONS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(http.MethodPost, "/exports", tt.req)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
			if body := decodeJSONBody(t, rr); body["code"] != tt.code {
				t.Errorf("code = %v, want %s", body["code"], tt.code)
			}
		})
	}

	if len(env.eng.Execs()) != 0 {
		t.Errorf("engine ran %d times for rejected requests", len(env.eng.Execs()))
	}
}

func TestCreateExport_CompletesAndServesArtifact(t *testing.T) {
	eng := &enginetest.Engine{Steps: []float64{0.5, 1}, Output: []byte("rendered-webm")}
	env := newTestEnv(t, eng)
	env.initEngine()
	video := env.addMedia("clip.mp4", "frames")
	audio := env.addMedia("song.mp3", "notes")

	accepted := env.startExport(ExportRequest{
		VideoMediaID: video,
		AudioMediaID: audio,
		Resolution:   "1280x720",
		Format:       "WebM",
		Quality:      intPtr(50),
	})
	if accepted.EventsURL != "/exports/"+accepted.ExportID+"/events" {
		t.Errorf("events_url = %q", accepted.EventsURL)
	}

	rec := env.waitExport(accepted.ExportID)
	if rec.Status != catalog.ExportStatusCompleted || rec.Progress != 100 {
		t.Fatalf("export = %+v", rec)
	}
	if rec.Format != "webm" || rec.Resolution != "1280x720" || rec.Quality != 50 || rec.AudioMediaID != audio {
		t.Errorf("recorded options = %+v", rec)
	}
	if rec.ArtifactURL == "" || rec.ArtifactSize != int64(len("rendered-webm")) {
		t.Fatalf("artifact = %q (%d bytes)", rec.ArtifactURL, rec.ArtifactSize)
	}

	rr := env.do(http.MethodGet, rec.ArtifactURL+"?name=My%20Cut", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("download status = %d", rr.Code)
	}
	if got := rr.Body.String(); got != "rendered-webm" {
		t.Errorf("body = %q", got)
	}
	if got := rr.Header().Get("Content-Type"); got != "video/webm" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rr.Header().Get("Content-Disposition"); got != `attachment; filename="My Cut.webm"` {
		t.Errorf("Content-Disposition = %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, rec.ArtifactURL, nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Range", "bytes=0-7")
	ranged := httptest.NewRecorder()
	env.router.ServeHTTP(ranged, req)
	if ranged.Code != http.StatusPartialContent || ranged.Body.String() != "rendered" {
		t.Errorf("range request = %d %q", ranged.Code, ranged.Body.String())
	}

	if rr := env.do(http.MethodDelete, rec.ArtifactURL, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("release status = %d", rr.Code)
	}
	if rr := env.do(http.MethodGet, rec.ArtifactURL, nil); rr.Code != http.StatusNotFound {
		t.Errorf("download after release status = %d, want %d", rr.Code, http.StatusNotFound)
	}
	if after := env.waitExport(accepted.ExportID); after.ArtifactURL != "" {
		t.Errorf("artifact_url after release = %q, want empty", after.ArtifactURL)
	}

	var list ExportsResponse
	if err := json.Unmarshal(env.do(http.MethodGet, "/exports", nil).Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Exports) != 1 || list.Exports[0].ID != accepted.ExportID {
		t.Errorf("exports = %+v", list.Exports)
	}
}

func TestCreateExport_BusyWhileProcessing(t *testing.T) {
	eng := &enginetest.Engine{Block: make(chan struct{}), Started: make(chan struct{}, 1)}
	env := newTestEnv(t, eng)
	env.initEngine()
	video := env.addMedia("clip.mp4", "frames")

	first := env.startExport(ExportRequest{VideoMediaID: video})
	<-eng.Started

	rr := env.do(http.MethodPost, "/exports", ExportRequest{VideoMediaID: video})
	if rr.Code != http.StatusConflict {
		t.Fatalf("second export status = %d, want %d", rr.Code, http.StatusConflict)
	}
	if body := decodeJSONBody(t, rr); body["code"] != "EXPORT_IN_PROGRESS" {
		t.Errorf("code = %v", body["code"])
	}

	status := decodeJSONBody(t, env.do(http.MethodGet, "/status", nil))
	if status["state"] != "processing" || status["export_id"] != first.ExportID {
		t.Errorf("status = %v", status)
	}

	close(eng.Block)
	if rec := env.waitExport(first.ExportID); rec.Status != catalog.ExportStatusCompleted {
		t.Errorf("first export = %+v", rec)
	}
}

func TestCreateExport_EngineFailure(t *testing.T) {
	env := newTestEnv(t, &enginetest.Engine{ExecErr: errors.New("encoder crashed")})
	env.initEngine()
	video := env.addMedia("clip.mp4", "frames")

	accepted := env.startExport(ExportRequest{VideoMediaID: video})
	rec := env.waitExport(accepted.ExportID)

	if rec.Status != catalog.ExportStatusFailed || rec.Error == "" || rec.ArtifactURL != "" {
		t.Fatalf("export = %+v", rec)
	}

	status := decodeJSONBody(t, env.do(http.MethodGet, "/status", nil))
	if status["state"] != "error" || status["error"] != "Failed to export video. Please try again." {
		t.Errorf("status = %v", status)
	}
}

type sseEvent struct {
	name string
	data ProgressEvent
}

func readEvent(t *testing.T, r *bufio.Reader) (sseEvent, bool) {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ev, false
			}
			t.Fatalf("read event: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev.data); err != nil {
				t.Fatalf("bad event data %q: %v", line, err)
			}
		case line == "" && ev.name != "":
			return ev, true
		}
	}
}

func TestExportEvents_LiveStream(t *testing.T) {
	eng := &enginetest.Engine{Steps: []float64{0.4}, Block: make(chan struct{}), Started: make(chan struct{}, 1)}
	env := newTestEnv(t, eng)
	env.initEngine()
	video := env.addMedia("clip.mp4", "frames")

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	accepted := env.startExport(ExportRequest{VideoMediaID: video})
	<-eng.Started

	req, _ := http.NewRequest(http.MethodGet, srv.URL+accepted.EventsURL, nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	reader := bufio.NewReader(resp.Body)

	// The subscription is primed with the current value, which may still be 0.
	for {
		ev, ok := readEvent(t, reader)
		if !ok || ev.name != "progress" {
			t.Fatalf("unexpected event %+v before progress 40", ev)
		}
		if ev.data.Progress == 40 {
			break
		}
	}

	close(eng.Block)

	var last sseEvent
	for {
		ev, ok := readEvent(t, reader)
		if !ok {
			break
		}
		last = ev
	}
	if last.name != "completed" || last.data.Progress != 100 || last.data.ArtifactURL == "" {
		t.Fatalf("last event = %+v", last)
	}
	env.waitExport(accepted.ExportID)
}

func TestExportEvents_FinishedExport(t *testing.T) {
	env := newTestEnv(t, &enginetest.Engine{ExecErr: errors.New("boom")})
	env.initEngine()
	video := env.addMedia("clip.mp4", "frames")

	accepted := env.startExport(ExportRequest{VideoMediaID: video})
	env.waitExport(accepted.ExportID)

	var ev sseEvent
	waitFor(t, "registry to drop the finished export", func() bool {
		rr := env.do(http.MethodGet, accepted.EventsURL, nil)
		var ok bool
		ev, ok = readEvent(t, bufio.NewReader(rr.Body))
		return ok && ev.name == "failed"
	})
	if ev.data.Error == "" {
		t.Errorf("failed event without error: %+v", ev)
	}

	if rr := env.do(http.MethodGet, "/exports/missing/events", nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown export status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

// gatedCatalog holds back export persistence until release is closed.
type gatedCatalog struct {
	catalog.CatalogService
	release chan struct{}
}

func (c *gatedCatalog) TrackExport(ctx context.Context, job catalog.JobHandle) error {
	_, _ = job.Wait()
	<-c.release
	return c.CatalogService.TrackExport(ctx, job)
}

func TestExportEvents_TerminalBeforeHistoryWritten(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, &enginetest.Engine{}, func(c *ServerConfig) {
		c.Catalog = &gatedCatalog{CatalogService: c.Catalog, release: release}
	})
	env.initEngine()
	video := env.addMedia("clip.mp4", "frames")

	accepted := env.startExport(ExportRequest{VideoMediaID: video})
	waitFor(t, "engine to finish", func() bool { return !env.orch.Status().Processing() })

	body := env.do(http.MethodGet, accepted.EventsURL, nil).Body.String()
	br := bufio.NewReader(strings.NewReader(body))
	var last sseEvent
	for {
		ev, ok := readEvent(t, br)
		if !ok {
			break
		}
		last = ev
	}
	if last.name != "completed" {
		t.Fatalf("stream ended with %q, want completed: %s", last.name, body)
	}

	close(release)
	if got := env.waitExport(accepted.ExportID); got.Status != catalog.ExportStatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
}

func TestPublishArtifact(t *testing.T) {
	pub := &recordingPublisher{}
	env := newTestEnv(t, &enginetest.Engine{Output: []byte("mp4-bytes")}, func(c *ServerConfig) {
		c.Publisher = pub
	})
	env.initEngine()
	video := env.addMedia("clip.mp4", "frames")

	rec := env.waitExport(env.startExport(ExportRequest{VideoMediaID: video}).ExportID)

	rr := env.do(http.MethodPost, rec.ArtifactURL+"/publish", PublishRequest{Name: "final"})
	if rr.Code != http.StatusOK {
		t.Fatalf("publish status = %d: %s", rr.Code, rr.Body.String())
	}
	if pub.key != rec.ArtifactID+"/final.mp4" || pub.mime != "video/mp4" || string(pub.data) != "mp4-bytes" {
		t.Errorf("published key=%q mime=%q data=%q", pub.key, pub.mime, pub.data)
	}
	if body := decodeJSONBody(t, rr); body["location"] != "https://cdn.example.com/"+pub.key {
		t.Errorf("location = %v", body["location"])
	}

	if rr := env.do(http.MethodPost, "/artifacts/missing/publish", nil); rr.Code != http.StatusNotFound {
		t.Errorf("missing artifact publish status = %d", rr.Code)
	}
}

func TestPublishArtifact_Disabled(t *testing.T) {
	env := newTestEnv(t, &enginetest.Engine{})
	env.initEngine()
	video := env.addMedia("clip.mp4", "frames")

	rec := env.waitExport(env.startExport(ExportRequest{VideoMediaID: video}).ExportID)

	rr := env.do(http.MethodPost, rec.ArtifactURL+"/publish", nil)
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotImplemented)
	}
	if body := decodeJSONBody(t, rr); body["code"] != "PUBLISH_DISABLED" {
		t.Errorf("code = %v", body["code"])
	}
}
