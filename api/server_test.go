package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/browserbridge/browser"
	"github.com/vinayprograms/browserbridge/config"
	"github.com/vinayprograms/browserbridge/credentials"
	"github.com/vinayprograms/browserbridge/logging"
	"github.com/vinayprograms/browserbridge/orchestrator"
	"github.com/vinayprograms/browserbridge/screenshot"
	"github.com/vinayprograms/browserbridge/task"
	"github.com/vinayprograms/browserbridge/webhook"
)

type stubAgent struct {
	result string
}

func (a stubAgent) Run(context.Context) (string, error) { return a.result, nil }
func (a stubAgent) Stop()                               {}
func (a stubAgent) Pause()                              {}
func (a stubAgent) Resume()                             {}
func (a stubAgent) Session() browser.Session            { return nil }

type stubFactory struct {
	result string
}

func (f stubFactory) New(context.Context, browser.LaunchSpec) (browser.Agent, error) {
	return stubAgent{result: f.result}, nil
}

type fixture struct {
	server *httptest.Server
	store  task.Store
	orch   *orchestrator.Orchestrator
	cfg    config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := logging.New()
	log.SetLevel(logging.LevelError)

	cfg := config.DefaultConfig()
	cfg.MediaDir = t.TempDir()
	cfg.Headful = false

	store := task.NewMemoryStore()
	pipeline := screenshot.NewPipeline(cfg.MediaDir, store, log)
	dispatcher := webhook.NewDispatcher(log)
	dispatcher.SetBaseBackoff(time.Millisecond)

	orch := orchestrator.New(orchestrator.Options{
		Store:           store,
		Credentials:     credentials.NewManagerWith(&credentials.Credentials{}),
		Factory:         stubFactory{result: "final answer"},
		Pipeline:        pipeline,
		Webhooks:        dispatcher,
		DefaultProvider: cfg.DefaultProvider,
		Log:             log,
	})

	srv := httptest.NewServer(NewServer(orch, store, cfg, log).Handler())
	t.Cleanup(srv.Close)

	return &fixture{server: srv, store: store, orch: orch, cfg: cfg}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func seedTerminal(t *testing.T, store task.Store, id, uid string, status task.Status) {
	t.Helper()
	err := store.Create(&task.Task{ID: id, Owner: uid, Status: task.StatusCreated, CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.MarkFinished(id, uid, status); err != nil {
		t.Fatalf("seed finish: %v", err)
	}
}

func TestPing(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/v1/ping", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got map[string]string
	json.Unmarshal(body, &got)
	if got["status"] != "success" || got["message"] != "API is running" {
		t.Errorf("body = %s", body)
	}
}

func TestRunTaskValidation(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/run-task", map[string]string{"task": "  "}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("empty task status = %d, want 422", resp.StatusCode)
	}
}

func TestRunTaskLifecycle(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/run-task", map[string]interface{}{
		"task": "open example.com and read the heading",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run-task status = %d: %s", resp.StatusCode, body)
	}

	var created runTaskResponse
	json.Unmarshal(body, &created)
	if created.ID == "" || created.Status != "created" {
		t.Fatalf("response = %+v", created)
	}
	if created.LiveURL != "/live/"+created.ID {
		t.Errorf("live_url = %q", created.LiveURL)
	}

	deadline := time.Now().Add(5 * time.Second)
	var status map[string]interface{}
	for time.Now().Before(deadline) {
		_, body := f.do(t, http.MethodGet, "/api/v1/task/"+created.ID+"/status", nil, nil)
		json.Unmarshal(body, &status)
		if status["status"] == "finished" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status["status"] != "finished" {
		t.Fatalf("task never finished: %+v", status)
	}
	if status["result"] != "final answer" {
		t.Errorf("result = %v", status["result"])
	}

	// Full record carries the synthesized progress steps from polling.
	_, body = f.do(t, http.MethodGet, "/api/v1/task/"+created.ID, nil, nil)
	var full task.Task
	json.Unmarshal(body, &full)
	if full.ID != created.ID {
		t.Errorf("full task id = %q", full.ID)
	}
	if full.FinishedAt == nil {
		t.Error("finished_at missing from full record")
	}
}

func TestStatusUnknownTask(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/v1/task/nope/status", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if !strings.Contains(string(body), "Task not found") {
		t.Errorf("body = %s", body)
	}
}

func TestOwnerPartitioning(t *testing.T) {
	f := newFixture(t)

	_, body := f.do(t, http.MethodPost, "/api/v1/run-task", map[string]string{"task": "x"},
		map[string]string{"X-User-ID": "alice"})
	var created runTaskResponse
	json.Unmarshal(body, &created)

	resp, _ := f.do(t, http.MethodGet, "/api/v1/task/"+created.ID, nil,
		map[string]string{"X-User-ID": "bob"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cross-owner get status = %d, want 404", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/v1/task/"+created.ID, nil,
		map[string]string{"X-User-ID": "alice"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("same-owner get status = %d, want 200", resp.StatusCode)
	}
}

func TestStopTerminalTask(t *testing.T) {
	f := newFixture(t)
	seedTerminal(t, f.store, "t1", task.DefaultOwner, task.StatusFinished)

	resp, body := f.do(t, http.MethodPut, "/api/v1/stop-task/t1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got map[string]string
	json.Unmarshal(body, &got)
	if got["message"] != "Task already in terminal state: finished" {
		t.Errorf("message = %q", got["message"])
	}
}

func TestPauseAdvisoryMessage(t *testing.T) {
	f := newFixture(t)
	seedTerminal(t, f.store, "t1", task.DefaultOwner, task.StatusFinished)

	resp, body := f.do(t, http.MethodPut, "/api/v1/pause-task/t1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got map[string]string
	json.Unmarshal(body, &got)
	if !strings.Contains(got["message"], "expected running") {
		t.Errorf("message = %q", got["message"])
	}
}

func TestListTasksValidation(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/api/v1/list-tasks?page=0", nil, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("page=0 status = %d, want 422", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodGet, "/api/v1/list-tasks?per_page=5000", nil, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("per_page=5000 status = %d, want 422", resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodGet, "/api/v1/list-tasks", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var page task.Page
	json.Unmarshal(body, &page)
	if page.Page != 1 || page.PerPage != task.DefaultPerPage {
		t.Errorf("page = %+v", page)
	}
}

func TestBrowserConfig(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/v1/browser-config", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got map[string]interface{}
	json.Unmarshal(body, &got)
	if got["headful"] != false || got["headless"] != true {
		t.Errorf("headful/headless = %v/%v", got["headful"], got["headless"])
	}
	if got["chrome_path"] != nil {
		t.Errorf("chrome_path = %v, want null", got["chrome_path"])
	}
	if got["using_custom_chrome"] != false {
		t.Errorf("using_custom_chrome = %v", got["using_custom_chrome"])
	}
}

func writeMediaFile(t *testing.T, dir, taskID, name string, size int) {
	t.Helper()
	taskDir := filepath.Join(dir, taskID)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(taskDir, name), make([]byte, size), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestTaskMediaTerminalGate(t *testing.T) {
	f := newFixture(t)
	err := f.store.Create(&task.Task{ID: "t1", Owner: task.DefaultOwner, Status: task.StatusRunning, CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp, body := f.do(t, http.MethodGet, "/api/v1/task/t1/media", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if !strings.Contains(string(body), "Media only available for completed tasks") {
		t.Errorf("body = %s", body)
	}
}

func TestTaskMediaBackfill(t *testing.T) {
	f := newFixture(t)
	seedTerminal(t, f.store, "t1", task.DefaultOwner, task.StatusFinished)
	writeMediaFile(t, f.cfg.MediaDir, "t1", "final-20260101-000000.png", 128)
	writeMediaFile(t, f.cfg.MediaDir, "t1", "notes.txt", 16)

	resp, body := f.do(t, http.MethodGet, "/api/v1/task/t1/media", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var got struct {
		Recordings []string `json:"recordings"`
	}
	json.Unmarshal(body, &got)
	if len(got.Recordings) != 1 || got.Recordings[0] != "/media/t1/final-20260101-000000.png" {
		t.Errorf("recordings = %v", got.Recordings)
	}

	stored, _ := f.store.Get("t1", task.DefaultOwner)
	if len(stored.Media) != 1 {
		t.Errorf("backfill recorded %d media entries, want 1", len(stored.Media))
	}
}

func TestTaskMediaList(t *testing.T) {
	f := newFixture(t)
	seedTerminal(t, f.store, "t1", task.DefaultOwner, task.StatusFinished)
	writeMediaFile(t, f.cfg.MediaDir, "t1", "final.png", 256)
	writeMediaFile(t, f.cfg.MediaDir, "t1", "session.webm", 1024)
	writeMediaFile(t, f.cfg.MediaDir, "t1", "dump.bin", 8)

	_, body := f.do(t, http.MethodGet, "/api/v1/task/t1/media/list", nil, nil)
	var got struct {
		Media []mediaFileInfo `json:"media"`
		Count int             `json:"count"`
	}
	json.Unmarshal(body, &got)
	if got.Count != 3 {
		t.Fatalf("count = %d, want 3", got.Count)
	}
	types := map[string]string{}
	for _, m := range got.Media {
		types[m.Filename] = m.Type
	}
	if types["final.png"] != "screenshot" || types["session.webm"] != "recording" || types["dump.bin"] != "unknown" {
		t.Errorf("types = %v", types)
	}

	_, body = f.do(t, http.MethodGet, "/api/v1/task/t1/media/list?media_type=screenshot", nil, nil)
	json.Unmarshal(body, &got)
	if got.Count != 1 || got.Media[0].Filename != "final.png" {
		t.Errorf("filtered = %+v", got)
	}

	// No media directory yet.
	seedTerminal(t, f.store, "t2", task.DefaultOwner, task.StatusFinished)
	_, body = f.do(t, http.MethodGet, "/api/v1/task/t2/media/list", nil, nil)
	var empty map[string]interface{}
	json.Unmarshal(body, &empty)
	if empty["count"] != float64(0) {
		t.Errorf("empty list = %v", empty)
	}
}

func TestMediaFileDownload(t *testing.T) {
	f := newFixture(t)
	writeMediaFile(t, f.cfg.MediaDir, "t1", "final.png", 64)

	resp, _ := f.do(t, http.MethodGet, "/api/v1/media/t1/final.png", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "inline") {
		t.Errorf("Content-Disposition = %q, want inline", cd)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/v1/media/t1/final.png?download=true", nil, nil)
	if cd := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") {
		t.Errorf("Content-Disposition = %q, want attachment", cd)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/v1/media/t1/missing.png", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing file status = %d, want 404", resp.StatusCode)
	}
}

func TestLiveView(t *testing.T) {
	f := newFixture(t)
	seedTerminal(t, f.store, "t1", task.DefaultOwner, task.StatusFinished)

	resp, body := f.do(t, http.MethodGet, "/live/t1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(string(body), "pauseBtn") {
		t.Error("live view missing controls")
	}

	resp, _ = f.do(t, http.MethodGet, "/live/missing", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown task status = %d, want 404", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)

	req, _ := http.NewRequest(http.MethodOptions, f.server.URL+"/api/v1/ping", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS allow-origin header")
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Headers"), "X-User-ID") {
		t.Error("X-User-ID not allowed in CORS headers")
	}
}
