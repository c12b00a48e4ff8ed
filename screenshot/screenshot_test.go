package screenshot

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/browserbridge/browser"
	"github.com/vinayprograms/browserbridge/logging"
	"github.com/vinayprograms/browserbridge/task"
)

// fakePNG builds a payload with a valid PNG signature padded to size bytes.
func fakePNG(size int) []byte {
	data := make([]byte, size)
	copy(data, pngSignature)
	return data
}

func newPipeline(t *testing.T) (*Pipeline, task.Store) {
	t.Helper()
	store := task.NewMemoryStore()
	log := logging.New()
	log.SetLevel(logging.LevelError)
	return NewPipeline(t.TempDir(), store, log), store
}

func seedTask(t *testing.T, store task.Store, id string, status task.Status) {
	t.Helper()
	err := store.Create(&task.Task{
		ID:        id,
		Owner:     task.DefaultOwner,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
}

func TestNormalizeRawPNG(t *testing.T) {
	raw := fakePNG(64)
	got, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Error("raw PNG payload was altered")
	}
}

func TestNormalizeBase64(t *testing.T) {
	raw := fakePNG(64)
	encoded := base64.StdEncoding.EncodeToString(raw)

	got, err := Normalize([]byte(encoded))
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Error("base64 payload did not round-trip")
	}
}

func TestNormalizeDataURL(t *testing.T) {
	raw := fakePNG(64)
	payload := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

	got, err := Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Error("data URL payload did not round-trip")
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	if _, err := Normalize([]byte("%%% not base64 %%%")); err == nil {
		t.Error("Normalize() accepted undecodable data")
	}
	if _, err := Normalize(nil); err == nil {
		t.Error("Normalize() accepted empty data")
	}
}

func TestSizeTolerance(t *testing.T) {
	tests := []struct {
		a, b, want int64
	}{
		{1000, 1000, 1024},          // 0.5% of 1000 is 5, below floor
		{1_000_000, 900_000, 5000},  // 0.5% of 1MB
		{10_000_000, 1000, 10240},   // capped at 10KB
	}
	for _, tt := range tests {
		if got := sizeTolerance(tt.a, tt.b); got != tt.want {
			t.Errorf("sizeTolerance(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSaveRejectsNonPNG(t *testing.T) {
	p, store := newPipeline(t)
	seedTask(t, store, "t1", task.StatusRunning)

	if _, err := p.Save("t1", task.DefaultOwner, []byte("JFIF data"), task.StatusRunning); !errors.Is(err, ErrNotPNG) {
		t.Errorf("Save() non-PNG error = %v, want ErrNotPNG", err)
	}
}

func TestSaveWritesFileAndMedia(t *testing.T) {
	p, store := newPipeline(t)
	seedTask(t, store, "t1", task.StatusFinished)

	url, err := p.Save("t1", task.DefaultOwner, fakePNG(2048), task.StatusFinished)
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if !strings.HasPrefix(url, "/media/t1/final-") || !strings.HasSuffix(url, ".png") {
		t.Errorf("url = %q, want /media/t1/final-<ts>.png", url)
	}

	files, _ := filepath.Glob(filepath.Join(p.TaskDir("t1"), "*.png"))
	if len(files) != 1 {
		t.Fatalf("found %d files on disk, want 1", len(files))
	}
	info, err := os.Stat(files[0])
	if err != nil || info.Size() != 2048 {
		t.Errorf("written file size = %v (%v), want 2048", info, err)
	}

	got, _ := store.Get("t1", task.DefaultOwner)
	if len(got.Media) != 1 {
		t.Fatalf("len(Media) = %d, want 1", len(got.Media))
	}
	if got.Media[0].Type != "screenshot" {
		t.Errorf("media type = %q, want screenshot", got.Media[0].Type)
	}
	if got.Media[0].URL != url {
		t.Errorf("media url = %q, want %q", got.Media[0].URL, url)
	}
}

func TestFilenameByStatus(t *testing.T) {
	p, store := newPipeline(t)
	seedTask(t, store, "t1", task.StatusRunning)

	name := p.filename("t1", task.DefaultOwner, task.StatusRunning)
	if !strings.HasPrefix(name, "status-step-initial-") {
		t.Errorf("no-step running filename = %q, want status-step-initial-*", name)
	}

	for i := 0; i < 3; i++ {
		if _, err := store.AppendStep("t1", task.DefaultOwner, "Progress check", "In progress"); err != nil {
			t.Fatalf("AppendStep() error: %v", err)
		}
	}
	name = p.filename("t1", task.DefaultOwner, task.StatusRunning)
	if !strings.HasPrefix(name, "status-step-2-") {
		t.Errorf("stepped running filename = %q, want status-step-2-*", name)
	}

	name = p.filename("t1", task.DefaultOwner, task.StatusStopped)
	if !strings.HasPrefix(name, "status-stopped-") {
		t.Errorf("stopped filename = %q, want status-stopped-*", name)
	}
}

func TestIsDuplicate(t *testing.T) {
	p, store := newPipeline(t)
	seedTask(t, store, "t1", task.StatusRunning)

	if _, err := p.Save("t1", task.DefaultOwner, fakePNG(100_000), task.StatusRunning); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	// Within 1KB floor of the existing 100000-byte file.
	if !p.IsDuplicate("t1", fakePNG(100_500)) {
		t.Error("IsDuplicate() = false for size within tolerance")
	}
	// Well outside tolerance.
	if p.IsDuplicate("t1", fakePNG(150_000)) {
		t.Error("IsDuplicate() = true for clearly different size")
	}
	// First screenshot of a task is never a duplicate.
	if p.IsDuplicate("t2", fakePNG(100_000)) {
		t.Error("IsDuplicate() = true with no existing files")
	}
}

type stubCapturer struct {
	data []byte
	err  error
}

func (c stubCapturer) TakeScreenshot(context.Context) ([]byte, error) {
	return c.data, c.err
}

func TestCapture(t *testing.T) {
	p, store := newPipeline(t)
	seedTask(t, store, "t1", task.StatusRunning)

	url := p.Capture(context.Background(), stubCapturer{data: fakePNG(4096)}, "t1", task.DefaultOwner, task.StatusRunning)
	if url == "" {
		t.Fatal("Capture() returned empty url for valid frame")
	}

	// Same size again is a duplicate.
	url = p.Capture(context.Background(), stubCapturer{data: fakePNG(4096)}, "t1", task.DefaultOwner, task.StatusRunning)
	if url != "" {
		t.Errorf("Capture() duplicate returned %q, want empty", url)
	}
}

type stubSession struct {
	stubCapturer
}

func (stubSession) GetCookies(context.Context) ([]map[string]interface{}, error) {
	return nil, nil
}

func (stubSession) Connected() bool {
	return true
}

func (stubSession) Close(context.Context) error {
	return nil
}

type stubAgent struct {
	session browser.Session
}

func (stubAgent) Run(context.Context) (string, error) {
	return "", nil
}

func (stubAgent) Stop() {}

func (stubAgent) Pause() {}

func (stubAgent) Resume() {}

func (a stubAgent) Session() browser.Session {
	return a.session
}

func TestAutomatedNamesFrameByRecordStatus(t *testing.T) {
	p, store := newPipeline(t)
	seedTask(t, store, "t1", task.StatusPaused)

	agent := stubAgent{session: stubSession{stubCapturer{data: fakePNG(4096)}}}
	url := p.Automated(context.Background(), agent, "t1", task.DefaultOwner)
	if url == "" {
		t.Fatal("Automated() returned empty url for valid frame")
	}
	if !strings.HasPrefix(url, "/media/t1/status-paused-") {
		t.Errorf("url = %q, want /media/t1/status-paused-<ts>.png", url)
	}
}

func TestCaptureTolerantOfFailures(t *testing.T) {
	p, store := newPipeline(t)
	seedTask(t, store, "t1", task.StatusRunning)

	if url := p.Capture(context.Background(), nil, "t1", task.DefaultOwner, task.StatusRunning); url != "" {
		t.Error("nil capturer should yield empty url")
	}
	closed := stubCapturer{err: browser.ErrSessionClosed}
	if url := p.Capture(context.Background(), closed, "t1", task.DefaultOwner, task.StatusRunning); url != "" {
		t.Error("closed session should yield empty url")
	}
	garbage := stubCapturer{data: []byte("%%%")}
	if url := p.Capture(context.Background(), garbage, "t1", task.DefaultOwner, task.StatusRunning); url != "" {
		t.Error("undecodable data should yield empty url")
	}
}
