// Package screenshot turns raw capture payloads into persisted media files.
// Payloads arrive as raw PNG bytes, bare base64, or data URLs; duplicates
// are detected by size proximity against what is already on disk for the
// task, so near-identical frames from repeated polls do not pile up.
package screenshot

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vinayprograms/browserbridge/browser"
	"github.com/vinayprograms/browserbridge/logging"
	"github.com/vinayprograms/browserbridge/task"
)

// pngSignature is the 8-byte PNG file header.
var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// ErrNotPNG indicates the decoded payload does not carry a PNG signature.
var ErrNotPNG = errors.New("screenshot data does not carry a PNG signature")

// Dedup tolerance bounds, in bytes.
const (
	minTolerance = 1024
	maxTolerance = 10240
)

const timestampLayout = "20060102-150405"

// Pipeline validates, deduplicates, and persists screenshots, recording a
// media entry on the owning task for each file written.
type Pipeline struct {
	mediaDir string
	store    task.Store
	log      *logging.Logger
}

// NewPipeline creates a pipeline rooted at mediaDir.
func NewPipeline(mediaDir string, store task.Store, log *logging.Logger) *Pipeline {
	return &Pipeline{
		mediaDir: mediaDir,
		store:    store,
		log:      log.WithComponent("screenshot"),
	}
}

// TaskDir returns the per-task media directory path.
func (p *Pipeline) TaskDir(taskID string) string {
	return filepath.Join(p.mediaDir, taskID)
}

// Normalize converts a capture payload to raw image bytes. Raw PNG data
// passes through unchanged; otherwise the payload is treated as base64
// text, with any data URL prefix stripped first.
func Normalize(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty screenshot data")
	}
	if bytes.HasPrefix(data, pngSignature) {
		return data, nil
	}

	text := string(data)
	if strings.HasPrefix(text, "data:image/") {
		_, encoded, found := strings.Cut(text, ",")
		if !found {
			return nil, errors.New("malformed data URL")
		}
		text = encoded
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot data: %w", err)
	}
	return decoded, nil
}

// sizeTolerance is 0.5% of the larger size, clamped to [1KB, 10KB].
func sizeTolerance(a, b int64) int64 {
	larger := a
	if b > larger {
		larger = b
	}
	tolerance := larger / 200
	if tolerance < minTolerance {
		return minTolerance
	}
	if tolerance > maxTolerance {
		return maxTolerance
	}
	return tolerance
}

// IsDuplicate reports whether an existing screenshot for the task is within
// size tolerance of the candidate data.
func (p *Pipeline) IsDuplicate(taskID string, data []byte) bool {
	if len(data) == 0 {
		return false
	}
	currentSize := int64(len(data))

	existing, err := filepath.Glob(filepath.Join(p.TaskDir(taskID), "*.png"))
	if err != nil {
		return false
	}
	for _, path := range existing {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		diff := info.Size() - currentSize
		if diff < 0 {
			diff = -diff
		}
		if diff <= sizeTolerance(info.Size(), currentSize) {
			p.log.ScreenshotSkipped(taskID, fmt.Sprintf(
				"size %d within %d bytes of %s (%d)",
				currentSize, sizeTolerance(info.Size(), currentSize), filepath.Base(path), info.Size()))
			return true
		}
	}
	return false
}

// filename picks the name for a new screenshot. Finished runs get a final-
// prefixed name; running tasks encode the step the frame belongs to.
func (p *Pipeline) filename(taskID, owner string, status task.Status) string {
	timestamp := time.Now().Format(timestampLayout)

	t, err := p.store.Get(taskID, owner)
	if status == "" && err == nil {
		status = t.Status
	}

	switch status {
	case task.StatusFinished:
		return fmt.Sprintf("final-%s.png", timestamp)
	case task.StatusRunning:
		step := "initial"
		if err == nil && len(t.Steps) > 0 {
			step = fmt.Sprintf("%d", t.LastStepNumber()-1)
		}
		return fmt.Sprintf("status-step-%s-%s.png", step, timestamp)
	default:
		name := "unknown"
		if status != "" {
			name = status.String()
		}
		return fmt.Sprintf("status-%s-%s.png", name, timestamp)
	}
}

// Save validates and writes a screenshot, appending a media entry to the
// task. Returns the caller-facing media URL of the written file.
func (p *Pipeline) Save(taskID, owner string, data []byte, status task.Status) (string, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return "", ErrNotPNG
	}

	dir := p.TaskDir(taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create media directory: %w", err)
	}

	name := p.filename(taskID, owner, status)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}

	url := fmt.Sprintf("/media/%s/%s", taskID, name)
	entry := task.MediaEntry{
		URL:       url,
		Type:      "screenshot",
		Filename:  name,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.AppendMedia(taskID, owner, entry); err != nil {
		p.log.Warn("Screenshot saved but not recorded on task", map[string]interface{}{
			"task":  taskID,
			"file":  name,
			"error": err.Error(),
		})
	}

	p.log.ScreenshotSaved(taskID, name, len(data))
	return url, nil
}

// Capture takes one frame from the capturer and runs it through the full
// pipeline. Every failure mode is tolerated: a missing or closed session,
// undecodable data, or a non-PNG payload ends the attempt with a log line,
// never an error. Returns the media URL, or "" when nothing was written.
func (p *Pipeline) Capture(ctx context.Context, capturer browser.Capturer, taskID, owner string, status task.Status) string {
	if capturer == nil {
		p.log.Debug("No capture source available, skipping screenshot", map[string]interface{}{
			"task": taskID,
		})
		return ""
	}

	data, err := capturer.TakeScreenshot(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrSessionClosed) {
			p.log.Info("Browser session closed, cannot take screenshot", map[string]interface{}{
				"task": taskID,
			})
		} else {
			p.log.Error("Failed to take screenshot", map[string]interface{}{
				"task":  taskID,
				"error": err.Error(),
			})
		}
		return ""
	}

	image, err := Normalize(data)
	if err != nil {
		p.log.Warn("Could not decode screenshot data", map[string]interface{}{
			"task":  taskID,
			"error": err.Error(),
		})
		return ""
	}

	if p.IsDuplicate(taskID, image) {
		return ""
	}

	url, err := p.Save(taskID, owner, image, status)
	if err != nil {
		p.log.Warn("Screenshot not saved", map[string]interface{}{
			"task":  taskID,
			"error": err.Error(),
		})
		return ""
	}
	return url
}

// Automated captures a frame from the agent's live session, used for
// in-flight polls. Agents without a session are skipped quietly.
func (p *Pipeline) Automated(ctx context.Context, agent browser.Agent, taskID, owner string) string {
	if agent == nil {
		return ""
	}
	session := agent.Session()
	if session == nil {
		p.log.Debug("Agent has no browser session, skipping screenshot", map[string]interface{}{
			"task": taskID,
		})
		return ""
	}
	if !session.Connected() {
		p.log.Info("Browser session disconnected, skipping screenshot", map[string]interface{}{
			"task": taskID,
		})
		return ""
	}
	// Empty status defers to the task record, so a paused poll names its
	// frame status-paused rather than a step frame.
	return p.Capture(ctx, session, taskID, owner, "")
}
