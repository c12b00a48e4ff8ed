// Package api exposes the HTTP surface: task submission and control, status
// polling, media listing and download, and the embeddable live view.
// Callers are partitioned by the X-User-ID header; requests without one act
// on the default partition.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vinayprograms/browserbridge/config"
	"github.com/vinayprograms/browserbridge/logging"
	"github.com/vinayprograms/browserbridge/orchestrator"
	"github.com/vinayprograms/browserbridge/task"
)

const userIDHeader = "X-User-ID"

// Server wires the HTTP routes to the orchestrator and task store.
type Server struct {
	orch  *orchestrator.Orchestrator
	store task.Store
	cfg   config.Config
	log   *logging.Logger
	mux   *http.ServeMux
}

// NewServer creates the server and registers all routes.
func NewServer(orch *orchestrator.Orchestrator, store task.Store, cfg config.Config, log *logging.Logger) *Server {
	s := &Server{
		orch:  orch,
		store: store,
		cfg:   cfg,
		log:   log.WithComponent("api"),
		mux:   http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/v1/run-task", s.handleRunTask)
	s.mux.HandleFunc("GET /api/v1/task/{task_id}/status", s.handleTaskStatus)
	s.mux.HandleFunc("GET /api/v1/task/{task_id}/media", s.handleTaskMedia)
	s.mux.HandleFunc("GET /api/v1/task/{task_id}/media/list", s.handleTaskMediaList)
	s.mux.HandleFunc("GET /api/v1/task/{task_id}", s.handleGetTask)
	s.mux.HandleFunc("PUT /api/v1/stop-task/{task_id}", s.handleStopTask)
	s.mux.HandleFunc("PUT /api/v1/pause-task/{task_id}", s.handlePauseTask)
	s.mux.HandleFunc("PUT /api/v1/resume-task/{task_id}", s.handleResumeTask)
	s.mux.HandleFunc("GET /api/v1/list-tasks", s.handleListTasks)
	s.mux.HandleFunc("GET /api/v1/ping", s.handlePing)
	s.mux.HandleFunc("GET /api/v1/browser-config", s.handleBrowserConfig)
	s.mux.HandleFunc("GET /api/v1/media/{task_id}/{filename}", s.handleMediaFile)
	s.mux.HandleFunc("GET /live/{task_id}", s.handleLiveView)
}

// Handler returns the routed handler wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	return cors(s.mux)
}

func owner(r *http.Request) string {
	if id := r.Header.Get(userIDHeader); id != "" {
		return id
	}
	return task.DefaultOwner
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func notFound(w http.ResponseWriter) {
	writeDetail(w, http.StatusNotFound, "Task not found")
}

type runTaskRequest struct {
	Task              string   `json:"task"`
	AIProvider        string   `json:"ai_provider"`
	SaveBrowserData   bool     `json:"save_browser_data"`
	Headful           *bool    `json:"headful"`
	UseCustomChrome   *bool    `json:"use_custom_chrome"`
	UseVision         string   `json:"use_vision"`
	OutputModelSchema string   `json:"output_model_schema"`
	WebhookURL        string   `json:"webhook_url"`
	WebhookEvents     []string `json:"webhook_events"`
}

type runTaskResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	LiveURL string `json:"live_url"`
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	var req runTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "task is required")
		return
	}

	submit := orchestrator.SubmitRequest{
		Instruction:     req.Task,
		Provider:        req.AIProvider,
		Owner:           owner(r),
		SaveBrowserData: req.SaveBrowserData,
		UseVision:       req.UseVision,
		OutputSchema:    req.OutputModelSchema,
		Webhook:         task.WebhookConfig{URL: req.WebhookURL, Events: req.WebhookEvents},
	}
	submit.Browser.Headful = req.Headful
	submit.Browser.UseCustomChrome = req.UseCustomChrome

	t, err := s.orch.Submit(submit)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, runTaskResponse{
		ID:      t.ID,
		Status:  t.Status.String(),
		LiveURL: t.LiveURL,
	})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.orch.Poll(r.Context(), r.PathValue("task_id"), owner(r))
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			notFound(w)
			return
		}
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.Get(r.PathValue("task_id"), owner(r))
	if err != nil {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleStopTask(w http.ResponseWriter, r *http.Request) {
	msg, err := s.orch.Stop(r.PathValue("task_id"), owner(r))
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			notFound(w)
			return
		}
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	msg, err := s.orch.Pause(r.PathValue("task_id"), owner(r))
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			notFound(w)
			return
		}
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	msg, err := s.orch.Resume(r.PathValue("task_id"), owner(r))
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			notFound(w)
			return
		}
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	page := 1
	perPage := task.DefaultPerPage

	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeDetail(w, http.StatusUnprocessableEntity, "page must be an integer >= 1")
			return
		}
		page = n
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > task.MaxPerPage {
			writeDetail(w, http.StatusUnprocessableEntity,
				fmt.Sprintf("per_page must be an integer between 1 and %d", task.MaxPerPage))
			return
		}
		perPage = n
	}

	result, err := s.store.List(owner(r), page, perPage)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "API is running",
	})
}

func (s *Server) handleBrowserConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"headful":             s.cfg.Headful,
		"headless":            !s.cfg.Headful,
		"chrome_path":         orNil(s.cfg.ChromePath),
		"chrome_user_data":    orNil(s.cfg.ChromeUserData),
		"using_custom_chrome": s.cfg.ChromePath != "",
		"using_user_data":     s.cfg.ChromeUserData != "",
	})
}

func orNil(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// taskDir resolves the media directory for a task, with the path elements
// flattened to guard against traversal.
func (s *Server) taskDir(taskID string) string {
	return filepath.Join(s.cfg.MediaDir, filepath.Base(taskID))
}

func isScreenshotExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

func mediaType(ext string) string {
	switch strings.ToLower(ext) {
	case ".png", ".jpg", ".jpeg":
		return "screenshot"
	case ".mp4", ".webm":
		return "recording"
	}
	return "unknown"
}

func (s *Server) handleTaskMedia(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	uid := owner(r)

	t, err := s.store.Get(taskID, uid)
	if err != nil {
		notFound(w)
		return
	}
	if !t.Status.IsTerminal() {
		writeDetail(w, http.StatusBadRequest, "Media only available for completed tasks")
		return
	}

	// Backfill media entries from disk when the record has none.
	entries, _ := os.ReadDir(s.taskDir(taskID))
	if len(entries) > 0 && len(t.Media) == 0 {
		for _, entry := range entries {
			if entry.IsDir() || !isScreenshotExt(filepath.Ext(entry.Name())) {
				continue
			}
			s.store.AppendMedia(taskID, uid, task.MediaEntry{
				URL:       fmt.Sprintf("/media/%s/%s", taskID, entry.Name()),
				Type:      "screenshot",
				Filename:  entry.Name(),
				CreatedAt: time.Now().UTC(),
			})
		}
		t, err = s.store.Get(taskID, uid)
		if err != nil {
			notFound(w)
			return
		}
	}

	filter := r.URL.Query().Get("media_type")
	recordings := []string{}
	for _, m := range t.Media {
		if filter != "" && m.Type != filter {
			continue
		}
		recordings = append(recordings, m.URL)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"recordings": recordings})
}

type mediaFileInfo struct {
	Filename  string `json:"filename"`
	Type      string `json:"type"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt string `json:"created_at"`
	URL       string `json:"url"`
}

func (s *Server) handleTaskMediaList(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	uid := owner(r)

	if !s.store.Exists(taskID, uid) {
		notFound(w)
		return
	}

	entries, err := os.ReadDir(s.taskDir(taskID))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"media":   []mediaFileInfo{},
			"count":   0,
			"message": fmt.Sprintf("No media found for task %s", taskID),
		})
		return
	}

	filter := r.URL.Query().Get("media_type")
	media := []mediaFileInfo{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileType := mediaType(filepath.Ext(entry.Name()))
		if filter != "" && fileType != filter {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		media = append(media, mediaFileInfo{
			Filename:  entry.Name(),
			Type:      fileType,
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().UTC().Format(time.RFC3339),
			URL:       fmt.Sprintf("/media/%s/%s", taskID, entry.Name()),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"media": media,
		"count": len(media),
	})
}

func (s *Server) handleMediaFile(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	filename := filepath.Base(r.PathValue("filename"))
	path := filepath.Join(s.taskDir(taskID), filename)

	if _, err := os.Stat(path); err != nil {
		writeDetail(w, http.StatusNotFound, "Media file not found")
		return
	}

	disposition := "inline"
	if r.URL.Query().Get("download") == "true" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, filename))
	if contentType := mime.TypeByExtension(filepath.Ext(filename)); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	http.ServeFile(w, r, path)
}
