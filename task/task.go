// Package task owns the Task entity, its status machine, and the owner-scoped
// store. The live agent handle for a running task is held in a side table
// keyed by the same identifier: its lifetime is tied to background execution,
// not to the data record, so it can be released while the record lives on.
package task

import (
	"errors"
	"time"

	"github.com/vinayprograms/browserbridge/browser"
)

// Common errors.
var (
	// ErrTaskNotFound indicates the task does not exist for this owner.
	// A lookup under the wrong owner is indistinguishable from a missing task.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskExists indicates a create collided with an existing ID.
	ErrTaskExists = errors.New("task already exists")
)

// DefaultOwner partitions tasks submitted without a caller identifier.
const DefaultOwner = "default"

// Status represents the current state of a task.
type Status string

const (
	// StatusCreated indicates the task is initialized but not yet started.
	StatusCreated Status = "created"

	// StatusRunning indicates the task is currently executing.
	StatusRunning Status = "running"

	// StatusFinished indicates the task has completed successfully.
	StatusFinished Status = "finished"

	// StatusStopped indicates the task was manually stopped.
	StatusStopped Status = "stopped"

	// StatusPaused indicates the task execution is temporarily paused.
	StatusPaused Status = "paused"

	// StatusFailed indicates the task encountered an error and could not complete.
	StatusFailed Status = "failed"

	// StatusStopping indicates a stop has been requested but the agent has
	// not yet acknowledged termination.
	StatusStopping Status = "stopping"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusStopped
}

// Step is one observational progress marker, appended per status poll while
// the task runs. Never retried or corrected.
type Step struct {
	Number                 int       `json:"step"`
	Timestamp              time.Time `json:"timestamp"`
	NextGoal               string    `json:"next_goal"`
	EvaluationPreviousGoal string    `json:"evaluation_previous_goal"`
}

// MediaEntry records one persisted capture artifact. Immutable once created.
type MediaEntry struct {
	URL       string    `json:"url"`
	Type      string    `json:"type"`
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`
}

// BrowserData holds side-channel data collected at the end of a run. The
// Error slot records a collection failure without touching the task outcome.
type BrowserData struct {
	Cookies []map[string]interface{} `json:"cookies"`
	Error   string                   `json:"error,omitempty"`
}

// WebhookConfig is the per-task completion notification subscription.
type WebhookConfig struct {
	URL    string   `json:"url,omitempty"`
	Events []string `json:"events,omitempty"`
}

// Task is one submitted instruction and its complete execution record.
type Task struct {
	// ID is the unique identifier, generated at submission.
	ID string `json:"id"`

	// Owner partitions which callers may see this task.
	Owner string `json:"owner"`

	// Instruction is the free-text task for the agent.
	Instruction string `json:"task"`

	// Provider names the upstream LLM provider.
	Provider string `json:"ai_provider"`

	// Status is the current state.
	Status Status `json:"status"`

	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`

	// FinishedAt is set exactly once, at the terminal transition.
	FinishedAt *time.Time `json:"finished_at"`

	// Output is the final textual result, set once on success.
	Output *string `json:"output"`

	// Error is the failure reason, set once on failure.
	Error *string `json:"error"`

	// Steps is the append-only progress record.
	Steps []Step `json:"steps"`

	// Media lists persisted capture artifacts.
	Media []MediaEntry `json:"media"`

	// SaveBrowserData requests cookie collection at the end of the run.
	SaveBrowserData bool `json:"save_browser_data"`

	// BrowserData holds the collected cookies, if requested.
	BrowserData *BrowserData `json:"browser_data"`

	// Browser carries the per-task configuration overrides.
	Browser browser.Overrides `json:"browser_config"`

	// UseVision is "auto", "true", "false", or empty.
	UseVision string `json:"use_vision,omitempty"`

	// OutputSchema is an optional JSON schema for the final result.
	OutputSchema string `json:"output_model_schema,omitempty"`

	// LiveURL is the caller-facing live view reference.
	LiveURL string `json:"live_url"`

	// Webhook is the completion notification subscription.
	Webhook WebhookConfig `json:"webhook,omitempty"`
}

// Clone creates a deep copy of the task.
func (t *Task) Clone() *Task {
	clone := *t

	if t.FinishedAt != nil {
		finished := *t.FinishedAt
		clone.FinishedAt = &finished
	}
	if t.Output != nil {
		output := *t.Output
		clone.Output = &output
	}
	if t.Error != nil {
		errText := *t.Error
		clone.Error = &errText
	}
	if t.Steps != nil {
		clone.Steps = make([]Step, len(t.Steps))
		copy(clone.Steps, t.Steps)
	}
	if t.Media != nil {
		clone.Media = make([]MediaEntry, len(t.Media))
		copy(clone.Media, t.Media)
	}
	if t.BrowserData != nil {
		data := *t.BrowserData
		data.Cookies = make([]map[string]interface{}, len(t.BrowserData.Cookies))
		copy(data.Cookies, t.BrowserData.Cookies)
		clone.BrowserData = &data
	}
	if t.Browser.Headful != nil {
		headful := *t.Browser.Headful
		clone.Browser.Headful = &headful
	}
	if t.Browser.UseCustomChrome != nil {
		custom := *t.Browser.UseCustomChrome
		clone.Browser.UseCustomChrome = &custom
	}
	if t.Webhook.Events != nil {
		clone.Webhook.Events = make([]string, len(t.Webhook.Events))
		copy(clone.Webhook.Events, t.Webhook.Events)
	}

	return &clone
}

// LastStepNumber returns the number of the most recent step, or 0 if none.
func (t *Task) LastStepNumber() int {
	if len(t.Steps) == 0 {
		return 0
	}
	return t.Steps[len(t.Steps)-1].Number
}

// Page is one page of an owner-scoped listing.
type Page struct {
	Tasks   []*Task `json:"tasks"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"per_page"`
}

// Store is the contract for task persistence. All mutations are owner-scoped
// except All, which intentionally crosses owners for the shutdown sweep.
type Store interface {
	// Create stores a new task. Returns ErrTaskExists on ID collision.
	Create(t *Task) error

	// Get retrieves a task by ID and owner. A wrong owner behaves
	// identically to a missing task.
	Get(id, owner string) (*Task, error)

	// Exists reports whether the task exists for this owner.
	Exists(id, owner string) bool

	// UpdateStatus sets the task status.
	UpdateStatus(id, owner string, status Status) error

	// MarkFinished sets the terminal status and stamps FinishedAt.
	// The timestamp is written exactly once per task.
	MarkFinished(id, owner string, status Status) error

	// SetOutput records the final result.
	SetOutput(id, owner, output string) error

	// SetError records the failure reason.
	SetError(id, owner, message string) error

	// Update applies an arbitrary mutation under the store lock.
	Update(id, owner string, fn func(*Task)) error

	// AppendStep appends a progress marker and returns its number.
	AppendStep(id, owner string, nextGoal, evaluation string) (int, error)

	// AppendMedia appends a media entry.
	AppendMedia(id, owner string, m MediaEntry) error

	// List returns one owner-scoped page, ordered by creation time.
	List(owner string, page, perPage int) (*Page, error)

	// All returns every task across owners. Shutdown sweep only.
	All() []*Task

	// SetAgent registers the live agent handle for a task.
	SetAgent(id, owner string, agent browser.Agent) error

	// Agent returns the live agent handle, or nil if none is registered.
	Agent(id, owner string) browser.Agent

	// RemoveAgent deregisters the agent handle, releasing it for reclamation.
	RemoveAgent(id, owner string)
}
