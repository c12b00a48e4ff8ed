// Package browser defines the boundary to the external browser-driving
// agent. The engine itself is an opaque collaborator; this package holds the
// interfaces the orchestrator programs against, the profile resolution that
// configures a launch, and a simulated agent for running without a real
// driver wired in.
package browser

import (
	"context"
	"errors"

	"github.com/vinayprograms/browserbridge/llm"
)

// Common errors.
var (
	// ErrSessionClosed indicates the runtime session has been torn down.
	// Capture paths treat this as a no-op, not a failure.
	ErrSessionClosed = errors.New("browser session closed")

	// ErrNoSession indicates the agent has no live session to operate on.
	ErrNoSession = errors.New("no browser session available")

	// ErrStopped indicates the agent was asked to stop before completing.
	ErrStopped = errors.New("agent stopped")
)

// Capturer is the capability of producing a screenshot. Exactly the types
// that can capture implement it; the screenshot pipeline accepts nothing
// looser.
type Capturer interface {
	// TakeScreenshot captures the current page as PNG bytes. Returns
	// ErrSessionClosed once the underlying session is gone.
	TakeScreenshot(ctx context.Context) ([]byte, error)
}

// Session is a live browser runtime session.
type Session interface {
	Capturer

	// GetCookies returns the session's cookie jar.
	GetCookies(ctx context.Context) ([]map[string]interface{}, error)

	// Connected reports whether the session is still reachable.
	Connected() bool

	// Close releases the underlying runtime. Idempotent.
	Close(ctx context.Context) error
}

// Agent drives one task's instruction against the browser.
type Agent interface {
	// Run executes the instruction to completion and returns the final
	// textual result. This is the single long-running call of a task.
	Run(ctx context.Context) (string, error)

	// Stop asks the agent to stop at its next opportunity. Cooperative,
	// idempotent; Run observes it on its own schedule.
	Stop()

	// Pause suspends execution until Resume.
	Pause()

	// Resume continues a paused agent.
	Resume()

	// Session returns the live runtime session, or nil before launch or
	// after teardown.
	Session() Session
}

// LaunchSpec carries everything needed to construct an agent for one run.
type LaunchSpec struct {
	// Instruction is the free-text task for the agent.
	Instruction string

	// Chat is the language model driving the agent, already constructed
	// with a pooled credential.
	Chat llm.Provider

	// Profile is the resolved browser configuration.
	Profile Profile

	// UseVision is "auto", "true", "false", or empty for the engine default.
	UseVision string

	// OutputSchema is an optional JSON schema the final result should
	// conform to. Passed through to the engine opaquely.
	OutputSchema string

	// SensitiveData is handed to the agent verbatim and never logged.
	SensitiveData map[string]string
}

// Factory constructs agents. The simulated factory is the default; a real
// driver integration supplies its own.
type Factory interface {
	New(ctx context.Context, spec LaunchSpec) (Agent, error)
}
