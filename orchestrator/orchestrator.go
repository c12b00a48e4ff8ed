// Package orchestrator drives task execution from submission to terminal
// state. Each submitted task runs in its own goroutine; control operations
// (stop, pause, resume) act on the live agent handle and report advisory
// messages rather than errors when the task is not in the expected state.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/browserbridge/browser"
	"github.com/vinayprograms/browserbridge/credentials"
	"github.com/vinayprograms/browserbridge/llm"
	"github.com/vinayprograms/browserbridge/logging"
	"github.com/vinayprograms/browserbridge/screenshot"
	"github.com/vinayprograms/browserbridge/task"
	"github.com/vinayprograms/browserbridge/webhook"
)

// Orchestrator owns the background execution of tasks.
type Orchestrator struct {
	store           task.Store
	creds           *credentials.Manager
	factory         browser.Factory
	pipeline        *screenshot.Pipeline
	webhooks        *webhook.Dispatcher
	defaults        browser.Defaults
	defaultProvider string
	sensitive       map[string]string
	log             *logging.Logger

	wg sync.WaitGroup
}

// Options carries the collaborators and environment defaults.
type Options struct {
	Store           task.Store
	Credentials     *credentials.Manager
	Factory         browser.Factory
	Pipeline        *screenshot.Pipeline
	Webhooks        *webhook.Dispatcher
	BrowserDefaults browser.Defaults
	DefaultProvider string
	SensitiveData   map[string]string
	Log             *logging.Logger
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.DefaultProvider == "" {
		opts.DefaultProvider = "openai"
	}
	return &Orchestrator{
		store:           opts.Store,
		creds:           opts.Credentials,
		factory:         opts.Factory,
		pipeline:        opts.Pipeline,
		webhooks:        opts.Webhooks,
		defaults:        opts.BrowserDefaults,
		defaultProvider: opts.DefaultProvider,
		sensitive:       opts.SensitiveData,
		log:             opts.Log.WithComponent("orchestrator"),
	}
}

// SubmitRequest is a new task submission.
type SubmitRequest struct {
	Instruction     string
	Provider        string
	Owner           string
	SaveBrowserData bool
	Browser         browser.Overrides
	UseVision       string
	OutputSchema    string
	Webhook         task.WebhookConfig
}

// Submit records the task and starts execution in the background. The
// returned task is in the created state; execution has not necessarily
// begun when Submit returns.
func (o *Orchestrator) Submit(req SubmitRequest) (*task.Task, error) {
	id := uuid.NewString()

	provider := req.Provider
	if provider == "" {
		provider = o.defaultProvider
	}
	owner := req.Owner
	if owner == "" {
		owner = task.DefaultOwner
	}

	t := &task.Task{
		ID:              id,
		Owner:           owner,
		Instruction:     req.Instruction,
		Provider:        provider,
		Status:          task.StatusCreated,
		CreatedAt:       time.Now().UTC(),
		Steps:           []task.Step{},
		SaveBrowserData: req.SaveBrowserData,
		Browser:         req.Browser,
		UseVision:       req.UseVision,
		OutputSchema:    req.OutputSchema,
		LiveURL:         fmt.Sprintf("/live/%s", id),
		Webhook:         req.Webhook,
	}
	if err := o.store.Create(t); err != nil {
		return nil, err
	}

	o.log.TaskSubmitted(id, provider, owner)

	o.wg.Add(1)
	go o.run(id, owner)

	return t, nil
}

// run executes one task to its terminal state.
func (o *Orchestrator) run(id, owner string) {
	defer o.wg.Done()

	ctx := context.Background()
	start := time.Now()

	// A stop can land before the goroutine is scheduled; a terminal task
	// must not be pulled back to running.
	started := false
	err := o.store.Update(id, owner, func(t *task.Task) {
		if t.Status.IsTerminal() {
			return
		}
		t.Status = task.StatusRunning
		started = true
	})
	if err != nil {
		o.log.Error("Could not mark task running", map[string]interface{}{
			"task": id, "error": err.Error(),
		})
		return
	}
	if !started {
		o.log.Info("Task reached a terminal state before starting", map[string]interface{}{
			"task": id,
		})
		return
	}
	o.log.RunStarted(id)

	if err := os.MkdirAll(o.pipeline.TaskDir(id), 0o755); err != nil {
		o.log.Warn("Could not create media directory", map[string]interface{}{
			"task": id, "error": err.Error(),
		})
	}

	t, err := o.store.Get(id, owner)
	if err != nil {
		o.fail(ctx, id, owner, start, err)
		return
	}

	profile := browser.ResolveProfile(t.Browser, o.defaults)
	o.log.Info("Browser configuration", profile.Info())

	key, _ := o.creds.NextKey(t.Provider)
	chat, err := llm.New(t.Provider, key)
	if err != nil {
		o.fail(ctx, id, owner, start, err)
		return
	}

	agent, err := o.factory.New(ctx, browser.LaunchSpec{
		Instruction:   t.Instruction,
		Chat:          chat,
		Profile:       profile,
		UseVision:     t.UseVision,
		OutputSchema:  t.OutputSchema,
		SensitiveData: o.sensitive,
	})
	if err != nil {
		o.fail(ctx, id, owner, start, err)
		return
	}
	if err := o.store.SetAgent(id, owner, agent); err != nil {
		o.log.Warn("Could not register agent handle", map[string]interface{}{
			"task": id, "error": err.Error(),
		})
	}
	defer o.cleanup(ctx, id, owner, agent)

	result, runErr := agent.Run(ctx)

	current, err := o.store.Get(id, owner)
	if err != nil {
		return
	}

	// A stop request wins over whatever the agent run reported.
	if current.Status == task.StatusStopping || current.Status == task.StatusStopped {
		if err := o.store.MarkFinished(id, owner, task.StatusStopped); err != nil {
			o.log.Error("Could not finalize stopped task", map[string]interface{}{
				"task": id, "error": err.Error(),
			})
		}
		if runErr != nil {
			o.log.Info("Stopped task run ended with error", map[string]interface{}{
				"task": id, "error": runErr.Error(),
			})
		}
		return
	}

	if runErr != nil {
		o.fail(ctx, id, owner, start, runErr)
		return
	}

	if err := o.store.MarkFinished(id, owner, task.StatusFinished); err != nil {
		o.log.Error("Could not finalize task", map[string]interface{}{
			"task": id, "error": err.Error(),
		})
	}
	if err := o.store.SetOutput(id, owner, result); err != nil {
		o.log.Error("Could not record task output", map[string]interface{}{
			"task": id, "error": err.Error(),
		})
	}

	o.pipeline.Capture(ctx, agent.Session(), id, owner, task.StatusFinished)
	o.collectCookies(ctx, agent, id, owner)
	o.notify(ctx, id, owner, webhook.EventTaskCompleted, webhook.CompletedPayload(id, result))

	o.log.RunFinished(id, time.Since(start))
}

// fail records the failure and lands the task in the failed state.
func (o *Orchestrator) fail(ctx context.Context, id, owner string, start time.Time, cause error) {
	if err := o.store.UpdateStatus(id, owner, task.StatusFailed); err != nil {
		o.log.Error("Could not mark task failed", map[string]interface{}{
			"task": id, "error": err.Error(),
		})
	}
	if err := o.store.SetError(id, owner, cause.Error()); err != nil {
		o.log.Error("Could not record task error", map[string]interface{}{
			"task": id, "error": err.Error(),
		})
	}
	if err := o.store.MarkFinished(id, owner, task.StatusFailed); err != nil {
		o.log.Error("Could not finalize failed task", map[string]interface{}{
			"task": id, "error": err.Error(),
		})
	}

	o.notify(ctx, id, owner, webhook.EventTaskFailed, webhook.FailedPayload(id, cause.Error()))
	o.log.RunFailed(id, time.Since(start), cause)
}

// collectCookies stores session cookies when the task asked for them. A
// collection failure is recorded in the browser data, never as a task error.
func (o *Orchestrator) collectCookies(ctx context.Context, agent browser.Agent, id, owner string) {
	t, err := o.store.Get(id, owner)
	if err != nil || !t.SaveBrowserData {
		return
	}

	session := agent.Session()
	if session == nil {
		o.log.Warn("No browser session, skipping cookie collection", map[string]interface{}{
			"task": id,
		})
		return
	}

	cookies, err := session.GetCookies(ctx)
	if err != nil {
		o.log.Error("Failed to collect browser data", map[string]interface{}{
			"task": id, "error": err.Error(),
		})
		o.store.Update(id, owner, func(t *task.Task) {
			t.BrowserData = &task.BrowserData{Cookies: []map[string]interface{}{}, Error: err.Error()}
		})
		return
	}

	o.store.Update(id, owner, func(t *task.Task) {
		t.BrowserData = &task.BrowserData{Cookies: cookies}
	})
}

// notify delivers a completion webhook if the task subscribed to the event.
func (o *Orchestrator) notify(ctx context.Context, id, owner, event string, payload webhook.Payload) {
	t, err := o.store.Get(id, owner)
	if err != nil || !webhook.Subscribed(t.Webhook, event) {
		return
	}
	o.webhooks.Deliver(ctx, t.Webhook.URL, payload)
}

// cleanup releases the resources of a finished run. Every step is best
// effort; a failure here never changes the task outcome.
func (o *Orchestrator) cleanup(ctx context.Context, id, owner string, agent browser.Agent) {
	if agent != nil {
		agent.Stop()
		if session := agent.Session(); session != nil {
			if err := session.Close(ctx); err != nil {
				o.log.CleanupError(id, "close_browser", err)
			}
		}
	}
	o.store.RemoveAgent(id, owner)
}

// Stop requests termination. Terminal tasks report their state; tasks
// without a live agent land in stopped immediately, others move to
// stopping until the run goroutine observes the stop.
func (o *Orchestrator) Stop(id, owner string) (string, error) {
	t, err := o.store.Get(id, owner)
	if err != nil {
		return "", err
	}

	if t.Status.IsTerminal() {
		return fmt.Sprintf("Task already in terminal state: %s", t.Status), nil
	}

	agent := o.store.Agent(id, owner)
	if agent != nil {
		agent.Stop()
		if err := o.store.UpdateStatus(id, owner, task.StatusStopping); err != nil {
			return "", err
		}
		return "Task stopping", nil
	}

	if err := o.store.UpdateStatus(id, owner, task.StatusStopped); err != nil {
		return "", err
	}
	if err := o.store.MarkFinished(id, owner, task.StatusStopped); err != nil {
		return "", err
	}
	return "Task stopped (no agent found)", nil
}

// Pause suspends a running task.
func (o *Orchestrator) Pause(id, owner string) (string, error) {
	t, err := o.store.Get(id, owner)
	if err != nil {
		return "", err
	}
	if t.Status != task.StatusRunning {
		return fmt.Sprintf("Task status is %s, expected %s", t.Status, task.StatusRunning), nil
	}

	agent := o.store.Agent(id, owner)
	if agent == nil {
		return "Task could not be paused (no agent found)", nil
	}
	agent.Pause()
	if err := o.store.UpdateStatus(id, owner, task.StatusPaused); err != nil {
		return "", err
	}
	return "Task paused", nil
}

// Resume continues a paused task.
func (o *Orchestrator) Resume(id, owner string) (string, error) {
	t, err := o.store.Get(id, owner)
	if err != nil {
		return "", err
	}
	if t.Status != task.StatusPaused {
		return fmt.Sprintf("Task status is %s, expected %s", t.Status, task.StatusPaused), nil
	}

	agent := o.store.Agent(id, owner)
	if agent == nil {
		return "Task could not be resumed (no agent found)", nil
	}
	agent.Resume()
	if err := o.store.UpdateStatus(id, owner, task.StatusRunning); err != nil {
		return "", err
	}
	return "Task resumed", nil
}

// StatusView is the poll response: current status plus the final result or
// error once terminal.
type StatusView struct {
	Status task.Status `json:"status"`
	Result *string     `json:"result"`
	Error  *string     `json:"error"`
}

// Poll reports the task status. Each poll of a running task appends one
// synthetic progress step and attempts an in-flight screenshot.
func (o *Orchestrator) Poll(ctx context.Context, id, owner string) (*StatusView, error) {
	t, err := o.store.Get(id, owner)
	if err != nil {
		return nil, err
	}

	if t.Status == task.StatusRunning {
		err := o.store.Update(id, owner, func(t *task.Task) {
			number := t.LastStepNumber() + 1
			t.Steps = append(t.Steps, task.Step{
				Number:                 number,
				Timestamp:              time.Now().UTC(),
				NextGoal:               fmt.Sprintf("Progress check %d", number),
				EvaluationPreviousGoal: "In progress",
			})
		})
		if err != nil {
			o.log.Warn("Could not record progress step", map[string]interface{}{
				"task": id, "error": err.Error(),
			})
		}
	}

	if agent := o.store.Agent(id, owner); agent != nil {
		o.pipeline.Automated(ctx, agent, id, owner)
	}

	return &StatusView{Status: t.Status, Result: t.Output, Error: t.Error}, nil
}

// Shutdown sweeps every non-terminal task into the stopped state and
// releases its agent handle. Called once, during server shutdown.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	for _, t := range o.store.All() {
		if t.Status.IsTerminal() {
			continue
		}

		o.log.Info("Cleaning up running task", map[string]interface{}{
			"task": t.ID, "status": t.Status.String(),
		})

		if agent := o.store.Agent(t.ID, t.Owner); agent != nil {
			agent.Stop()
			o.store.RemoveAgent(t.ID, t.Owner)
		}
		if err := o.store.UpdateStatus(t.ID, t.Owner, task.StatusStopped); err != nil {
			o.log.Error("Could not stop task during shutdown", map[string]interface{}{
				"task": t.ID, "error": err.Error(),
			})
			continue
		}
		if err := o.store.MarkFinished(t.ID, t.Owner, task.StatusStopped); err != nil {
			o.log.Error("Could not finalize task during shutdown", map[string]interface{}{
				"task": t.ID, "error": err.Error(),
			})
		}
	}

	o.log.Info("Task cleanup completed", nil)
	return nil
}

// Wait blocks until every background run has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
