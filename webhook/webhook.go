// Package webhook delivers task completion notifications to subscriber URLs.
// Delivery is best effort: a failed notification is reported to the caller
// as a boolean and logged, but never changes the outcome of the task it
// describes.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/vinayprograms/browserbridge/logging"
	"github.com/vinayprograms/browserbridge/task"
)

// Event names carried in the notification envelope.
const (
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"
)

// Delivery policy.
const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = time.Second
	requestTimeout     = 10 * time.Second
)

// Result is the payload body for a successful run.
type Result struct {
	FinalResult string `json:"final_result"`
}

// Payload is the notification envelope posted to the subscriber.
type Payload struct {
	Event     string  `json:"event"`
	TaskID    string  `json:"task_id"`
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	Result    *Result `json:"result,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Dispatcher posts notifications with bounded retries. The zero delay
// between attempts doubles each time, starting from the base backoff.
type Dispatcher struct {
	client      *http.Client
	log         *logging.Logger
	maxAttempts int
	baseBackoff time.Duration
}

// NewDispatcher creates a dispatcher with the default delivery policy.
func NewDispatcher(log *logging.Logger) *Dispatcher {
	return &Dispatcher{
		client:      &http.Client{Timeout: requestTimeout},
		log:         log.WithComponent("webhook"),
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
	}
}

// SetBaseBackoff overrides the first retry delay. Tests shrink it.
func (d *Dispatcher) SetBaseBackoff(delay time.Duration) {
	d.baseBackoff = delay
}

// Subscribed reports whether the task wants a notification for event. An
// empty events list with a URL set means subscribe to everything.
func Subscribed(cfg task.WebhookConfig, event string) bool {
	if cfg.URL == "" {
		return false
	}
	if len(cfg.Events) == 0 {
		return true
	}
	for _, e := range cfg.Events {
		if e == event {
			return true
		}
	}
	return false
}

// CompletedPayload builds the envelope for a successful run.
func CompletedPayload(taskID, finalResult string) Payload {
	return Payload{
		Event:     EventTaskCompleted,
		TaskID:    taskID,
		Status:    task.StatusFinished.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Result:    &Result{FinalResult: finalResult},
	}
}

// FailedPayload builds the envelope for a failed run.
func FailedPayload(taskID, reason string) Payload {
	return Payload{
		Event:     EventTaskFailed,
		TaskID:    taskID,
		Status:    task.StatusFailed.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Error:     reason,
	}
}

// Deliver posts the payload to url, retrying on any failure with doubling
// delays. Returns true once a 2xx response arrives, false after the last
// attempt fails. Never returns an error: delivery failures stay advisory.
func (d *Dispatcher) Deliver(ctx context.Context, url string, payload Payload) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		d.log.Error("Could not encode webhook payload", map[string]interface{}{
			"task":  payload.TaskID,
			"event": payload.Event,
			"error": err.Error(),
		})
		return false
	}

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if d.post(ctx, url, body) {
			d.log.WebhookResult(payload.TaskID, payload.Event, attempt, true)
			return true
		}
		if attempt == d.maxAttempts {
			break
		}

		delay := d.baseBackoff << (attempt - 1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			d.log.WebhookResult(payload.TaskID, payload.Event, attempt, false)
			return false
		}
	}

	d.log.WebhookResult(payload.TaskID, payload.Event, d.maxAttempts, false)
	return false
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
