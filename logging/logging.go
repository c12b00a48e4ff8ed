// Package logging provides leveled key=value console output.
// The Task record is THE record of truth for a run's outcome. This package
// provides real-time output for monitoring, derived from lifecycle events.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger provides structured logging to stdout.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	taskID    string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		taskID:    l.taskID,
	}
}

// WithTask returns a new logger that stamps every line with the task ID.
func (l *Logger) WithTask(taskID string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		taskID:    taskID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}
	if l.taskID != "" {
		fieldStr = fmt.Sprintf(" task=%s%s", l.taskID, fieldStr)
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Lifecycle logging methods ---
// Called by the orchestrator and pipelines as runs progress. They provide
// real-time output without duplicating what the Task record already holds.

// TaskSubmitted logs acceptance of a new task.
func (l *Logger) TaskSubmitted(taskID, provider, owner string) {
	l.Info("task_submitted", map[string]interface{}{
		"task":     taskID,
		"provider": provider,
		"owner":    owner,
	})
}

// RunStarted logs the transition of a task to running.
func (l *Logger) RunStarted(taskID string) {
	l.Info("run_started", map[string]interface{}{
		"task": taskID,
	})
}

// RunFinished logs a successful run.
func (l *Logger) RunFinished(taskID string, duration time.Duration) {
	l.Info("run_finished", map[string]interface{}{
		"task":     taskID,
		"duration": duration.String(),
	})
}

// RunFailed logs a failed run.
func (l *Logger) RunFailed(taskID string, duration time.Duration, err error) {
	l.Error("run_failed", map[string]interface{}{
		"task":     taskID,
		"duration": duration.String(),
		"error":    err.Error(),
	})
}

// CleanupError logs a best-effort cleanup step that failed. Never fatal.
func (l *Logger) CleanupError(taskID, step string, err error) {
	l.Warn("cleanup_error", map[string]interface{}{
		"task":  taskID,
		"step":  step,
		"error": err.Error(),
	})
}

// ScreenshotSaved logs a persisted capture artifact.
func (l *Logger) ScreenshotSaved(taskID, filename string, size int) {
	l.Info("screenshot_saved", map[string]interface{}{
		"task":     taskID,
		"filename": filename,
		"bytes":    size,
	})
}

// ScreenshotSkipped logs a capture that was dropped (duplicate, invalid, or
// session unavailable).
func (l *Logger) ScreenshotSkipped(taskID, reason string) {
	l.Debug("screenshot_skipped", map[string]interface{}{
		"task":   taskID,
		"reason": reason,
	})
}

// WebhookResult logs the outcome of a webhook delivery.
func (l *Logger) WebhookResult(taskID, event string, attempts int, ok bool) {
	fields := map[string]interface{}{
		"task":     taskID,
		"event":    event,
		"attempts": attempts,
	}
	if ok {
		l.Info("webhook_delivered", fields)
	} else {
		l.Warn("webhook_failed", fields)
	}
}
