// Command browserbridge serves the browser automation task API.
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/vinayprograms/browserbridge/api"
	"github.com/vinayprograms/browserbridge/browser"
	"github.com/vinayprograms/browserbridge/config"
	"github.com/vinayprograms/browserbridge/credentials"
	"github.com/vinayprograms/browserbridge/logging"
	"github.com/vinayprograms/browserbridge/orchestrator"
	"github.com/vinayprograms/browserbridge/screenshot"
	"github.com/vinayprograms/browserbridge/shutdown"
	"github.com/vinayprograms/browserbridge/task"
	"github.com/vinayprograms/browserbridge/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "browserbridge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := config.FromEnv()

	log := logging.New()
	log.SetLevel(logging.ParseLevel(cfg.LogLevel))

	if err := os.MkdirAll(cfg.MediaDir, 0o755); err != nil {
		return fmt.Errorf("create media directory: %w", err)
	}

	store := task.NewMemoryStore()
	pipeline := screenshot.NewPipeline(cfg.MediaDir, store, log)
	dispatcher := webhook.NewDispatcher(log)

	orch := orchestrator.New(orchestrator.Options{
		Store:       store,
		Credentials: credentials.NewManager(),
		Factory:     browser.SimulatedFactory{},
		Pipeline:    pipeline,
		Webhooks:    dispatcher,
		BrowserDefaults: browser.Defaults{
			Headful:        cfg.Headful,
			ChromePath:     cfg.ChromePath,
			ChromeUserData: cfg.ChromeUserData,
		},
		DefaultProvider: cfg.DefaultProvider,
		SensitiveData:   config.SensitiveData(),
		Log:             log,
	})

	server := api.NewServer(orch, store, cfg, log)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	coordCfg := shutdown.DefaultConfig()
	coordCfg.OnProgress = func(name string, phase int, err error) {
		fields := map[string]interface{}{"handler": name, "phase": phase}
		if err != nil {
			fields["error"] = err.Error()
			log.Warn("Shutdown handler failed", fields)
			return
		}
		log.Info("Shutdown handler completed", fields)
	}
	coord := shutdown.NewCoordinator(coordCfg)

	// Stop accepting requests before sweeping in-flight tasks.
	coord.RegisterFuncWithPhase("http", httpServer.Shutdown, 10)
	coord.RegisterFuncWithPhase("tasks", orch.Shutdown, 20)
	coord.HandleSignals()

	log.Info("Server listening", map[string]interface{}{
		"port":     cfg.Port,
		"provider": cfg.DefaultProvider,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-coord.Done():
		return coord.Err()
	}
}
