// Package shutdown provides graceful shutdown coordination for the server.
//
// Handlers are registered with a phase; lower phases are shut down first
// and handlers in the same phase run concurrently. The server registers the
// HTTP listener in an early phase so no new tasks arrive while the task
// sweep in a later phase lands every in-flight task in a terminal state.
//
// Basic usage with signal handling:
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.HandleSignals() // SIGTERM, SIGINT
//
//	coord.RegisterFuncWithPhase("http", srv.Shutdown, 10)
//	coord.RegisterFuncWithPhase("tasks", orch.Shutdown, 20)
//
//	<-coord.Done()
package shutdown
