package handlers

import (
	"automator/internal/bus"
	"automator/internal/config"
	"automator/internal/executor"
	"automator/internal/services"
	"automator/internal/store"
)

// Deps is everything the handler layer needs. Wired once at startup,
// before the router is built.
type Deps struct {
	Cfg       *config.Config
	Records   *store.Records
	Exec      *executor.Executor
	Recording *services.RecordingService
	Hub       *bus.Hub
}

var deps Deps

// Init wires the handler layer.
func Init(d Deps) {
	deps = d
}
