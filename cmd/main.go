package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"automator/internal/api/handlers"
	"automator/internal/api/routes"
	"automator/internal/bus"
	"automator/internal/config"
	"automator/internal/executor"
	"automator/internal/services"
	"automator/internal/store"
	"automator/pkg/auth"
	"automator/pkg/chrome"
	"automator/pkg/database"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize JWT
	auth.InitJWT(cfg.JWT.Secret)

	// Initialize database
	if err := database.InitDatabase(cfg); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}

	records := store.NewRecords(database.DB)

	// One fabric carries all bus traffic; the hub attaches
	// websocket-connected extension contexts to it.
	fabric := bus.NewFabric()
	hub := bus.NewHub(fabric)

	// Replay browser: one shared instance drives scheduled and
	// on-demand executions.
	browser, err := chrome.Launch(context.Background(), chrome.Options{
		Headless: cfg.Chrome.HeadlessMode,
	})
	if err != nil {
		log.Fatal("Failed to launch replay browser:", err)
	}
	defer browser.Close()

	// The executor owns the replay tab: records relocate it to their
	// captured href and the in-page dispatcher reaches every
	// same-origin frame, so only another tab's actions go over the bus.
	exec := executor.New(executor.Config{
		IsTop:      true,
		DeepFrames: true,
		Source:     records,
		Bus:        fabric.Attach(bus.Identity{Kind: bus.ContextBackground}),
		Navigator:  browser,
		Dispatcher: chrome.NewDispatcher(browser),
		Scripts:    chrome.NewScriptHost(browser),
	})
	if err := exec.Start(context.Background()); err != nil {
		log.Fatal("Failed to start executor:", err)
	}

	recording := services.NewRecordingService(cfg)

	statusSync := services.NewStatusSyncService(database.DB, 30*time.Second, 30*time.Minute)
	statusSync.Start()

	handlers.Init(handlers.Deps{
		Cfg:       cfg,
		Records:   records,
		Exec:      exec,
		Recording: recording,
		Hub:       hub,
	})

	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize router
	router := routes.SetupRoutes(cfg)

	// Setup graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("Shutting down server...")

		exec.Stop()
		statusSync.Stop()
		recording.Shutdown()
		browser.Close()

		log.Println("Server shutdown complete")
		os.Exit(0)
	}()

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)

	if err := router.Run(addr); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
