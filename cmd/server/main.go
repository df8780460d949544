// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/dmitrsh/pokerroom/internal/auth"
	"github.com/dmitrsh/pokerroom/internal/cache"
	"github.com/dmitrsh/pokerroom/internal/database"
	"github.com/dmitrsh/pokerroom/internal/handlers"
	"github.com/dmitrsh/pokerroom/internal/middleware"
	"github.com/dmitrsh/pokerroom/internal/room"
	"github.com/dmitrsh/pokerroom/internal/session"
	"github.com/dmitrsh/pokerroom/internal/validate"
)

func main() {
	auth.Init()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	ctx := context.Background()

	rdb, err := cache.Connect(ctx)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	db, err := database.Connect(ctx)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	store := room.NewStore(rdb)
	locks := room.NewKeyedMutex()

	hub, err := session.NewHub(logger)
	if err != nil {
		log.Fatalf("failed to create hub: %v", err)
	}
	defer hub.Shutdown()

	presence := room.NewPresence(room.NewRedisKV(rdb), store, locks, hub, logger)

	scheduler := session.NewScheduler(store, locks, db, hub, logger, session.DefaultCleanupDelay)
	scheduler.Start()
	defer scheduler.Stop()

	limiter := validate.NewRateLimiter()
	cheat := validate.NewAntiCheat(validate.NewRedisActionLog(rdb), logger)
	validator := validate.NewPipeline(limiter, store, cheat, logger)

	roomSvc := session.NewRoomService(store, locks, presence, db, hub, scheduler, logger)
	orchestrator := session.NewOrchestrator(store, locks, db, hub, logger)
	lifecycle := session.NewLifecycle(store, locks, presence, hub, scheduler, logger)

	// background maintenance
	go scheduler.ScanAndCleanup(ctx)
	scheduler.StartPeriodicScan(ctx, 10*time.Minute)
	presence.StartSweeper(ctx, 5*time.Minute)
	limiter.StartPurgeLoop(ctx, time.Minute)

	svc := &handlers.Services{
		Hub:          hub,
		Rooms:        roomSvc,
		Orchestrator: orchestrator,
		Lifecycle:    lifecycle,
		Validator:    validator,
		DB:           db,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.SessionWSHandler(logger, svc),
	)))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
