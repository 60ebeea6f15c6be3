package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/termweave/termweave/internal/auth"
	"github.com/termweave/termweave/internal/config"
	"github.com/termweave/termweave/internal/database"
	"github.com/termweave/termweave/internal/handlers"
	"github.com/termweave/termweave/internal/logging"
	"github.com/termweave/termweave/internal/middleware"
	"github.com/termweave/termweave/internal/pty"
	"github.com/termweave/termweave/internal/session"
	"github.com/termweave/termweave/internal/ws"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--create-admin":
			runCLICommand("create-admin")
			return
		case "--reset-password":
			runCLICommand("reset-password")
			return
		}
	}

	config.Load()
	logging.Init()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	if !pty.Available() {
		log.Printf("WARNING: tmux not found; sessions will not survive broker restarts")
	}

	registry := session.NewRegistry(session.Config{
		TmuxPrefix:           config.Cfg.TmuxPrefix,
		Shell:                config.Cfg.Shell,
		KeepDetachedSessions: config.Cfg.KeepDetachedSessions,
		PendingBufferLimit:   config.Cfg.PendingBufferLimit,
		History:              database.Store{},
	})
	handlers.Registry = registry

	// Reap tmux sessions left behind by a previous crash.
	if n := registry.ReconcileExternal(); n > 0 {
		log.Printf("Startup reconcile: %d orphaned tmux sessions removed", n)
	}

	tokens := auth.NewTokenStore(config.Cfg.TokenTTL)
	handlers.Tokens = tokens

	wsHandler := &ws.Handler{
		Registry:           registry,
		Verifier:           tokens,
		Macros:             database.Store{},
		HeartbeatInterval:  config.Cfg.HeartbeatInterval,
		HeartbeatMaxMissed: config.Cfg.HeartbeatMaxMissed,
		ResizeDebounce:     config.Cfg.ResizeDebounce,
	}

	// Periodic maintenance: orphan sweep and token cleanup.
	sched := cron.New()
	if _, err := sched.AddFunc(config.Cfg.OrphanSweepSchedule, func() {
		if n := registry.ReconcileExternal(); n > 0 {
			log.Printf("Periodic reconcile: %d orphaned tmux sessions removed", n)
		}
	}); err != nil {
		log.Fatalf("Invalid orphan sweep schedule %q: %v", config.Cfg.OrphanSweepSchedule, err)
	}
	sched.AddFunc("@every 10m", tokens.Cleanup)
	sched.Start()
	defer sched.Stop()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.HealthCheck)

	// Terminal WebSocket: authentication happens in-protocol via the auth
	// message, not through the REST middleware.
	r.Get("/ws", wsHandler.ServeWS)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", handlers.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(tokens))

			r.Post("/auth/logout", handlers.Logout)
			r.Get("/auth/me", handlers.GetCurrentUser)

			r.Get("/sessions", handlers.ListMySessions)
			r.Get("/sessions/shareable", handlers.ListShareableSessions)
			r.Delete("/sessions/{id}", handlers.DeleteSession)

			r.Get("/history", handlers.GetHistory)

			r.Get("/macros", handlers.ListMacros)
			r.Post("/macros", handlers.SaveMacro)
			r.Delete("/macros/{name}", handlers.DeleteMacro)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin)
				r.Get("/logs", handlers.GetServerLogs)
				r.Delete("/logs", handlers.ClearServerLogs)
			})
		})
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("termweave listening on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	registry.ShutdownAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	username := fs.String("username", "", "Username")
	password := fs.String("password", "", "Password")
	fs.Parse(os.Args[2:])

	if *username == "" || *password == "" {
		fmt.Fprintf(os.Stderr, "Usage: termweave --%s --username <user> --password <pass>\n", command)
		os.Exit(1)
	}

	config.Load()
	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	switch command {
	case "create-admin":
		user := &database.User{
			Username:     *username,
			PasswordHash: hash,
			Role:         "admin",
			HomeDir:      os.Getenv("HOME"),
		}
		if err := database.CreateUser(user); err != nil {
			log.Fatalf("Failed to create admin: %v", err)
		}
		fmt.Printf("Admin user '%s' created successfully.\n", *username)

	case "reset-password":
		user, err := database.GetUserByUsername(*username)
		if err != nil {
			log.Fatalf("User '%s' not found", *username)
		}
		if err := database.UpdateUserPassword(user.ID, hash); err != nil {
			log.Fatalf("Failed to update password: %v", err)
		}
		fmt.Printf("Password reset for '%s'. Existing tokens expire within the token TTL.\n", *username)
	}
}
