// Command wayfarer-devserver runs the in-memory development backend.
//
// Configuration is read from the environment:
//   - WAYFARER_HTTP_ADDR and the other WAYFARER_HTTP_* server settings
//   - WAYFARER_DEV_* backend settings (token TTLs, cookie names, keys)
//   - WAYFARER_LOG_LEVEL, WAYFARER_LOG_FORMAT
//   - WAYFARER_DEV_SEED_USER, WAYFARER_DEV_SEED_PASSWORD to create an account at startup
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"wayfarer/cmd/internal/app"
	"wayfarer/cmd/internal/devserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "wayfarer-devserver: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	log := app.NewLogger(os.Stdout,
		app.EnvString("WAYFARER_LOG_LEVEL", "info"),
		app.EnvString("WAYFARER_LOG_FORMAT", app.FormatPretty),
	)
	slog.SetDefault(log)

	cfg, err := devserver.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	srv, err := devserver.New(cfg, devserver.WithLogger(log))
	if err != nil {
		return err
	}

	if user := app.EnvString("WAYFARER_DEV_SEED_USER", ""); user != "" {
		pw := app.EnvString("WAYFARER_DEV_SEED_PASSWORD", "")
		id, err := srv.CreateUser(user, user+"@example.com", pw)
		if err != nil {
			return fmt.Errorf("seed user %q: %w", user, err)
		}
		log.Info("devserver.seed.user", "username", user, "user_id", id)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc := app.LoadServerConfig(":8080")
	return app.Serve(ctx, sc, srv.Handler(), log, func(addr string) {
		base := app.RuntimeBaseURL(addr)
		log.Info("devserver.ready", "url", base, "ws", app.WSBaseURL(base)+"/ws")
	})
}
