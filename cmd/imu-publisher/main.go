package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"imu-pubsub/internal/config"
	"imu-pubsub/internal/logging"
	"imu-pubsub/internal/session"
)

func main() {
	shutdown := session.NewShutdownFlag()
	stop := session.NotifyOnSignal(shutdown)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat, session.RolePublisher.String())
	slog.SetDefault(log)

	if err := session.Run(context.Background(), cfg, session.RolePublisher, shutdown, session.Options{Logger: log}); err != nil {
		var initErr *session.InitializationError
		if errors.As(err, &initErr) {
			log.Error("initialization failed", "step", initErr.Step, "error", initErr.Err)
		} else {
			log.Error("imu publisher failed", "error", err)
		}
		stop()
		os.Exit(1)
	}
}
