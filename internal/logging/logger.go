package logging

import (
	"log/slog"
	"os"
)

func Init(instanceID string) *slog.Logger {
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	handler = newRedactingHandler(handler)
	logger := slog.New(handler).With("instance_id", instanceID)
	slog.SetDefault(logger)
	return logger
}
