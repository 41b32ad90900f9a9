package main

import (
	"log/slog"
	"os"

	"github.com/cora-robotics/cora-server/cmd"
	"github.com/cora-robotics/cora-server/internal/logging"
)

// version and buildDate are injected at link time.
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("CORA_DEBUG") != "" {
		level = slog.LevelDebug
	}
	logging.Init(level)

	rootCmd := cmd.RootCommand(version, buildDate)
	rootCmd.Version = version + " (" + buildDate + ")"

	if err := rootCmd.Execute(); err != nil {
		logging.Fatal("Command failed", "error", err)
	}
}
