package common

import (
	"fmt"
	"io"
	"strings"

	"github.com/ternarybob/banner"
)

// PrintBanner writes the startup banner and logs the same details.
func PrintBanner(w io.Writer, config *Config, mode string, logger *Logger) {
	info := GetVersionInfo()

	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	hr := lineColor + strings.Repeat("═", 60) + banner.ColorReset

	fmt.Fprintf(w, "\n%s\n\n", hr)
	fmt.Fprintf(w, "%s  YIELDWATCH  %s%s\n", textColor, mode, banner.ColorReset)
	fmt.Fprintf(w, "%s  Market data sync & dividend safety%s\n", textColor, banner.ColorReset)
	fmt.Fprintf(w, "\n%s\n\n", hr)

	storage := config.Storage.Backend
	switch storage {
	case BackendBadger:
		storage += " (" + config.Storage.Badger.Path + ")"
	case BackendSurrealDB:
		storage += " (" + config.Storage.SurrealDB.Address + ")"
	}

	kvLines := [][2]string{
		{"Version", info.Version},
		{"Build", info.Build},
		{"Commit", info.Commit},
		{"Environment", config.Environment},
		{"Storage", storage},
		{"Market", fmt.Sprintf("%s %s-%s", config.Market.Timezone, config.Market.OpenTime, config.Market.CloseTime)},
	}
	if mode == "server" {
		kvLines = append(kvLines, [2]string{"Service URL", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)})
	}
	for _, kv := range kvLines {
		fmt.Fprintf(w, "%s  %-14s %s%s\n", textColor, kv[0], kv[1], banner.ColorReset)
	}
	fmt.Fprintf(w, "\n%s\n\n", hr)

	logger.Info().
		Str("version", info.Version).
		Str("commit", info.Commit).
		Str("environment", config.Environment).
		Str("mode", mode).
		Str("storage", storage).
		Msg("Application started")
}

// PrintShutdownBanner writes the shutdown banner.
func PrintShutdownBanner(w io.Writer, logger *Logger) {
	hr := banner.ColorCyan + strings.Repeat("═", 42) + banner.ColorReset
	fmt.Fprintf(w, "\n%s\n%s  YIELDWATCH SHUTTING DOWN%s\n%s\n\n", hr, banner.ColorBold+banner.ColorWhite, banner.ColorReset, hr)
	logger.Info().Msg("Application shutting down")
}
