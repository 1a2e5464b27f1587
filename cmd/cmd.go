// Package cmd provides CLI commands for the librarian service.
//
// Commands:
//   - serve: HTTP API server with SSE chat streaming
//   - mcp: Model Context Protocol server for IDE integration
//
// Signal handling and graceful shutdown are implemented
// for all commands via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/librarian-ai/librarian/internal/log"
)

// Execute is the main entry point for the librarian application.
func Execute() error {
	if len(os.Args) < 2 {
		return runServe()
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "mcp":
		return runMCP()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// initLogger builds the process-wide logger and installs it as the
// slog default.
func initLogger(level string, json bool) log.Logger {
	if os.Getenv("DEBUG") != "" {
		level = "debug"
	}
	logger := log.New(log.Config{Level: parseLevel(level), JSON: json})
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("Librarian - streaming research assistant over a curated document library")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  librarian              Start the HTTP API server")
	fmt.Println("  librarian serve        Start the HTTP API server")
	fmt.Println("  librarian mcp          Start the MCP server (stdio transport)")
	fmt.Println("  librarian --version    Show version information")
	fmt.Println("  librarian --help       Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY         Required: Gemini API key")
	fmt.Println("  DATABASE_URL           Optional: overrides postgres_* config values")
	fmt.Println("  LIBRARIAN_ADDR         Optional: listen address (default :8080)")
	fmt.Println("  DEBUG                  Optional: enable debug logging")
}
