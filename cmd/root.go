// Package cmd wires the sentry subcommands: the alert pipeline server,
// roster enrollment, and an alert listing for the terminal.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/doggobot/sentry/internal/store"
)

// Version is the application version.
const Version = "0.1.0"

var (
	// DB is the alert store shared by subcommands.
	DB *store.Store
	// Logger is the process-wide structured logger.
	Logger *slog.Logger

	dbURL   string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:     "sentry",
	Short:   "Doorway detection alert pipeline",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		Logger = slog.New(
			tint.NewHandler(os.Stderr, &tint.Options{
				Level:      level,
				TimeFormat: "15:04:05",
			}),
		)

		// Build the connection string from the environment when no flag was
		// provided.
		if dbURL == "" {
			if host := os.Getenv("POSTGRES_HOST"); host != "" {
				user := os.Getenv("POSTGRES_USER")
				pass := os.Getenv("POSTGRES_PASSWORD")
				name := os.Getenv("POSTGRES_DB")
				port := os.Getenv("POSTGRES_PORT")
				if port == "" {
					port = "5432"
				}
				dbURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
			} else {
				dbURL = "postgres://localhost:5432/sentry"
			}
		}

		if err := store.InitSchema(cmd.Context(), dbURL); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}

		var err error
		DB, err = store.New(cmd.Context(), dbURL, Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
	},
}

// Execute runs the CLI under a signal-cancelled context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "",
		"PostgreSQL connection string (default: built from POSTGRES_* env, else postgres://localhost:5432/sentry)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
