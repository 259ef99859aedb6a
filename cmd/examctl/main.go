package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go-exam-portal/internal/config"
	"go-exam-portal/internal/logger"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "examctl",
		Short:        "Exam portal administration CLI",
		Long:         `examctl manages the exam portal principal store: schema, admin bootstrap and account removal.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(createAdminCmd())
	rootCmd.AddCommand(deletePrincipalCmd())
	rootCmd.AddCommand(countCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.SetDefault(logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat))
	return cfg, nil
}
