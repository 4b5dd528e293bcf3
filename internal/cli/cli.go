//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package cli implements the command-line interface for pgedge-pmdw.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgEdge/pgedge-pmdw/internal/config"
	"github.com/pgEdge/pgedge-pmdw/internal/logging"
	"github.com/pgEdge/pgedge-pmdw/internal/transform"
	"github.com/pgEdge/pgedge-pmdw/pkg/version"
)

var (
	// Global flags
	cfgFile   string
	envFile   string
	profile   string
	logLevel  string
	logFormat string

	// Global config
	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "pgedge-pmdw",
		Short: "Project-management data warehouse loader for PostgreSQL",
		Long: `pgedge-pmdw extracts clients, employees, teams, projects and tasks
from an operational project-management database and loads them into a
star-schema warehouse of dimension and fact tables.

A run is all-or-nothing: readers of the warehouse see either the previous
load or the complete new one, never a partial run.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./pgedge-pmdw.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "",
		"dotenv file loaded before reading the environment (default: ./.env)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "",
		"connection profile (local, test, or one defined in the config file)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"log format (console, json)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(strategiesCmd)
}

func initConfig() error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}

	// --profile beats PMDW_PROFILE, and must be chosen before the endpoint
	// overrides are applied.
	getenv := os.Getenv
	if profile != "" {
		cfg.Profile = profile
		getenv = func(key string) string {
			if key == config.EnvPrefix+"PROFILE" {
				return ""
			}
			return os.Getenv(key)
		}
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return err
	}

	// Override with CLI flags
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}

	// Reinitialize logger with config
	logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogFormat != "json",
	})

	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logging.Info().
				Str("signal", sig.String()).
				Msg("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func connectTimeout() time.Duration {
	return time.Duration(cfg.Run.ConnectTimeout) * time.Second
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version.Info())
	},
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List available connection profiles",
	Long: `List the connection profiles known to the current configuration.
Each profile carries its own complete source and destination endpoints;
passwords are never printed.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("Available profiles:")
		cmd.Println()
		for _, name := range cfg.ProfileNames() {
			p := cfg.Profiles[name]
			marker := " "
			if name == cfg.Profile {
				marker = "*"
			}
			cmd.Printf("%s %s\n", marker, name)
			cmd.Printf("    source:      %s\n", p.Source.Redacted())
			cmd.Printf("    destination: %s\n", p.Destination.Redacted())
		}
	},
}

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List available transform strategies",
	Long: `List the strategies that compute fact measures. All strategies
produce identical warehouse contents for identical sources.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Println("Available strategies:")
		cmd.Println()
		for _, name := range transform.List() {
			desc, err := transform.Describe(name)
			if err != nil {
				return err
			}
			marker := " "
			if name == cfg.Run.Strategy {
				marker = "*"
			}
			cmd.Printf("%s %-12s - %s\n", marker, name, desc)
		}
		return nil
	},
}
