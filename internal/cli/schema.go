package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgEdge/pgedge-pmdw/internal/db"
	"github.com/pgEdge/pgedge-pmdw/internal/logging"
	"github.com/pgEdge/pgedge-pmdw/internal/source"
	"github.com/pgEdge/pgedge-pmdw/internal/warehouse"
)

var schemaTarget string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create or drop the source and warehouse schemas",
	Long: `Manage the schemas of the selected profile. The warehouse schema is
also created on demand by every run.

Example:
  pgedge-pmdw schema create --target warehouse
  pgedge-pmdw schema drop --target all --profile test`,
}

var schemaCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create schema tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchema(cmd.Context(), false)
	},
}

var schemaDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop schema tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchema(cmd.Context(), true)
	},
}

func init() {
	schemaCmd.PersistentFlags().StringVar(&schemaTarget, "target", "warehouse",
		"schema to manage: source, warehouse or all")
	schemaCmd.AddCommand(schemaCreateCmd)
	schemaCmd.AddCommand(schemaDropCmd)
}

func runSchema(ctx context.Context, drop bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var doSource, doWarehouse bool
	switch schemaTarget {
	case "source":
		doSource = true
	case "warehouse":
		doWarehouse = true
	case "all":
		doSource, doWarehouse = true, true
	default:
		return fmt.Errorf("invalid target %q (must be source, warehouse or all)", schemaTarget)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	p, err := cfg.Selected()
	if err != nil {
		return err
	}

	action := "create"
	if drop {
		action = "drop"
	}

	if doSource {
		logging.Info().Str("source", p.Source.Redacted()).Str("action", action).Msg("Source schema")
		pool, err := db.Connect(ctx, p.Source.ConnectionString(), db.PoolOptions{
			Name: "schema", ConnectTimeout: connectTimeout(),
		})
		if err != nil {
			return fmt.Errorf("failed to connect to source database: %w", err)
		}
		if drop {
			err = source.DropSchema(ctx, pool)
		} else {
			err = source.CreateSchema(ctx, pool)
		}
		pool.Close()
		if err != nil {
			return fmt.Errorf("failed to %s source schema: %w", action, err)
		}
	}

	if doWarehouse {
		logging.Info().Str("destination", p.Destination.Redacted()).Str("action", action).Msg("Warehouse schema")
		pool, err := db.Connect(ctx, p.Destination.ConnectionString(), db.PoolOptions{
			Name: "schema", ConnectTimeout: connectTimeout(),
		})
		if err != nil {
			return fmt.Errorf("failed to connect to destination database: %w", err)
		}
		store := warehouse.NewPostgres(pool, cfg.Profile)
		if drop {
			err = store.DropSchema(ctx)
		} else {
			err = store.EnsureSchema(ctx)
		}
		pool.Close()
		if err != nil {
			return fmt.Errorf("failed to %s warehouse schema: %w", action, err)
		}
	}

	return nil
}
