package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgEdge/pgedge-pmdw/internal/datagen"
	"github.com/pgEdge/pgedge-pmdw/internal/db"
	"github.com/pgEdge/pgedge-pmdw/internal/logging"
	"github.com/pgEdge/pgedge-pmdw/internal/source"
)

var (
	seedProjects     int
	seedTasks        int
	seedSeed         int64
	seedDropExisting bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Populate the operational database with fake data",
	Long: `Create the operational project-management schema in the source
database and populate it with deterministic fake clients, employees,
teams, projects and tasks. The same seed always produces the same data.

Example:
  pgedge-pmdw seed --projects 200 --seed 7
  pgedge-pmdw seed --drop-existing --profile test`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().IntVar(&seedProjects, "projects", 0,
		"number of projects to generate")
	seedCmd.Flags().IntVar(&seedTasks, "tasks-per-project", 0,
		"average number of tasks per project")
	seedCmd.Flags().Int64Var(&seedSeed, "seed", 0,
		"random seed")
	seedCmd.Flags().BoolVar(&seedDropExisting, "drop-existing", false,
		"drop existing source tables before seeding")
}

func runSeed(cmd *cobra.Command, args []string) error {
	// Override config with CLI flags
	if seedProjects > 0 {
		cfg.Seed.Projects = seedProjects
	}
	if seedTasks > 0 {
		cfg.Seed.TasksPerProject = seedTasks
	}
	if seedSeed != 0 {
		cfg.Seed.Seed = seedSeed
	}
	if seedDropExisting {
		cfg.Seed.DropExisting = true
	}

	// Validate configuration
	if err := cfg.ValidateSeed(); err != nil {
		return err
	}
	p, err := cfg.Selected()
	if err != nil {
		return err
	}

	logging.Info().
		Str("source", p.Source.Redacted()).
		Int("projects", cfg.Seed.Projects).
		Int64("seed", cfg.Seed.Seed).
		Msg("Seeding source database")

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, p.Source.ConnectionString(), db.PoolOptions{
		Name: "seed", ConnectTimeout: connectTimeout(),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to source database: %w", err)
	}
	defer pool.Close()

	// Drop existing schema if requested
	if cfg.Seed.DropExisting {
		logging.Info().Msg("Dropping existing source schema")
		if err := source.DropSchema(ctx, pool); err != nil {
			return fmt.Errorf("failed to drop schema: %w", err)
		}
	}

	logging.Info().Msg("Creating source schema")
	if err := source.CreateSchema(ctx, pool); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	faker := datagen.NewFakerWithSeed(uint64(cfg.Seed.Seed))
	snap := datagen.Generate(faker, datagen.Config{
		Clients:         cfg.Seed.Clients,
		Employees:       cfg.Seed.Employees,
		Teams:           cfg.Seed.Teams,
		Projects:        cfg.Seed.Projects,
		TasksPerProject: cfg.Seed.TasksPerProject,
		Now:             time.Now().UTC().Truncate(time.Second),
	})

	if err := datagen.Write(ctx, pool, snap); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}

	logging.Info().Msg("Source database seeded")
	return nil
}
