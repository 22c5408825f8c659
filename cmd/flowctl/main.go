// flowctl is the operational CLI: schema migration and dev-data seeding.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"flowline/backend/internal/config"
	"flowline/backend/internal/logging"
	"flowline/backend/internal/repository"
	"flowline/backend/pkg/models"
)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:   "flowctl",
		Short: "Operational tooling for the Flowline workflow service",
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the database schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPool(cmd.Context(), configFile, func(ctx context.Context, pool *pgxpool.Pool) error {
					return repository.Migrate(ctx, pool)
				})
			},
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Create a dev user with a couple of example workflows",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPool(cmd.Context(), configFile, seed)
			},
		},
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func withPool(ctx context.Context, configFile string, fn func(context.Context, *pgxpool.Pool) error) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, pool)
}

func seed(ctx context.Context, pool *pgxpool.Pool) error {
	logger := logging.New(logging.FromEnv())

	if err := repository.Migrate(ctx, pool); err != nil {
		return err
	}
	store := repository.NewPostgresStore(pool)

	// The dev bypass logs in as dev@localhost, so seed under that account.
	user, err := store.GetUserByEmail(ctx, "dev@localhost")
	if err != nil {
		user = &models.User{Email: "dev@localhost", FullName: "Dev User"}
		if err := store.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("failed to create dev user: %w", err)
		}
		logger.Info("created dev user", "id", user.ID)
	} else {
		logger.Info("found existing dev user", "id", user.ID)
	}

	existing, err := store.ListWorkflows(ctx, user.ID)
	if err != nil {
		return err
	}
	existingNames := make(map[string]bool)
	for _, w := range existing {
		existingNames[w.Name] = true
	}

	for _, wf := range seedWorkflows(user.ID) {
		if existingNames[wf.Name] {
			logger.Info("skipping existing workflow", "name", wf.Name)
			continue
		}
		if err := store.CreateWorkflow(ctx, wf); err != nil {
			logger.Error("failed to seed workflow", "name", wf.Name, "error", err)
			continue
		}
		logger.Info("seeded workflow", "name", wf.Name, "id", wf.ID)
	}

	logger.Info("seeding complete")
	return nil
}

func seedWorkflows(ownerID string) []*models.Workflow {
	return []*models.Workflow{
		{
			ID:          uuid.New().String(),
			OwnerID:     ownerID,
			Name:        "Echo Input",
			Description: "Passes its input straight to the output node.",
			Nodes: []models.Node{
				{ID: "in", Type: "input", Label: "Input", X: 80, Y: 120},
				{ID: "out", Type: "output", Label: "Output", X: 420, Y: 120},
			},
			Edges: []models.Edge{
				{ID: "e1", Source: "in", Target: "out"},
			},
		},
		{
			ID:          uuid.New().String(),
			OwnerID:     ownerID,
			Name:        "Summarize Text",
			Description: "Sends the input text through an AI summarization step.",
			Nodes: []models.Node{
				{ID: "in", Type: "input", Label: "Input", X: 80, Y: 120},
				{ID: "ai", Type: "ai", Label: "Summarize", X: 280, Y: 120, Properties: map[string]any{
					"prompt": "Summarize the following text in three sentences.",
					"model":  "gpt-4o-mini",
				}},
				{ID: "out", Type: "output", Label: "Output", X: 480, Y: 120},
			},
			Edges: []models.Edge{
				{ID: "e1", Source: "in", Target: "ai"},
				{ID: "e2", Source: "ai", Target: "out"},
			},
		},
	}
}
