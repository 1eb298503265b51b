package main

import (
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/splitpay/internal/config"
	"github.com/alfredjeanlab/splitpay/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:               "migrate [up|down]",
	Short:             "Apply or revert the Postgres schema",
	GroupID:           "system",
	PersistentPreRunE: noClient,
	Args:              cobra.MaximumNArgs(1),
	ValidArgs:         []string{"up", "down"},
	RunE: func(cmd *cobra.Command, args []string) error {
		up := true
		if len(args) == 1 {
			switch args[0] {
			case "up":
			case "down":
				up = false
			default:
				return fmt.Errorf("unknown direction %q (must be up or down)", args[0])
			}
		}

		_ = godotenv.Load()
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return errors.New("SPLITPAY_DATABASE_URL is required for migrate")
		}
		if err := postgres.Migrate(cfg.DatabaseURL, up); err != nil {
			return err
		}
		if up {
			fmt.Println("migrations applied")
		} else {
			fmt.Println("migrations reverted")
		}
		return nil
	},
}
