package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawcore/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			switch cfg.Store.Backend {
			case "postgres":
				// Opening the store applies embedded migrations.
				st, err := store.NewPostgresStore(cfg.Store.PostgresDSN)
				if err != nil {
					return err
				}
				defer st.Close()
				fmt.Println("postgres migrations applied")
			case "sqlite":
				st, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
				if err != nil {
					return err
				}
				defer st.Close()
				fmt.Println("sqlite schema up to date")
			default:
				fmt.Printf("store backend %q needs no migrations\n", cfg.Store.Backend)
			}
			return nil
		},
	}
}
