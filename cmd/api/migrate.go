package main

import (
	"beacon-chat/internal/repository"
	"beacon-chat/pkg/database"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l := bootstrap()
			defer l.Sync()

			db, err := database.Connect(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			if err := repository.InitSchema(db); err != nil {
				return err
			}
			l.Infof("schema is up to date")
			return nil
		},
	})
}
