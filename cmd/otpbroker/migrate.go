package main

import (
	"errors"

	"github.com/MrEthical07/otpbroker/userstore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the users table in Postgres",
	Long: `Applies the user store schema to the database in database.url
(OTPBROKER_DATABASE_URL). The schema is idempotent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if conf.Database.URL == "" {
			return errors.New("database.url is not set")
		}

		ctx := cmd.Context()
		pool, err := userstore.Open(ctx, conf.Database.URL, conf.Database.MaxConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		store, err := userstore.NewPostgres(pool, userstore.WithSchema(conf.Database.Schema))
		if err != nil {
			return err
		}
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("migrated", zap.String("schema", conf.Database.Schema))
		return nil
	},
}
