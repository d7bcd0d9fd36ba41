package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"farmgate/internal/config"
	"farmgate/internal/model"
	"farmgate/internal/repository"
)

// newConfigCommand manages game config records in Postgres. Running servers
// pick the change up through the change feed.
func newConfigCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage game configuration records",
	}
	cmd.AddCommand(newConfigPutCommand(configPath), newConfigDeleteCommand(configPath), newConfigListCommand(configPath))
	return cmd
}

func openConfigRepository(configPath string) (repository.ConfigRepository, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.State.Backend == "memory" {
		return nil, nil, errors.New("config commands need the postgres store (state.backend: redis)")
	}
	db, err := config.NewPostgresDB(cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.Postgres.AutoMigrate {
		if err := model.AutoMigrate(db, cfg.Sync.Channel); err != nil {
			return nil, nil, err
		}
	}
	closeFn := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return repository.NewPGConfigRepository(db), closeFn, nil
}

func newConfigPutCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "put <type> <file.json>",
		Short: "Create or replace the config of a type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			if !sonic.ConfigStd.Valid(payload) {
				return fmt.Errorf("%s is not valid JSON", args[1])
			}

			repo, closeFn, err := openConfigRepository(*configPath)
			if err != nil {
				return err
			}
			defer closeFn()

			rec, err := repo.Put(cmd.Context(), args[0], payload)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", rec.ConfigType, rec.ID)
			return err
		},
	}
}

func newConfigDeleteCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <type>",
		Short: "Delete the config of a type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeFn, err := openConfigRepository(*configPath)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := repo.Delete(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return fmt.Errorf("no config of type %q", args[0])
				}
				return err
			}
			return nil
		},
	}
}

func newConfigListCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List config records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeFn, err := openConfigRepository(*configPath)
			if err != nil {
				return err
			}
			defer closeFn()

			records, err := repo.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, rec := range records {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", rec.ConfigType, rec.ID, rec.UpdatedAt.Format(time.RFC3339)); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
