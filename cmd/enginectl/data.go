package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"instagram-automation/internal/automation"
	"instagram-automation/internal/cache"
	"instagram-automation/internal/database"
	"instagram-automation/internal/models"
	"instagram-automation/internal/store"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Open(opts.cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			return database.Migrate(db)
		},
	}
}

func newSyncSequencesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-sequences",
		Short: "Realign Postgres id sequences after a bulk import",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Open(opts.cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			return database.SyncSequences(db)
		},
	}
}

type copyOptions struct {
	from      string
	batchSize int
}

func newCopyDataCommand(opts *rootOptions) *cobra.Command {
	copyOpts := &copyOptions{}

	cmd := &cobra.Command{
		Use:   "copy-data",
		Short: "Copy every table from another database into the configured one",
		Long: `Copies rows table by table from --from into DATABASE_DSN.

Rows whose primary key already exists in the destination are skipped, so the
command can be re-run after a partial copy. Sequences are realigned at the end.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if copyOpts.from == "" {
				return fmt.Errorf("--from is required")
			}
			src, err := database.Open(copyOpts.from)
			if err != nil {
				return fmt.Errorf("source: %w", err)
			}
			dst, err := database.Open(opts.cfg.DatabaseDSN)
			if err != nil {
				return fmt.Errorf("destination: %w", err)
			}
			if err := database.Migrate(dst); err != nil {
				return err
			}

			for _, m := range models.All() {
				table := m.(schema.Tabler).TableName()
				n, err := copyTable(src, dst, table, copyOpts.batchSize)
				if err != nil {
					return fmt.Errorf("copy %s: %w", table, err)
				}
				log.WithFields(log.Fields{"table": table, "rows": n}).Info("Copied table")
			}
			return database.SyncSequences(dst)
		},
	}

	cmd.Flags().StringVar(&copyOpts.from, "from", "", "source database DSN (sqlite path or postgres URL)")
	cmd.Flags().IntVar(&copyOpts.batchSize, "batch-size", 200, "rows per insert")
	return cmd
}

func copyTable(src, dst *gorm.DB, table string, batchSize int) (int, error) {
	var rows []map[string]interface{}
	if err := src.Table(table).Find(&rows).Error; err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	err := dst.Transaction(func(tx *gorm.DB) error {
		return tx.Table(table).
			Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(rows, batchSize).Error
	})
	return len(rows), err
}

func newValidateCommand(opts *rootOptions) *cobra.Command {
	var deactivate bool

	cmd := &cobra.Command{
		Use:   "validate-automations",
		Short: "Report automations whose documents do not parse",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			var rows []models.Automation
			if err := a.DB.WithContext(ctx).Order("workspace_id, id").Find(&rows).Error; err != nil {
				return err
			}

			invalid := 0
			for _, row := range rows {
				_, perr := automation.ParseFlow(row)
				if perr == nil {
					continue
				}
				invalid++
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%v\n", row.WorkspaceID, row.ID, perr)

				if deactivate && row.IsActive {
					if _, err := a.Store.SetAutomationActive(ctx, row.ID, false); err != nil {
						return fmt.Errorf("deactivate %s: %w", row.ID, err)
					}
					a.Cache.Invalidate(ctx, cache.AutomationsPrefix(row.WorkspaceID)+"*", cache.StatsKey)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d automations invalid\n", invalid, len(rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&deactivate, "deactivate", false, "switch off every invalid automation")
	return cmd
}

func newSnapshotCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage the known-media snapshot used for next-post linking",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "record <workspace-id> <media-id>...",
		Short: "Mark media as existing so they never link a waiting automation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Open(opts.cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			s := store.New(db)
			for _, mediaID := range args[1:] {
				if err := s.RecordMedia(cmd.Context(), args[0], mediaID); err != nil {
					return fmt.Errorf("record %s: %w", mediaID, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %d media\n", len(args)-1)
			return nil
		},
	})
	return cmd
}
