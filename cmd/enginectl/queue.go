package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newQueueCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the job queue",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print waiting, delayed, active and dead job counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			counts, err := a.Queue.Counts(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, counts)
		},
	})
	return cmd
}

func newDLQCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Manage dead-lettered jobs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			jobs, err := a.Queue.DeadLetters(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, jobs)
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs to list")

	replay := &cobra.Command{
		Use:   "replay <job-id>...",
		Short: "Move dead-lettered jobs back to the waiting set",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range args {
				if err := a.Queue.ReplayDeadLetter(cmd.Context(), id); err != nil {
					return fmt.Errorf("replay %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "replayed %s\n", id)
			}
			return nil
		},
	}

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete every dead-lettered job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open()
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Queue.PurgeDeadLetters(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d jobs\n", n)
			return nil
		},
	}

	cmd.AddCommand(list, replay, purge)
	return cmd
}
