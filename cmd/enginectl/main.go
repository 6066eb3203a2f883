// Command enginectl runs operator tasks against the automation engine's
// database and queue.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"instagram-automation/internal/app"
	"instagram-automation/internal/config"
	"instagram-automation/internal/kv"
	"instagram-automation/internal/logging"
)

// rootOptions is shared by every subcommand.
type rootOptions struct {
	cfg *config.Config
}

// open builds the application graph with the dead-letter connection.
func (o *rootOptions) open() (*app.App, error) {
	return app.New(o.cfg, kv.RoleDeadLetter)
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "enginectl",
		Short:         "Operate the Instagram automation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.cfg = config.LoadConfig()
			logging.Setup(opts.cfg.LogLevel, opts.cfg.LogFormat)
		},
	}

	root.AddCommand(
		newMigrateCommand(opts),
		newSyncSequencesCommand(opts),
		newCopyDataCommand(opts),
		newValidateCommand(opts),
		newSnapshotCommand(opts),
		newQueueCommand(opts),
		newDLQCommand(opts),
	)
	return root
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
