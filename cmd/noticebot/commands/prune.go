package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opennotice/noticebot/internal/logging"
)

// NewPruneCmd constructs the `noticebot prune` command, which deletes old
// superseded versions from the notice store.
func NewPruneCmd() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old superseded notice versions",
		Long: `Delete superseded notice versions beyond the most recent --keep per
version chain. The current version of every notice is always retained.

Examples:
  noticebot prune
  noticebot prune --keep 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if keep == 0 {
				keep = getEnvInt("INGEST_KEEP_VERSIONS", 5)
			}
			if keep < 1 {
				return fmt.Errorf("prune: --keep must be at least 1, got %d", keep)
			}

			st, err := openStore(log)
			if err != nil {
				return fmt.Errorf("prune: %w", err)
			}
			defer func() { _ = st.Close() }()

			deleted, err := st.PruneVersions(ctx, keep)
			if err != nil {
				return fmt.Errorf("prune: %w", err)
			}

			fmt.Printf("pruned %d superseded notice versions (keeping %d per chain)\n", deleted, keep)
			return nil
		},
	}

	cmd.Flags().IntVarP(&keep, "keep", "k", 0, "Versions to retain per chain (default: INGEST_KEEP_VERSIONS or 5)")

	return cmd
}
