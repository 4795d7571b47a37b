package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opennotice/noticebot/internal/logging"
	"github.com/opennotice/noticebot/internal/vecindex"
)

// NewRebuildCmd constructs the `noticebot rebuild` command, which
// re-embeds every current notice and rebuilds the vector index from
// scratch. Use it after changing the embedding model or repairing a
// corrupted index.
func NewRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the vector index from all current notices",
		Long: `Re-embed every current (non-superseded) notice and rebuild the vector
index from scratch. The old index is replaced atomically and persisted.

Run this after switching embedding models, since vectors from different
models are not comparable.

Examples:
  noticebot rebuild
  EMBEDDING_MODEL=nomic-embed-text noticebot rebuild`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			emb, err := newEmbedder(log)
			if err != nil {
				return fmt.Errorf("rebuild: %w", err)
			}

			st, err := openStore(log)
			if err != nil {
				return fmt.Errorf("rebuild: %w", err)
			}
			defer func() { _ = st.Close() }()

			// Start from an empty index — rebuild replaces everything.
			ix, err := vecindex.New(emb.Dim())
			if err != nil {
				return fmt.Errorf("rebuild: %w", err)
			}

			remote, err := newRemote(ctx, log, emb.Dim())
			if err != nil {
				return fmt.Errorf("rebuild: %w", err)
			}
			if remote != nil {
				defer func() { _ = remote.Close() }()
			}

			pipeline, err := newPipeline(st, emb, ix, nil, remote)
			if err != nil {
				return fmt.Errorf("rebuild: %w", err)
			}

			n, err := pipeline.RebuildIndex(ctx)
			if err != nil {
				return fmt.Errorf("rebuild: %w", err)
			}

			fmt.Printf("rebuilt index with %d notices\n", n)
			return nil
		},
	}

	return cmd
}
