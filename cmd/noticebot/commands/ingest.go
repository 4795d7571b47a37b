package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opennotice/noticebot/internal/ingestion"
	"github.com/opennotice/noticebot/internal/logging"
	"github.com/opennotice/noticebot/internal/notice"
	"github.com/opennotice/noticebot/internal/vecindex"
)

// NewIngestCmd constructs the `noticebot ingest` command, which reads
// notice candidates from JSONL files and runs them through the ingestion
// pipeline: validate, dedup, version, embed, index.
func NewIngestCmd() *cobra.Command {
	var files []string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest notice candidates from JSONL files",
		Long: `Read notice candidates from JSONL files (one JSON object per line) and
run them through the ingestion pipeline.

Unchanged notices are deduplicated by content hash. A notice whose title
matches an existing one but whose content changed becomes a new version,
superseding the old one. Accepted notices are embedded and added to the
vector index, which is persisted after the batch.

Required environment variables mirror 'noticebot serve': the embedding
backend (EMBEDDING_* / MODEL_PROVIDER) and optionally QDRANT_* for the
remote vector backend.

Examples:
  noticebot ingest --file notices.jsonl
  noticebot ingest -f exams.jsonl -f holidays.jsonl
  noticebot ingest -f notices.jsonl --config ./noticebot.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if len(files) == 0 {
				return fmt.Errorf("ingest: at least one --file is required")
			}

			var cands []notice.Candidate
			for _, f := range files {
				batch, err := ingestion.LoadCandidates(f)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				log.Info("candidates loaded", slog.String("file", f), slog.Int("count", len(batch)))
				cands = append(cands, batch...)
			}

			emb, err := newEmbedder(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			st, err := openStore(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = st.Close() }()

			vectorPath, mappingPath := indexPaths()
			ix, err := vecindex.Load(log, vectorPath, mappingPath, emb.Dim())
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			remote, err := newRemote(ctx, log, emb.Dim())
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if remote != nil {
				defer func() { _ = remote.Close() }()
			}

			pipeline, err := newPipeline(st, emb, ix, nil, remote)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			stats, err := pipeline.IngestBatch(ctx, cands)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			fmt.Printf("ingested %d candidates: %d created, %d updated, %d unchanged, %d failed, %d indexed\n",
				len(cands), stats.Created, stats.Updated, stats.Unchanged, stats.Failed, stats.Indexed)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "JSONL file of notice candidates (repeatable)")

	return cmd
}
