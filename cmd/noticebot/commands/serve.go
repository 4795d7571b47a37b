package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/opennotice/noticebot/internal/generation"
	"github.com/opennotice/noticebot/internal/logging"
	"github.com/opennotice/noticebot/internal/provider"
	"github.com/opennotice/noticebot/internal/rag"
	"github.com/opennotice/noticebot/internal/server"
	"github.com/opennotice/noticebot/internal/tracing"
	"github.com/opennotice/noticebot/internal/vecindex"
)

// NewServeCmd constructs the `noticebot serve` command, which starts the
// HTTP server with the chat, search and admin APIs.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the noticebot HTTP server",
		Long: `Start the noticebot HTTP server on localhost.

The server exposes a streaming chat API (SSE), notice search, stats,
health endpoints, and a token-protected admin API for ingestion and
index maintenance.

Examples:
  noticebot serve
  noticebot serve --port 9090
  MODEL_PROVIDER=azure noticebot serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			gen, err := generation.New(chatModel, generation.Config{})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			emb, err := newEmbedder(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			st, err := openStore(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = st.Close() }()

			vectorPath, mappingPath := indexPaths()
			ix, err := vecindex.Load(log, vectorPath, mappingPath, emb.Dim())
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			c := newCache()
			defer c.Close()

			remote, err := newRemote(ctx, log, emb.Dim())
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			if remote != nil {
				defer func() { _ = remote.Close() }()
			}

			// Prefer the remote backend for search when configured; the
			// local index still serves as the ingestion target and the
			// /api/stats vector count.
			var searcher rag.Searcher
			if remote != nil {
				searcher = remote
			} else {
				local, lerr := rag.NewLocalSearcher(ix)
				if lerr != nil {
					return fmt.Errorf("serve: %w", lerr)
				}
				searcher = local
			}

			orch, err := rag.NewOrchestrator(emb, searcher, st, gen, ragOptions())
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			pipeline, err := newPipeline(st, emb, ix, c, remote)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			var pingers []server.Pinger
			if os.Getenv("MODEL_PROVIDER") == "" || os.Getenv("MODEL_PROVIDER") == "ollama" {
				ollamaHost := getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
				pingers = append(pingers, server.NamedPinger("model", generation.NewPinger(ollamaHost).Ping))
			}
			if remote != nil {
				pingers = append(pingers, server.NamedPinger("qdrant", remote.Ping))
			}

			srv, err := server.New(orch, st, c, ix, pipeline, &server.Config{
				Host:     host,
				Port:     port,
				Logger:   log,
				Pingers:  pingers,
				AdminKey: os.Getenv("NOTICEBOT_ADMIN_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
