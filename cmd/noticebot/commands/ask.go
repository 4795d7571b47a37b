package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opennotice/noticebot/internal/generation"
	"github.com/opennotice/noticebot/internal/logging"
	"github.com/opennotice/noticebot/internal/notice"
	"github.com/opennotice/noticebot/internal/provider"
	"github.com/opennotice/noticebot/internal/rag"
	"github.com/opennotice/noticebot/internal/vecindex"
)

// NewAskCmd constructs the `noticebot ask` command, which answers a single
// question from the command line and streams the response to stdout.
func NewAskCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the ingested notices",
		Long: `Ask a natural language question about the ingested notices and stream
the answer to stdout, followed by the notices it cites.

Examples:
  noticebot ask "when is the end-semester exam?"
  noticebot ask --category fees "what is the late payment penalty?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			var f rag.Filter
			if category != "" {
				c := notice.Category(category)
				if !c.Valid() {
					return fmt.Errorf("ask: unknown category %q", category)
				}
				f.Category = c
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}
			gen, err := generation.New(chatModel, generation.Config{})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			emb, err := newEmbedder(log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			st, err := openStore(log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = st.Close() }()

			vectorPath, mappingPath := indexPaths()
			ix, err := vecindex.Load(log, vectorPath, mappingPath, emb.Dim())
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			remote, err := newRemote(ctx, log, emb.Dim())
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			if remote != nil {
				defer func() { _ = remote.Close() }()
			}

			var searcher rag.Searcher
			if remote != nil {
				searcher = remote
			} else {
				local, lerr := rag.NewLocalSearcher(ix)
				if lerr != nil {
					return fmt.Errorf("ask: %w", lerr)
				}
				searcher = local
			}

			orch, err := rag.NewOrchestrator(emb, searcher, st, gen, ragOptions())
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			question := strings.Join(args, " ")
			answer, err := orch.QueryStream(ctx, question, f, nil, func(fragment string) error {
				_, werr := fmt.Fprint(os.Stdout, fragment)
				return werr
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			fmt.Println()

			if len(answer.Sources) > 0 {
				fmt.Println("\nSources:")
				for i, s := range answer.Sources {
					fmt.Printf("  [%d] %s (%s, published %s)", i+1, s.Title, s.Category, s.Published.Format("2006-01-02"))
					if s.URL != "" {
						fmt.Printf(" %s", s.URL)
					}
					fmt.Println()
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "Restrict retrieval to one notice category")

	return cmd
}
