// Package searchcmder provides the search command for querying stored
// memories.
package searchcmder

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/logger"
	"github.com/papercomputeco/engram/pkg/retrieval"
	"github.com/papercomputeco/engram/pkg/setup"
)

type searchCommander struct {
	query     string
	strategy  string
	sessionID string
	limit     int
	minScore  float64
	quiet     bool
	configDir string

	debug  bool
	logger *zap.Logger
}

const searchLongDesc string = `Search stored memories.

Runs one of the retrieval strategies over the knowledge graph:
  vector       embedding similarity only
  graph        similarity seeds expanded with their relationships
  completion   entity- and concept-seeded traversal
  summary      summary nodes with their recorded sources
  hybrid       vector and completion merged

Use --quiet to output only node ids, one per line, for piping into other
commands.

Examples:
  engram search "what is the capital of France"
  engram search "deployment issues" --strategy graph --session ops-reviews
  engram search "key decisions" --strategy summary --top 3`

const searchShortDesc string = "Search stored memories"

func NewSearchCmd() *cobra.Command {
	cmder := &searchCommander{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: searchShortDesc,
		Long:  searchLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.query = args[0]
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			return cmder.run()
		},
	}

	cmd.Flags().StringVar(&cmder.strategy, "strategy", string(retrieval.StrategyVector), "Retrieval strategy (vector, graph, completion, summary, hybrid)")
	cmd.Flags().StringVar(&cmder.sessionID, "session", "", "Scope results to a session id")
	cmd.Flags().IntVarP(&cmder.limit, "top", "k", retrieval.DefaultLimit, "Number of results to return")
	cmd.Flags().Float64Var(&cmder.minScore, "min-score", 0, "Minimum similarity score for vector candidates")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "Output only node ids, one per line (for piping)")

	return cmd
}

func (c *searchCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	cfger, err := config.NewConfiger(c.configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg, err := cfger.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Processing.AutoProcess = false

	ctx := context.Background()
	eng, err := setup.Engine(ctx, cfg, c.logger)
	if err != nil {
		return fmt.Errorf("assembling engine: %w", err)
	}
	defer eng.Close()

	strategy := retrieval.ParseStrategy(c.strategy)
	results := eng.Search(ctx, strategy, retrieval.Query{
		Text:      c.query,
		SessionID: c.sessionID,
		Limit:     c.limit,
		MinScore:  c.minScore,
	})

	if len(results) == 0 {
		if !c.quiet {
			fmt.Println("No results found.")
		}
		return nil
	}

	if c.quiet {
		for _, result := range results {
			fmt.Println(result.Node.ID)
		}
		return nil
	}

	fmt.Printf("\nSearch results for %q (%s):\n\n", c.query, strategy)
	for i, result := range results {
		c.printResult(i+1, result)
	}
	return nil
}

func (c *searchCommander) printResult(rank int, result retrieval.Result) {
	preview := strings.ReplaceAll(result.Node.Content, "\n", " ")
	if len(preview) > 80 {
		preview = preview[:77] + "..."
	}

	fmt.Printf("  #%d  score: %.4f  [%s]  %s\n", rank, result.Score, result.Node.Type, result.Node.ID)
	fmt.Printf("      %s\n", preview)

	if result.Context != "" {
		for _, line := range strings.Split(result.Context, "\n") {
			fmt.Printf("      %s\n", line)
		}
	}
	fmt.Println()
}
