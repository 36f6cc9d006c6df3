// Package addcmder provides the add command for ingesting text into memory.
package addcmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/logger"
	"github.com/papercomputeco/engram/pkg/setup"
)

type addCommander struct {
	text      string
	sessionID string
	source    string
	process   bool
	configDir string

	debug  bool
	logger *zap.Logger
}

const addLongDesc string = `Ingest text into memory.

The text is chunked and stored for later processing. Use --process to run
the extraction pipeline immediately instead of waiting for a server's
background batches.

Examples:
  engram add "Paris is the capital of France"
  engram add "standup notes ..." --session standup-2026-08 --process
  cat notes.md | xargs -0 engram add`

const addShortDesc string = "Ingest text into memory"

func NewAddCmd() *cobra.Command {
	cmder := &addCommander{}

	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: addShortDesc,
		Long:  addLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.text = args[0]
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			return cmder.run()
		},
	}

	cmd.Flags().StringVar(&cmder.sessionID, "session", "", "Session id to scope the memory to")
	cmd.Flags().StringVar(&cmder.source, "source", "", "Source identifier recorded on the chunks")
	cmd.Flags().BoolVar(&cmder.process, "process", false, "Run the extraction pipeline immediately")

	return cmd
}

func (c *addCommander) run() error {
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

	// One-shot invocation: debounced background batches would be cut off
	// at exit, so processing only happens when asked for.
	cfg.Processing.AutoProcess = false

	ctx := context.Background()
	eng, err := setup.Engine(ctx, cfg, c.logger)
	if err != nil {
		return fmt.Errorf("assembling engine: %w", err)
	}
	defer eng.Close()

	ids, err := eng.Add(ctx, c.text, engine.AddOptions{
		SessionID: c.sessionID,
		Source:    c.source,
	})
	if err != nil {
		return fmt.Errorf("adding memory: %w", err)
	}
	fmt.Printf("Added %d chunk(s)\n", len(ids))

	if c.process {
		result, err := eng.ProcessAll(ctx, engine.ProcessOptions{SessionID: c.sessionID})
		if err != nil {
			return fmt.Errorf("processing: %w", err)
		}
		fmt.Printf("Processed %d chunk(s): %d node(s), %d relationship(s)\n",
			result.ChunksProcessed, result.NodesCreated, result.RelationshipsCreated)
	}

	return nil
}
