// Package processcmder provides the process command for running the
// extraction pipeline over pending chunks.
package processcmder

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

type processCommander struct {
	sessionID string
	configDir string

	debug  bool
	logger *zap.Logger
}

const processLongDesc string = `Run the extraction pipeline over unprocessed chunks.

Each pending chunk is embedded and distilled into graph nodes and weighted
relationships. Use --session to restrict the batch to one session's chunks.

Examples:
  engram process
  engram process --session standup-2026-08`

const processShortDesc string = "Process pending memory chunks"

func NewProcessCmd() *cobra.Command {
	cmder := &processCommander{}

	cmd := &cobra.Command{
		Use:   "process",
		Short: processShortDesc,
		Long:  processLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			return cmder.run()
		},
	}

	cmd.Flags().StringVar(&cmder.sessionID, "session", "", "Only process chunks for this session id")

	return cmd
}

func (c *processCommander) run() error {
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

	result, err := eng.ProcessAll(ctx, engine.ProcessOptions{SessionID: c.sessionID})
	if err != nil {
		return fmt.Errorf("processing: %w", err)
	}

	fmt.Printf("Processed %d chunk(s): %d node(s), %d relationship(s)\n",
		result.ChunksProcessed, result.NodesCreated, result.RelationshipsCreated)
	return nil
}
