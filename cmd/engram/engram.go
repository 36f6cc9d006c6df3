// Package engramcmder
package engramcmder

import (
	"github.com/spf13/cobra"

	addcmder "github.com/papercomputeco/engram/cmd/engram/add"
	configcmder "github.com/papercomputeco/engram/cmd/engram/config"
	initcmder "github.com/papercomputeco/engram/cmd/engram/init"
	processcmder "github.com/papercomputeco/engram/cmd/engram/process"
	searchcmder "github.com/papercomputeco/engram/cmd/engram/search"
	servecmder "github.com/papercomputeco/engram/cmd/engram/serve"
	versioncmder "github.com/papercomputeco/engram/cmd/engram/version"
)

const engramLongDesc string = `Engram is a graph-backed memory store for conversational agents.

Ingested text is chunked, embedded, and distilled into a weighted knowledge
graph of entities, concepts, and summaries that can be searched by vector
similarity, graph traversal, or both.

Common commands:
  engram serve     Run the HTTP API server
  engram add       Ingest text into memory
  engram process   Run the extraction pipeline over pending chunks
  engram search    Query stored memories`

const engramShortDesc string = "Engram - Agent Memory"

func NewEngramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engram",
		Short: engramShortDesc,
		Long:  engramLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Path to a .engram/ directory (overrides discovery)")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(addcmder.NewAddCmd())
	cmd.AddCommand(processcmder.NewProcessCmd())
	cmd.AddCommand(searchcmder.NewSearchCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
