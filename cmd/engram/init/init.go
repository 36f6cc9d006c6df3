// Package initcmder provides the init command for initializing a local
// .engram directory in the current working directory.
package initcmder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/pkg/config"
)

const (
	dirName = ".engram"
)

const initLongDesc string = `Initialize a new .engram/ directory in the current working directory.

Creates a local .engram/ directory that takes precedence over the default
~/.engram/ directory for storage, configuration, and other engram
operations, and writes a config.toml scaffold with default values.

This is useful for maintaining separate memory stores per project or
directory.

Examples:
  engram init`

const initShortDesc string = "Initialize a local .engram/ directory"

func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runInit()
		},
	}

	return cmd
}

func runInit() error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dirName)

	info, err := os.Stat(dir)
	alreadyExisted := err == nil && info.IsDir()
	if !alreadyExisted {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating .engram directory: %w", err)
		}
	}

	// Scaffold config.toml, but never clobber an existing one.
	configPath := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		cfger, err := config.NewConfiger(dir)
		if err != nil {
			return fmt.Errorf("preparing config: %w", err)
		}
		if err := cfger.SaveConfig(config.NewDefaultConfig()); err != nil {
			return fmt.Errorf("writing config scaffold: %w", err)
		}
		fmt.Printf("Wrote default config: %s\n", configPath)
	}

	if alreadyExisted {
		fmt.Printf("Already initialized: %s\n", dir)
	} else {
		fmt.Printf("Initialized .engram directory: %s\n", dir)
	}
	return nil
}
