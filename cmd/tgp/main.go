// Package main is the entry point for the tgp CLI, the host process that
// boots a Kernel and exposes its six meta-tools to an agent harness.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath string
	workspace  string
	debug      bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tgp",
	Short: "Tool Generation Protocol kernel — author, validate, persist, and run agent-defined tools",
	Long: `tgp hosts the Tool Generation Protocol kernel: a jailed virtual
filesystem, a Git-backed persistence layer, a tool registry, and an
embedded sandbox, all reachable through six fixed meta-tools
(list_files, read_file, write_file, patch_file, check_tool, exec_tool).

Run "tgp serve" to expose those meta-tools over stdio MCP, or "tgp init"
to scaffold a new workspace.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if debug {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "tgp.yaml", "Path to the kernel's YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace root directory (default: current directory)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug-level logging")

	rootCmd.AddCommand(initCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
