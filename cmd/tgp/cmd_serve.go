package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nocapro/tool-generation-protocol-sub000/internal/config"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/kernel"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/logging"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/mcpadapter"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/metatools"
)

var serveMCP bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Boot the kernel and serve its meta-tools",
	Long: `Loads tgp.yaml, boots the Kernel (clones or opens the configured Git
remote, hydrates the tool registry), and then serves the six meta-tools.

With --mcp (the default), meta-tools are exposed over stdio using the
Model Context Protocol so an external agent harness can drive them.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", true, "Serve meta-tools over stdio MCP")
}

func runServe(cmd *cobra.Command, args []string) error {
	root, err := resolveWorkspace()
	if err != nil {
		return err
	}

	cfg, err := config.Load(configFilePath(root), root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logging.Init(logging.Config{Level: cfg.Logging.Level, Dir: cfg.Logging.Dir, JSONFormat: cfg.Logging.JSONFormat}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	k, err := kernel.New(cfg)
	if err != nil {
		return fmt.Errorf("construct kernel: %w", err)
	}
	if err := k.Boot(ctx); err != nil {
		return fmt.Errorf("boot kernel: %w", err)
	}
	defer k.Shutdown()

	mt := metatools.New(k)

	if !serveMCP {
		<-ctx.Done()
		return nil
	}
	return mcpadapter.Serve(ctx, mt)
}
