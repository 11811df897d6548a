package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nocapro/tool-generation-protocol-sub000/internal/config"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a new tgp workspace",
	Long: `Creates a default tgp.yaml, a tools/ directory, an empty meta.json
registry, and a .gitignore in the workspace root.

Run this once before "tgp serve" in a fresh checkout.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite an existing tgp.yaml")
}

func runInit(cmd *cobra.Command, args []string) error {
	root, err := resolveWorkspace()
	if err != nil {
		return err
	}

	cfgFile := configFilePath(root)
	if _, err := os.Stat(cfgFile); err == nil && !forceInit {
		return fmt.Errorf("%s already exists (use --force to overwrite)", cfgFile)
	}

	def := config.Default(root)
	out, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(cfgFile, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", cfgFile, err)
	}

	toolsDir := filepath.Join(root, "tools")
	if err := os.MkdirAll(toolsDir, 0o755); err != nil {
		return fmt.Errorf("create tools dir: %w", err)
	}

	metaPath := filepath.Join(root, "meta.json")
	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		if err := os.WriteFile(metaPath, []byte("{\n  \"tools\": {}\n}\n"), 0o644); err != nil {
			return fmt.Errorf("write meta.json: %w", err)
		}
	}

	gitignorePath := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		if err := os.WriteFile(gitignorePath, []byte("tgp.yaml\n.tgp/\n"), 0o644); err != nil {
			return fmt.Errorf("write .gitignore: %w", err)
		}
	}

	fmt.Printf("Initialized tgp workspace at %s\n", root)
	fmt.Println("Edit tgp.yaml to set git.repo and git.auth.token, then run: tgp serve")
	return nil
}

func resolveWorkspace() (string, error) {
	if workspace != "" {
		return filepath.Abs(workspace)
	}
	return os.Getwd()
}

func configFilePath(root string) string {
	if filepath.IsAbs(configPath) {
		return configPath
	}
	return filepath.Join(root, configPath)
}
