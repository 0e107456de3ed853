// HookClaw - Telegram webhook gateway
// License: MIT

package main

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/zhaopengme/hookclaw/pkg/config"
)

func statusCmd(args []string) error {
	var common commonFlags
	fs := pflag.NewFlagSet("hookclaw status", pflag.ContinueOnError)
	common.add(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hookclaw status [flags]\n\nFlags:\n%s", fs.FlagUsages())
	}
	if err := parseFlags(fs, args); err != nil {
		if errors.Is(err, errHelpShown) {
			return nil
		}
		return err
	}

	cfg, err := config.LoadConfig(common.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Printf("%s hookclaw Status\n", logo)
	b := currentBuild()
	fmt.Printf("Version: %s\n", b)
	for _, line := range b.details() {
		fmt.Println(line)
	}
	fmt.Println()

	if common.configPath != "" {
		if _, err := os.Stat(common.configPath); err == nil {
			fmt.Println("Config:", common.configPath, "✓")
		} else {
			fmt.Println("Config:", common.configPath, "✗")
		}
	}

	status := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "not set"
	}
	fmt.Println("Bot token:", status(cfg.Telegram.Token != ""))
	fmt.Println("Admin chat:", status(cfg.AdminChatID != 0))
	if cfg.PublicURL != "" {
		fmt.Println("Webhook:", cfg.WebhookURL())
	} else {
		fmt.Println("Webhook: not set")
	}
	fmt.Println("Listen:", cfg.ListenAddr())
	if cfg.Queue.Limit > 0 {
		fmt.Println("Queue limit:", cfg.Queue.Limit)
	} else {
		fmt.Println("Queue limit: unbounded")
	}

	if cfg.Session.Storage != "" {
		n, err := countSnapshots(cfg.Session.Storage)
		switch {
		case errors.Is(err, iofs.ErrNotExist):
			fmt.Printf("Contexts: %s (not created)\n", cfg.Session.Storage)
		case err != nil:
			fmt.Printf("Contexts: %s (%v)\n", cfg.Session.Storage, err)
		default:
			fmt.Printf("Contexts: %s (%d saved, snapshot %q)\n", cfg.Session.Storage, n, cfg.Session.SnapshotCron)
		}
	} else {
		fmt.Println("Contexts: in memory")
	}

	if err := cfg.Validate(); err != nil {
		fmt.Println()
		fmt.Println("Configuration problems:")
		fmt.Printf("  %v\n", err)
	}
	return nil
}

// countSnapshots counts the context files in dir without creating or loading
// anything.
func countSnapshots(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, "context_") && filepath.Ext(name) == ".json" {
			n++
		}
	}
	return n, nil
}
