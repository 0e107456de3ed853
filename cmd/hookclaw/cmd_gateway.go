// HookClaw - Telegram webhook gateway
// License: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/zhaopengme/hookclaw/pkg/config"
	"github.com/zhaopengme/hookclaw/pkg/gateway"
	"github.com/zhaopengme/hookclaw/pkg/logger"
	"github.com/zhaopengme/hookclaw/pkg/telegram"
)

type commonFlags struct {
	configPath string
}

func (f *commonFlags) add(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", os.Getenv("HOOKCLAW_CONFIG"), "path to a YAML or JSON config file")
}

// parseFlags returns errHelpShown after printing usage for -h.
func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errHelpShown
		}
		return err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return nil
}

var errHelpShown = errors.New("help shown")

func gatewayCmd(args []string) error {
	var common commonFlags
	var debug, skipWebhook bool

	fs := pflag.NewFlagSet("hookclaw gateway", pflag.ContinueOnError)
	common.add(fs)
	fs.BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	fs.BoolVar(&skipWebhook, "skip-webhook", false, "do not call setWebhook on startup")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hookclaw gateway [flags]\n\nFlags:\n%s", fs.FlagUsages())
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
	if debug {
		cfg.Log.Level = "debug"
	}
	if skipWebhook {
		cfg.SkipWebhook = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	client, err := telegram.NewClient(cfg.Telegram)
	if err != nil {
		return err
	}

	gw, err := gateway.New(cfg, client)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("%s hookclaw %s listening on %s\n", logo, currentBuild(), cfg.ListenAddr())
	if !cfg.SkipWebhook {
		fmt.Printf("  Webhook: %s\n", cfg.WebhookURL())
	}
	fmt.Println("Press Ctrl+C to stop")

	if err := gw.Run(ctx); err != nil {
		return err
	}
	fmt.Println("✓ Gateway stopped")
	return nil
}
