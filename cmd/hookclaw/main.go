// HookClaw - Telegram webhook gateway
// License: MIT

package main

import (
	"fmt"
	"os"
	"runtime"
)

// Set with -ldflags "-X main.version=..." at release time.
var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const logo = "🪝"

type buildInfo struct {
	Version string
	Commit  string
	Built   string
	Go      string
}

func currentBuild() buildInfo {
	b := buildInfo{Version: version, Commit: gitCommit, Built: buildTime, Go: goVersion}
	if b.Go == "" {
		b.Go = runtime.Version()
	}
	return b
}

func (b buildInfo) String() string {
	if b.Commit == "" {
		return b.Version
	}
	return b.Version + " (git: " + b.Commit + ")"
}

// details lists the build time and toolchain, skipping whatever is unknown.
func (b buildInfo) details() []string {
	var out []string
	if b.Built != "" {
		out = append(out, "Build: "+b.Built)
	}
	if b.Go != "" {
		out = append(out, "Go: "+b.Go)
	}
	return out
}

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	command := os.Args[1]

	var err error
	switch command {
	case "gateway":
		err = gatewayCmd(os.Args[2:])
	case "status":
		err = statusCmd(os.Args[2:])
	case "version", "--version", "-v":
		b := currentBuild()
		fmt.Printf("%s hookclaw %s\n", logo, b)
		for _, line := range b.details() {
			fmt.Println("  " + line)
		}
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printHelp()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("%s hookclaw - Telegram webhook gateway v%s\n\n", logo, version)
	fmt.Println("Usage: hookclaw <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  gateway     Register the webhook and serve updates")
	fmt.Println("  status      Show the effective configuration")
	fmt.Println("  version     Show version information")
	fmt.Println()
	fmt.Println("Run 'hookclaw <command> --help' for command flags.")
}
