package main

import (
	"cmp"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "set":
		return runSetNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		if hasHelpFlag(args) {
			printSystemStartHelp()
			return 0
		}
		return runStart(args)
	case "watch":
		if hasHelpFlag(args) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(args)
	case "doctor":
		return runConfigCheck(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: fwup version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		return printJSON(info)
	}

	fmt.Printf("fwup %s\ncommit: %s\nbuilt_at: %s\n", info.Version, info.Commit, info.BuildTime)
	return 0
}

// currentVersionInfo prefers ldflags values and falls back to the VCS
// stamp the toolchain embeds.
func currentVersionInfo() versionInfo {
	vcs := vcsSettings()
	info := versionInfo{
		Version:   cmp.Or(strings.TrimSpace(version), "0.0.0-dev"),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if commit := firstKnown(gitCommit, vcs["vcs.revision"]); commit != "" {
		info.Commit = shortenCommit(commit)
	}
	if t, ok := normalizeBuildTimeUTC(firstKnown(buildDate, vcs["vcs.time"])); ok {
		info.BuildTime = t
	}
	return info
}

func firstKnown(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" && v != "unknown" {
			return v
		}
	}
	return ""
}

func shortenCommit(commit string) string {
	const n = 12
	if len(commit) > n {
		return commit[:n]
	}
	return commit
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func vcsSettings() map[string]string {
	out := map[string]string{}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	for _, s := range bi.Settings {
		out[s.Key] = s.Value
	}
	return out
}

func printUsage() {
	fmt.Print(`fwup - ipset state daemon

Usage:
  fwup <noun> <action> [flags]

Core Resources (Nouns):
  system    Daemon lifecycle and interpreter state
  config    Configuration validation
  set       Managed ipsets and their members

System Commands:
  system start      Run the daemon in the foreground
  system status     Show interpreter and store status
  system flush      Close the current interpreter batch
  system resync     Replay every stored set
  system watch      Real-time monitoring TUI

Config Commands:
  config check      Validate configuration against this host
  config show       Print the resolved configuration

Set Commands:
  set list                     List sets
  set show <name>              Show a set with its members
  set create <name> [flags]    Create a set
  set delete <name>            Delete a set
  set add <name> <member>...   Add members
  set del <name> <member>      Remove a member

General:
  start, watch      Aliases for system start / system watch
  version           Show version information
  help              Show this help message

Use 'fwup <noun> help' for resource-specific flags.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}
