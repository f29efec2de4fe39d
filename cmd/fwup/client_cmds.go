package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/fwup/internal/api"
	"github.com/mattjoyce/fwup/internal/config"
	"github.com/mattjoyce/fwup/internal/ipset"
	"github.com/mattjoyce/fwup/internal/tui/watch"
)

const defaultAPIURL = "http://127.0.0.1:8090"

// clientFlags are shared by every command that talks to a running daemon.
type clientFlags struct {
	apiURL     string
	apiKey     string
	configPath string
}

func (c *clientFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.apiURL, "api-url", os.Getenv("FWUP_API_URL"), "Daemon API URL (default from config or "+defaultAPIURL+")")
	fs.StringVar(&c.apiKey, "api-key", os.Getenv("FWUP_API_KEY"), "API bearer token (or FWUP_API_KEY)")
	fs.StringVar(&c.configPath, "config", "", "Read api.listen and api.auth.api_key from this config")
}

// client fills missing URL and key from the config file when one is named
// or discoverable.
func (c *clientFlags) client() (*api.Client, error) {
	if c.apiURL == "" || c.apiKey == "" {
		path := c.configPath
		if path == "" {
			path, _ = config.DiscoverConfig()
		}
		if path != "" {
			cfg, err := config.Load(path)
			if err != nil {
				if c.configPath != "" {
					return nil, err
				}
			} else {
				if c.apiURL == "" {
					c.apiURL = "http://" + cfg.API.Listen
				}
				if c.apiKey == "" {
					c.apiKey = cfg.API.Auth.APIKey
				}
			}
		}
	}
	if c.apiURL == "" {
		c.apiURL = defaultAPIURL
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("API key required. Use --api-key or FWUP_API_KEY env var")
	}
	return api.NewClient(c.apiURL, c.apiKey), nil
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

// --- system ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		return runSystemStatus(actionArgs)
	case "flush":
		return runSystemSimple("flush", actionArgs, (*api.Client).Flush)
	case "resync":
		return runSystemSimple("resync", actionArgs, (*api.Client).Resync)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runSystemStatus(args []string) int {
	var cf clientFlags
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	cf.register(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	c, err := cf.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := requestContext()
	defer cancel()
	st, err := c.Status(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(st)
	}

	q := st.Queue
	state := "idle"
	switch {
	case q.Broken:
		state = "broken"
	case q.Active:
		state = fmt.Sprintf("active (pid %d)", q.PID)
	}
	fmt.Printf("interpreter: %s\n", state)
	fmt.Printf("sets: %d\n", st.Sets)
	fmt.Printf("starts: %d  written: %d  dropped: %d  draining: %d\n",
		q.Starts, q.DirectivesWritten, q.DirectivesDropped, q.Draining)
	if st.LastReplayAt != nil {
		fmt.Printf("last replay: %s (%s)\n", st.LastReplayAt.Format(time.RFC3339), st.LastReplayID)
	}
	fmt.Printf("uptime: %s\n", time.Duration(st.UptimeSeconds)*time.Second)
	if q.Broken {
		return 2
	}
	return 0
}

func runSystemSimple(name string, args []string, call func(*api.Client, context.Context) error) int {
	var cf clientFlags
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	c, err := cf.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := requestContext()
	defer cancel()
	if err := call(c, ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", name, err)
		return 1
	}
	fmt.Printf("%s requested\n", name)
	return 0
}

func runWatch(args []string) int {
	var cf clientFlags
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	c, err := cf.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	p := tea.NewProgram(watch.New(c))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// --- set ---

func runSetNoun(args []string) int {
	if len(args) < 1 {
		printSetNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSetNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	var cf clientFlags
	fs := flag.NewFlagSet("set "+action, flag.ContinueOnError)
	cf.register(fs)
	jsonOut := fs.Bool("json", false, "Output as JSON")
	var setType, family string
	var maxElem int
	if action == "create" {
		fs.StringVar(&setType, "type", string(ipset.HashIP), "Set type (hash:ip, hash:net)")
		fs.StringVar(&family, "family", string(ipset.Inet), "Address family (inet, inet6)")
		fs.IntVar(&maxElem, "maxelem", ipset.DefaultMaxElem, "Maximum number of members")
	}
	if err := fs.Parse(actionArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	pos := fs.Args()

	need := map[string]int{"list": 0, "show": 1, "create": 1, "delete": 1, "add": 2, "del": 2}
	want, known := need[action]
	if !known {
		fmt.Fprintf(os.Stderr, "Unknown set action: %s\n", action)
		return 1
	}
	if len(pos) < want || (action != "add" && len(pos) > want) {
		printSetNounHelp(os.Stderr)
		return 1
	}

	c, err := cf.client()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := requestContext()
	defer cancel()

	switch action {
	case "list":
		sets, err := c.ListSets(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
			return 1
		}
		if *jsonOut {
			return printJSON(sets)
		}
		for _, s := range sets {
			fmt.Printf("%-31s %-8s %-6s %d\n", s.Name, s.Type, s.Family, s.MaxElem)
		}
	case "show":
		view, err := c.GetSet(ctx, pos[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Show failed: %v\n", err)
			return 1
		}
		if *jsonOut {
			return printJSON(view)
		}
		fmt.Printf("%s %s %s maxelem %d\n", view.Name, view.Type, view.Family, view.MaxElem)
		fmt.Printf("digest: %s\n", view.Digest)
		for _, m := range view.Members {
			fmt.Printf("  %s\n", m)
		}
	case "create":
		set := ipset.Set{Name: pos[0], Type: ipset.Type(setType), Family: ipset.Family(family), MaxElem: maxElem}
		created, err := c.PutSet(ctx, set)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Create failed: %v\n", err)
			return 1
		}
		if created {
			fmt.Printf("created %s\n", set.Name)
		} else {
			fmt.Printf("%s already exists\n", set.Name)
		}
	case "delete":
		if err := c.DeleteSet(ctx, pos[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Delete failed: %v\n", err)
			return 1
		}
		fmt.Printf("deleted %s\n", pos[0])
	case "add":
		added, err := c.AddMembers(ctx, pos[0], pos[1:])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Add failed: %v\n", err)
			return 1
		}
		fmt.Printf("added %d of %d to %s", len(added), len(pos)-1, pos[0])
		if len(added) > 0 {
			fmt.Printf(": %s", strings.Join(added, " "))
		}
		fmt.Println()
	case "del":
		removed, err := c.RemoveMember(ctx, pos[0], pos[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Remove failed: %v\n", err)
			return 1
		}
		if !removed {
			fmt.Printf("%s was not a member of %s\n", pos[1], pos[0])
			return 0
		}
		fmt.Printf("removed %s from %s\n", pos[1], pos[0])
	}
	return 0
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: fwup system <action>")
	fmt.Fprintln(w, "Actions: start, status, flush, resync, watch")
}

func printSetNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: fwup set <action> [flags] [args]")
	fmt.Fprintln(w, "Actions:")
	fmt.Fprintln(w, "  list")
	fmt.Fprintln(w, "  show <name>")
	fmt.Fprintln(w, "  create <name> [--type hash:ip|hash:net] [--family inet|inet6] [--maxelem N]")
	fmt.Fprintln(w, "  delete <name>")
	fmt.Fprintln(w, "  add <name> <member>...")
	fmt.Fprintln(w, "  del <name> <member>")
	fmt.Fprintln(w, "Client flags: --api-url URL --api-key KEY --config PATH --json")
}

func printSystemStartHelp() {
	fmt.Println("Usage: fwup system start [--config PATH]")
	fmt.Println("Run the daemon in the foreground.")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: fwup system watch [flags]")
	fmt.Println()
	fmt.Println("Real-time monitoring TUI: interpreter state, sets and event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Daemon API URL (default: from config, else " + defaultAPIURL + ")")
	fmt.Println("  --api-key KEY    API bearer token (or FWUP_API_KEY env var)")
	fmt.Println("  --config PATH    Read API settings from this config")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Scroll sets")
	fmt.Println("  r                Refresh sets")
}
