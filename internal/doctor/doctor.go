// Package doctor checks a loaded fwup configuration against the host it is
// about to run on.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/mattjoyce/fwup/internal/config"
	"github.com/mattjoyce/fwup/internal/lock"
	"github.com/mattjoyce/fwup/internal/storage"
)

const minAPIKeyLen = 16

// Result holds the outcome of a validation run.
type Result struct {
	Valid       bool    `json:"valid"`
	Fingerprint string  `json:"fingerprint,omitempty"`
	Errors      []Issue `json:"errors,omitempty"`
	Warnings    []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against the local system.
type Doctor struct {
	cfg  *config.Config
	path string

	// Swapped in tests.
	statFile  func(string) (os.FileInfo, error)
	checkPath func(string) error
	pidAlive  func(int) bool
}

// New creates a Doctor for a config loaded from path.
func New(cfg *config.Config, path string) *Doctor {
	return &Doctor{
		cfg:       cfg,
		path:      path,
		statFile:  os.Stat,
		checkPath: storage.CheckPath,
		pidAlive:  pidAlive,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	if d.path != "" {
		if fp, err := config.Fingerprint(d.path); err == nil {
			r.Fingerprint = fp
		} else {
			d.addWarning(r, "config", "", err.Error())
		}
	}

	d.validateInterpreter(r)
	d.validateState(r)
	d.validateAPIConfig(r)
	d.warnTimings(r)
	d.warnRunningInstance(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateInterpreter checks that the restore binary exists and is executable.
func (d *Doctor) validateInterpreter(r *Result) {
	path := d.cfg.Interpreter.Path
	info, err := d.statFile(path)
	if err != nil {
		d.addError(r, "interpreter", "interpreter.path", fmt.Sprintf("%s: %v", path, err))
		return
	}
	if info.IsDir() {
		d.addError(r, "interpreter", "interpreter.path", fmt.Sprintf("%s is a directory", path))
		return
	}
	if info.Mode().Perm()&0o111 == 0 {
		d.addError(r, "interpreter", "interpreter.path", fmt.Sprintf("%s is not executable", path))
	}
	if os.Geteuid() != 0 {
		d.addWarning(r, "interpreter", "", "not running as root; ipset restore will likely be refused")
	}
}

func (d *Doctor) validateState(r *Result) {
	if err := d.checkPath(d.cfg.State.Path); err != nil {
		d.addError(r, "state", "state.path", err.Error())
	}
}

func (d *Doctor) validateAPIConfig(r *Result) {
	api := d.cfg.API
	if !api.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(api.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", api.Listen, err))
		return
	}
	if len(api.Auth.APIKey) < minAPIKeyLen {
		d.addWarning(r, "api", "api.auth.api_key", fmt.Sprintf("key is shorter than %d characters", minAPIKeyLen))
	}
	ip := net.ParseIP(host)
	if host == "" || (ip != nil && !ip.IsLoopback()) {
		d.addWarning(r, "api", "api.listen", "listening beyond loopback; the API can rewrite firewall sets")
	}
}

// warnTimings flags interpreter timings that defeat batching or retry.
func (d *Doctor) warnTimings(r *Result) {
	in := d.cfg.Interpreter
	if in.FlushInterval >= in.RetryInterval {
		d.addWarning(r, "interpreter", "interpreter.flush_interval",
			fmt.Sprintf("flush interval %s is not shorter than retry interval %s", in.FlushInterval, in.RetryInterval))
	}
}

func (d *Doctor) warnRunningInstance(r *Result) {
	pid, err := lock.ReadPID(d.cfg.LockFile())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			d.addWarning(r, "lock", "", err.Error())
		}
		return
	}
	if d.pidAlive(pid) {
		d.addWarning(r, "lock", "", fmt.Sprintf("fwup already running with pid %d", pid))
	}
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}
	if r.Fingerprint != "" {
		fmt.Fprintf(&b, "  fingerprint %s\n", r.Fingerprint)
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
